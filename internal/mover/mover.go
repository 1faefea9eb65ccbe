// Package mover applies a MovePlan against the remote store.
package mover

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chmdznr/orgphotos/internal/auth"
	"github.com/chmdznr/orgphotos/internal/planner"
	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/pkg/models"
)

// Executor issues at most one move per plan.
type Executor struct {
	store  remote.Store
	logger *zap.Logger
}

// New returns an executor; store should already be wrapped by the credential gate.
func New(store remote.Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, logger: logger}
}

// Execute moves f according to plan.
//
// A file already at its destination is left alone without a remote call.
// ErrNotFound yields OutcomeVanished, any other failure OutcomeFailed; in both
// cases the error is returned for the journal and the caller moves on. Only an
// error wrapping auth.ErrAuthFailed should end the pass.
func (e *Executor) Execute(ctx context.Context, f models.RemoteFile, plan models.MovePlan) (models.Outcome, error) {
	log := e.logger.With(
		zap.String("item", f.ID),
		zap.String("name", f.Name),
		zap.String("target", plan.TargetDir),
	)

	if planner.InPlace(plan) {
		log.Debug("already in place")
		return models.OutcomeAlreadySorted, nil
	}

	if plan.Conflict == "" {
		plan.Conflict = models.ConflictReplace
	}
	err := e.store.Move(ctx, plan)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrAuthFailed):
		log.Error("move failed: credentials rejected", zap.Error(err))
		return models.OutcomeFailed, err
	case errors.Is(err, remote.ErrNotFound):
		log.Warn("item vanished before move, skipping", zap.Error(err))
		return models.OutcomeVanished, err
	default:
		log.Error("move failed", zap.Error(err))
		return models.OutcomeFailed, err
	}

	res := plan.Resolution
	if plan.Unsorted {
		log.Warn("Unsorted",
			zap.String("method", res.Method),
			zap.String("reason", res.Reason),
		)
		return models.OutcomeUnsorted, nil
	}
	log.Info("Moved",
		zap.Int("tier", int(res.Tier)),
		zap.String("method", res.Method),
		zap.String("date", res.When.UTC().Format(time.RFC3339)),
	)
	return models.OutcomeMoved, nil
}
