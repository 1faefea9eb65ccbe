package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/pkg/models"
)

// ErrAuthFailed marks an authorization failure that survived one refresh.
// It ends the current pass; the next pass tries again.
var ErrAuthFailed = errors.New("authorization failed after refresh")

// Gate wraps a Store and retries each call once after refreshing credentials
// when the store answers unauthorized. It never loops on refresh.
type Gate struct {
	inner     remote.Store
	refresher remote.Refresher
	logger    *zap.Logger
}

var _ remote.Store = (*Gate)(nil)

// NewGate returns a gate over inner. refresher owns the credential state.
func NewGate(inner remote.Store, refresher remote.Refresher, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{inner: inner, refresher: refresher, logger: logger}
}

func (g *Gate) List(ctx context.Context, folder string) ([]models.RemoteFile, error) {
	var files []models.RemoteFile
	err := g.do(ctx, "list "+folder, func() error {
		var err error
		files, err = g.inner.List(ctx, folder)
		return err
	})
	return files, err
}

func (g *Gate) Move(ctx context.Context, plan models.MovePlan) error {
	return g.do(ctx, "move "+plan.ItemID, func() error {
		return g.inner.Move(ctx, plan)
	})
}

func (g *Gate) do(ctx context.Context, op string, call func() error) error {
	err := call()
	if errors.Is(err, remote.ErrNoCredentials) {
		// the provider already tried its refresh
		g.logger.Error("no credentials available", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w: %w", op, ErrAuthFailed, err)
	}
	if !errors.Is(err, remote.ErrUnauthorized) {
		return err
	}

	g.logger.Info("access token rejected, refreshing and retrying", zap.String("op", op))
	if g.refresher == nil {
		return fmt.Errorf("%s: %w: %w", op, ErrAuthFailed, err)
	}
	if rerr := g.refresher.Refresh(ctx); rerr != nil {
		g.logger.Error("credential refresh failed", zap.String("op", op), zap.Error(rerr))
		return fmt.Errorf("%s: %w: %w", op, ErrAuthFailed, rerr)
	}

	err = call()
	if errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrNoCredentials) {
		g.logger.Error("still unauthorized after refresh", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w: %w", op, ErrAuthFailed, err)
	}
	return err
}
