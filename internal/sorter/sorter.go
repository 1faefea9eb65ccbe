// Package sorter drives the scan loop: list the source folder, resolve a date
// for every file, move it into place, then idle until the next pass.
package sorter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chmdznr/orgphotos/internal/auth"
	"github.com/chmdznr/orgphotos/internal/dates"
	"github.com/chmdznr/orgphotos/internal/mover"
	"github.com/chmdznr/orgphotos/internal/planner"
	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/pkg/models"
)

// State of the loop.
type State int

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// Journal persists pass and move records. *db.DB satisfies it.
type Journal interface {
	RecordPass(models.PassRecord) error
	RecordMove(models.MoveRecord) error
}

// Observer is notified as a pass progresses. Calls happen on the loop goroutine.
type Observer interface {
	OnPassStart(passID string, total int)
	OnFileDone(rec models.MoveRecord)
	OnPassEnd(rec models.PassRecord)
}

// Sleeper blocks for d, returning early when wake fires. It returns ctx.Err()
// if the context ends first.
type Sleeper func(ctx context.Context, d time.Duration, wake <-chan struct{}) error

// Config for New.
type Config struct {
	SourceDir string
	TargetDir string
	Interval  time.Duration
}

// DefaultInterval is the idle time between passes.
const DefaultInterval = 20 * time.Second

// Option customizes a Sorter.
type Option func(*Sorter)

func WithLogger(l *zap.Logger) Option {
	return func(s *Sorter) { s.logger = l }
}

func WithJournal(j Journal) Option {
	return func(s *Sorter) { s.journal = j }
}

func WithObserver(o Observer) Option {
	return func(s *Sorter) { s.observers = append(s.observers, o) }
}

// WithClock injects the clock used for validation and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sorter) { s.now = now }
}

// WithSleeper replaces the Idle wait, mostly for tests.
func WithSleeper(fn Sleeper) Option {
	return func(s *Sorter) { s.sleep = fn }
}

// WithExtractors replaces the default date pyramid.
func WithExtractors(ex []dates.Extractor) Option {
	return func(s *Sorter) { s.extractors = ex }
}

// Sorter owns one source folder and one target root.
type Sorter struct {
	store      remote.Store
	source     string
	interval   time.Duration
	extractors []dates.Extractor
	logger     *zap.Logger
	journal    Journal
	observers  []Observer
	now        func() time.Time
	sleep      Sleeper

	resolver *dates.Resolver
	planner  *planner.Planner
	exec     *mover.Executor

	wake  chan struct{}
	state State
}

// New builds a Sorter over store, which should already be wrapped by auth.Gate.
func New(cfg Config, store remote.Store, opts ...Option) *Sorter {
	s := &Sorter{
		store:    store,
		source:   planner.CleanDir(cfg.SourceDir),
		interval: cfg.Interval,
		logger:   zap.NewNop(),
		now:      time.Now,
		sleep:    Sleep,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.extractors == nil {
		s.extractors = dates.Default()
	}
	s.resolver = dates.NewResolverWith(s.extractors, s.logger, s.now)
	s.planner = planner.New(cfg.TargetDir)
	s.exec = mover.New(store, s.logger)
	return s
}

// State reports what the loop is doing. Only meaningful from the loop goroutine
// or after Run returned.
func (s *Sorter) State() State { return s.state }

// Wake ends the current Idle phase early. It never blocks.
func (s *Sorter) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run alternates Scanning and Idle until ctx is cancelled.
func (s *Sorter) Run(ctx context.Context) error {
	s.logger.Info("starting sorter",
		zap.String("source", s.source),
		zap.String("target", s.planner.Root()),
		zap.Duration("interval", s.interval),
	)
	for {
		s.state = StateScanning
		rec := s.RunPass(ctx)
		s.state = StateIdle
		if ctx.Err() != nil {
			s.logger.Info("sorter stopped")
			return nil
		}
		if rec.Aborted {
			s.logger.Warn("pass ended early, retrying next cycle", zap.String("error", rec.Error))
		}

		s.logger.Info("sleeping", zap.Duration("interval", s.interval))
		if err := s.sleep(ctx, s.interval, s.wake); err != nil {
			s.logger.Info("sorter stopped")
			return nil
		}
	}
}

// RunPass performs one Scanning phase. Per-file failures are counted and
// skipped; a listing failure or an unresolved auth failure ends the pass early.
func (s *Sorter) RunPass(ctx context.Context) models.PassRecord {
	rec := models.PassRecord{
		ID:        uuid.NewString(),
		StartedAt: s.now().UTC(),
	}
	log := s.logger.With(zap.String("pass", rec.ID))
	defer func() {
		rec.FinishedAt = s.now().UTC()
		s.recordPass(rec)
		log.Info("Completed run",
			zap.Int("listed", rec.Listed),
			zap.Int("moved", rec.Moved),
			zap.Int("unsorted", rec.Unsorted),
			zap.Int("already_sorted", rec.AlreadySorted),
			zap.Int("vanished", rec.Vanished),
			zap.Int("failed", rec.Failed),
			zap.Bool("aborted", rec.Aborted),
			zap.Duration("took", rec.FinishedAt.Sub(rec.StartedAt)),
		)
		for _, o := range s.observers {
			o.OnPassEnd(rec)
		}
	}()

	files, err := s.store.List(ctx, s.source)
	if err != nil {
		log.Error("cannot list source folder", zap.String("source", s.source), zap.Error(err))
		rec.Aborted = true
		rec.Error = err.Error()
		return rec
	}
	rec.Listed = len(files)
	log.Info("scanning", zap.String("source", s.source), zap.Int("files", len(files)))
	for _, o := range s.observers {
		o.OnPassStart(rec.ID, len(files))
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			rec.Aborted = true
			rec.Error = err.Error()
			return rec
		}

		res := s.resolver.Resolve(f)
		plan := s.planner.Plan(f, res)
		outcome, err := s.exec.Execute(ctx, f, plan)

		switch outcome {
		case models.OutcomeMoved:
			rec.Moved++
		case models.OutcomeUnsorted:
			rec.Unsorted++
		case models.OutcomeAlreadySorted:
			rec.AlreadySorted++
		case models.OutcomeVanished:
			rec.Vanished++
		default:
			rec.Failed++
		}
		s.recordMove(rec.ID, f, plan, outcome, err)

		if errors.Is(err, auth.ErrAuthFailed) {
			rec.Aborted = true
			rec.Error = err.Error()
			return rec
		}
	}
	return rec
}

// Preview resolves and plans every file in the source folder without moving anything.
func (s *Sorter) Preview(ctx context.Context) ([]models.MoveRecord, error) {
	files, err := s.store.List(ctx, s.source)
	if err != nil {
		return nil, err
	}
	out := make([]models.MoveRecord, 0, len(files))
	for _, f := range files {
		res := s.resolver.Resolve(f)
		plan := s.planner.Plan(f, res)
		outcome := models.OutcomePlanned
		if planner.InPlace(plan) {
			outcome = models.OutcomeAlreadySorted
		}
		out = append(out, s.moveRecord("", f, plan, outcome, nil))
	}
	return out, nil
}

func (s *Sorter) moveRecord(passID string, f models.RemoteFile, plan models.MovePlan, outcome models.Outcome, err error) models.MoveRecord {
	m := models.MoveRecord{
		PassID:     passID,
		ItemID:     f.ID,
		Name:       f.Name,
		SourcePath: f.Path(),
		TargetPath: plan.TargetPath(),
		Size:       f.Size,
		Tier:       plan.Resolution.Tier,
		Method:     plan.Resolution.Method,
		Outcome:    outcome,
		CreatedAt:  s.now().UTC(),
	}
	if plan.Resolution.Valid {
		t := plan.Resolution.When.UTC()
		m.ResolvedAt = &t
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

func (s *Sorter) recordMove(passID string, f models.RemoteFile, plan models.MovePlan, outcome models.Outcome, err error) {
	m := s.moveRecord(passID, f, plan, outcome, err)
	if s.journal != nil {
		if jerr := s.journal.RecordMove(m); jerr != nil {
			s.logger.Error("journal write failed", zap.String("item", f.ID), zap.Error(jerr))
		}
	}
	for _, o := range s.observers {
		o.OnFileDone(m)
	}
}

func (s *Sorter) recordPass(rec models.PassRecord) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordPass(rec); err != nil {
		s.logger.Error("journal write failed", zap.String("pass", rec.ID), zap.Error(err))
	}
}

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-t.C:
		return nil
	}
}
