package sorter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chmdznr/orgphotos/internal/auth"
	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/internal/remote/remotetest"
	"github.com/chmdznr/orgphotos/pkg/models"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type memJournal struct {
	mu     sync.Mutex
	passes []models.PassRecord
	moves  []models.MoveRecord
}

func (j *memJournal) RecordPass(p models.PassRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.passes = append(j.passes, p)
	return nil
}

func (j *memJournal) RecordMove(m models.MoveRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.moves = append(j.moves, m)
	return nil
}

type okRefresher struct{ calls int }

func (r *okRefresher) Refresh(context.Context) error {
	r.calls++
	return nil
}

func unauthorized() error {
	return &remote.StatusError{StatusCode: http.StatusUnauthorized}
}

func inbox() []models.RemoteFile {
	return []models.RemoteFile{
		{
			ID:            "A",
			Name:          "IMG_20210714_153000.jpg",
			ParentPath:    "Inbox",
			FSCreated:     time.Date(2021, 7, 14, 0, 0, 0, 0, time.UTC),
			FSModified:    time.Date(2021, 7, 14, 0, 0, 0, 0, time.UTC),
			RemoteCreated: time.Date(2021, 7, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "B",
			Name:          "b.jpg",
			ParentPath:    "Inbox",
			FSCreated:     time.Date(2020, 2, 2, 0, 0, 0, 0, time.UTC),
			FSModified:    time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC),
			RemoteCreated: time.Date(2020, 2, 4, 0, 0, 0, 0, time.UTC),
		},
	}
}

func newSorter(store remote.Store, opts ...Option) *Sorter {
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(Config{SourceDir: "Inbox", TargetDir: "OrgPhotos", Interval: time.Minute}, store, opts...)
}

func TestRunPassMovesEverything(t *testing.T) {
	store := remotetest.New(inbox()...)
	j := &memJournal{}

	rec := newSorter(store, WithJournal(j)).RunPass(context.Background())
	if rec.Listed != 2 || rec.Moved != 2 || rec.Aborted {
		t.Fatalf("pass = %+v", rec)
	}
	if a, _ := store.Get("A"); a.ParentPath != "OrgPhotos/2021/07" {
		t.Errorf("A in %q", a.ParentPath)
	}
	if b, _ := store.Get("B"); b.ParentPath != "OrgPhotos/2020/02" {
		t.Errorf("B in %q", b.ParentPath)
	}
	if len(j.passes) != 1 || len(j.moves) != 2 {
		t.Fatalf("journal passes=%d moves=%d", len(j.passes), len(j.moves))
	}
	if j.moves[0].Tier != models.TierFilename || j.moves[0].TargetPath != "OrgPhotos/2021/07/IMG_20210714_153000.jpg" {
		t.Errorf("first move = %+v", j.moves[0])
	}
	if j.moves[0].PassID != rec.ID || rec.ID == "" {
		t.Errorf("pass id not propagated: %q vs %q", j.moves[0].PassID, rec.ID)
	}
}

func TestSecondRunMakesNoWrites(t *testing.T) {
	store := remotetest.New(inbox()...)
	s := newSorter(store)
	s.RunPass(context.Background())
	calls := store.MoveCalls

	// point a sorter at the sorted month folder: everything is already in place
	sorted := New(Config{SourceDir: "OrgPhotos/2021/07", TargetDir: "OrgPhotos"}, store, WithClock(clock))
	rec := sorted.RunPass(context.Background())
	if rec.AlreadySorted != 1 || rec.Moved != 0 {
		t.Errorf("pass = %+v", rec)
	}
	if store.MoveCalls != calls {
		t.Errorf("move calls went from %d to %d", calls, store.MoveCalls)
	}
}

func TestPerFileFailureDoesNotAbort(t *testing.T) {
	store := remotetest.New(inbox()...)
	store.MoveErrs = []error{&remote.StatusError{StatusCode: http.StatusInternalServerError}}

	rec := newSorter(store).RunPass(context.Background())
	if rec.Failed != 1 || rec.Moved != 1 || rec.Aborted {
		t.Errorf("pass = %+v", rec)
	}
}

func TestVanishedFileIsSkipped(t *testing.T) {
	store := remotetest.New(inbox()...)
	store.MoveErrs = []error{&remote.StatusError{StatusCode: http.StatusNotFound}}

	rec := newSorter(store).RunPass(context.Background())
	if rec.Vanished != 1 || rec.Moved != 1 || rec.Failed != 0 {
		t.Errorf("pass = %+v", rec)
	}
}

func TestListFailureEndsPass(t *testing.T) {
	store := remotetest.New(inbox()...)
	store.ListErrs = []error{errors.New("gateway timeout")}

	rec := newSorter(store).RunPass(context.Background())
	if !rec.Aborted || rec.Error == "" || store.MoveCalls != 0 {
		t.Errorf("pass = %+v, moves = %d", rec, store.MoveCalls)
	}
}

func TestAuthRetryLoggedAsSingleMove(t *testing.T) {
	store := remotetest.New(inbox()[0])
	store.MoveErrs = []error{unauthorized()}
	ref := &okRefresher{}
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	j := &memJournal{}

	s := newSorter(auth.NewGate(store, ref, logger), WithLogger(logger), WithJournal(j))
	rec := s.RunPass(context.Background())

	if rec.Moved != 1 || rec.Failed != 0 {
		t.Fatalf("pass = %+v", rec)
	}
	if store.MoveCalls != 2 || len(store.Moves) != 1 || ref.calls != 1 {
		t.Errorf("move calls=%d applied=%d refreshes=%d", store.MoveCalls, len(store.Moves), ref.calls)
	}
	if n := logs.FilterMessage("Moved").Len(); n != 1 {
		t.Errorf("Moved logged %d times; want 1", n)
	}
	if len(j.moves) != 1 || j.moves[0].Outcome != models.OutcomeMoved {
		t.Errorf("journal moves = %+v", j.moves)
	}
}

func TestAuthFailureAbortsPassThenRecovers(t *testing.T) {
	store := remotetest.New(inbox()...)
	store.MoveErrs = []error{unauthorized(), unauthorized()}
	gate := auth.NewGate(store, &okRefresher{}, nil)
	j := &memJournal{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sleeps []time.Duration
	sleeper := func(ctx context.Context, d time.Duration, _ <-chan struct{}) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	s := newSorter(gate, WithJournal(j), WithSleeper(sleeper))
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(j.passes) != 2 {
		t.Fatalf("passes = %d; want 2", len(j.passes))
	}
	first, second := j.passes[0], j.passes[1]
	if !first.Aborted || first.Failed != 1 || first.Moved != 0 {
		t.Errorf("first pass = %+v", first)
	}
	if second.Aborted || second.Moved != 2 {
		t.Errorf("second pass = %+v", second)
	}
	if len(sleeps) != 2 || sleeps[0] != time.Minute {
		t.Errorf("sleeps = %v", sleeps)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v; want idle", s.State())
	}
}

func TestRunBoundedBySleeper(t *testing.T) {
	store := remotetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var passes int
	obs := &countingObserver{onEnd: func() { passes++ }}
	sleeper := func(ctx context.Context, d time.Duration, _ <-chan struct{}) error {
		if passes == 3 {
			cancel()
		}
		return ctx.Err()
	}

	if err := newSorter(store, WithObserver(obs), WithSleeper(sleeper)).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if passes != 3 || store.ListCalls != 3 {
		t.Errorf("passes = %d, lists = %d; want 3", passes, store.ListCalls)
	}
}

type countingObserver struct {
	starts int
	files  []models.MoveRecord
	onEnd  func()
}

func (o *countingObserver) OnPassStart(string, int) { o.starts++ }

func (o *countingObserver) OnFileDone(rec models.MoveRecord) { o.files = append(o.files, rec) }

func (o *countingObserver) OnPassEnd(models.PassRecord) {
	if o.onEnd != nil {
		o.onEnd()
	}
}

func TestObserverSeesEveryFile(t *testing.T) {
	obs := &countingObserver{}
	newSorter(remotetest.New(inbox()...), WithObserver(obs)).RunPass(context.Background())
	if obs.starts != 1 || len(obs.files) != 2 {
		t.Errorf("starts=%d files=%d", obs.starts, len(obs.files))
	}
}

func TestPreviewDoesNotMove(t *testing.T) {
	store := remotetest.New(inbox()...)
	plans, err := newSorter(store).Preview(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 || store.MoveCalls != 0 {
		t.Fatalf("plans=%d moves=%d", len(plans), store.MoveCalls)
	}
	if plans[1].TargetPath != "OrgPhotos/2020/02/b.jpg" || plans[1].Outcome != models.OutcomePlanned {
		t.Errorf("plan = %+v", plans[1])
	}
}

func TestFutureDatesGoUnsorted(t *testing.T) {
	future := time.Date(2075, 1, 1, 0, 0, 0, 0, time.UTC)
	store := remotetest.New(models.RemoteFile{
		ID:            "F",
		Name:          "DSC_0001.JPG",
		ParentPath:    "Inbox",
		PhotoTaken:    "2075-01-01T00:00:00Z",
		FSCreated:     future,
		FSModified:    future,
		RemoteCreated: future,
	})
	rec := newSorter(store).RunPass(context.Background())
	if rec.Unsorted != 1 {
		t.Fatalf("pass = %+v", rec)
	}
	if f, _ := store.Get("F"); f.ParentPath != "OrgPhotos/Unsorted" {
		t.Errorf("ParentPath = %q", f.ParentPath)
	}
}

func TestSleepWakesEarly(t *testing.T) {
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	start := time.Now()
	if err := Sleep(context.Background(), time.Hour, wake); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep ignored the wake channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v; want context.Canceled", err)
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	s := newSorter(remotetest.New())
	s.Wake()
	s.Wake()
	select {
	case <-s.wake:
	default:
		t.Fatal("wake not delivered")
	}
}

func TestProgressBarCountsMoves(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf)
	newSorter(remotetest.New(inbox()...), WithObserver(bar)).RunPass(context.Background())
	if bar.Moved() != 2 {
		t.Errorf("Moved() = %d; want 2", bar.Moved())
	}
}
