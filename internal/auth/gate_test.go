package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/internal/remote/graph"
	"github.com/chmdznr/orgphotos/pkg/models"
)

// scriptedStore answers Move with the queued errors, then nil.
type scriptedStore struct {
	moveErrs []error
	listErrs []error
	moves    int
	lists    int
}

func (s *scriptedStore) List(ctx context.Context, folder string) ([]models.RemoteFile, error) {
	s.lists++
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []models.RemoteFile{{ID: "1", Name: "a.jpg"}}, nil
}

func (s *scriptedStore) Move(ctx context.Context, plan models.MovePlan) error {
	s.moves++
	if len(s.moveErrs) > 0 {
		err := s.moveErrs[0]
		s.moveErrs = s.moveErrs[1:]
		return err
	}
	return nil
}

type countingRefresher struct {
	err   error
	calls int
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls++
	return r.err
}

var errBoom = errors.New("boom")

func unauthorized() error {
	return &remote.StatusError{Op: "move", StatusCode: http.StatusUnauthorized, Code: "InvalidAuthenticationToken"}
}

func TestGateMove(t *testing.T) {
	tests := []struct {
		name       string
		moveErrs   []error
		refreshErr error
		wantMoves  int
		wantRefs   int
		wantErr    error
	}{
		{
			name:      "success passes through",
			wantMoves: 1,
		},
		{
			name:      "non auth error is not retried",
			moveErrs:  []error{errBoom},
			wantMoves: 1,
			wantErr:   errBoom,
		},
		{
			name:      "unauthorized then success",
			moveErrs:  []error{unauthorized()},
			wantMoves: 2,
			wantRefs:  1,
		},
		{
			name:      "unauthorized twice is fatal",
			moveErrs:  []error{unauthorized(), unauthorized(), unauthorized()},
			wantMoves: 2,
			wantRefs:  1,
			wantErr:   ErrAuthFailed,
		},
		{
			name:       "refresh failure is fatal without retry",
			moveErrs:   []error{unauthorized()},
			refreshErr: errors.New("invalid_grant"),
			wantMoves:  1,
			wantRefs:   1,
			wantErr:    ErrAuthFailed,
		},
		{
			name:      "missing credentials fail without another refresh",
			moveErrs:  []error{fmt.Errorf("move: %w", remote.ErrNoCredentials)},
			wantMoves: 1,
			wantErr:   ErrAuthFailed,
		},
		{
			name:      "missing credentials on retry is fatal",
			moveErrs:  []error{unauthorized(), fmt.Errorf("move: %w", remote.ErrNoCredentials)},
			wantMoves: 2,
			wantRefs:  1,
			wantErr:   ErrAuthFailed,
		},
		{
			name:      "not found on retry stays not found",
			moveErrs:  []error{unauthorized(), &remote.StatusError{StatusCode: http.StatusNotFound}},
			wantMoves: 2,
			wantRefs:  1,
			wantErr:   remote.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &scriptedStore{moveErrs: tt.moveErrs}
			ref := &countingRefresher{err: tt.refreshErr}
			g := NewGate(store, ref, zap.NewNop())

			err := g.Move(context.Background(), models.MovePlan{ItemID: "1"})
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v; want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if store.moves != tt.wantMoves {
				t.Errorf("moves = %d; want %d", store.moves, tt.wantMoves)
			}
			if ref.calls != tt.wantRefs {
				t.Errorf("refreshes = %d; want %d", ref.calls, tt.wantRefs)
			}
			if errors.Is(err, ErrAuthFailed) && errors.Is(err, remote.ErrNotFound) {
				t.Error("auth failure must not look like not found")
			}
		})
	}
}

func TestGateList(t *testing.T) {
	store := &scriptedStore{listErrs: []error{unauthorized()}}
	ref := &countingRefresher{}
	g := NewGate(store, ref, nil)

	files, err := g.List(context.Background(), "Inbox")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 1 || store.lists != 2 || ref.calls != 1 {
		t.Errorf("files=%d lists=%d refreshes=%d", len(files), store.lists, ref.calls)
	}
}

func TestGateWithoutRefresher(t *testing.T) {
	store := &scriptedStore{moveErrs: []error{unauthorized()}}
	err := NewGate(store, nil, nil).Move(context.Background(), models.MovePlan{})
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v; want ErrAuthFailed", err)
	}
	if store.moves != 1 {
		t.Errorf("moves = %d; want 1", store.moves)
	}
}

func TestGateSingleExchangeOnRevokedToken(t *testing.T) {
	idp, hits := tokenServer(t, "R1", http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"refresh token revoked"}`)
	drive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("drive called without a token: %s %s", r.Method, r.URL.Path)
	}))
	t.Cleanup(drive.Close)

	o, err := NewOAuth(OAuthConfig{
		ClientID:   "client-1",
		TokenFile:  writeToken(t, "R1"),
		TokenURL:   idp.URL,
		HTTPClient: idp.Client(),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOAuth() error = %v", err)
	}
	g := NewGate(graph.New(graph.Config{BaseURL: drive.URL}, o, nil), o, zap.NewNop())

	_, err = g.List(context.Background(), "Inbox")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v; want ErrAuthFailed", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("token endpoint hit %d times; want 1", n)
	}
}
