// Package remotetest provides an in-memory remote.Store for tests.
package remotetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/pkg/models"
)

// Store keeps items by id. Move honors ConflictReplace by dropping whatever
// item already has the destination path.
type Store struct {
	mu    sync.Mutex
	items map[string]models.RemoteFile

	// MoveErrs and ListErrs are consumed one per call before the real work.
	MoveErrs []error
	ListErrs []error

	Moves     []models.MovePlan
	MoveCalls int
	ListCalls int
}

var _ remote.Store = (*Store)(nil)

// New returns a store holding files.
func New(files ...models.RemoteFile) *Store {
	s := &Store{items: make(map[string]models.RemoteFile)}
	for _, f := range files {
		s.Put(f)
	}
	return s
}

// Put adds or replaces an item.
func (s *Store) Put(f models.RemoteFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ParentPath = strings.Trim(f.ParentPath, "/")
	s.items[f.ID] = f
}

// Get returns the item with id.
func (s *Store) Get(id string) (models.RemoteFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.items[id]
	return f, ok
}

// Delete removes an item, simulating a concurrent user action.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// In returns the items directly inside folder, sorted by name.
func (s *Store) In(folder string) []models.RemoteFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in(strings.Trim(folder, "/"))
}

func (s *Store) in(folder string) []models.RemoteFile {
	var out []models.RemoteFile
	for _, f := range s.items {
		if f.ParentPath == folder {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Store) List(ctx context.Context, folder string) ([]models.RemoteFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if len(s.ListErrs) > 0 {
		err := s.ListErrs[0]
		s.ListErrs = s.ListErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.in(strings.Trim(folder, "/")), nil
}

func (s *Store) Move(ctx context.Context, plan models.MovePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MoveCalls++
	if len(s.MoveErrs) > 0 {
		err := s.MoveErrs[0]
		s.MoveErrs = s.MoveErrs[1:]
		if err != nil {
			return err
		}
	}
	f, ok := s.items[plan.ItemID]
	if !ok {
		return &remote.StatusError{Op: "move " + plan.ItemID, StatusCode: 404, Code: "itemNotFound"}
	}
	dir := strings.Trim(plan.TargetDir, "/")
	for id, other := range s.items {
		if id != f.ID && other.ParentPath == dir && other.Name == plan.Name {
			switch plan.Conflict {
			case models.ConflictFail:
				return &remote.StatusError{Op: "move " + plan.ItemID, StatusCode: 409, Code: "nameAlreadyExists"}
			default:
				delete(s.items, id)
			}
		}
	}
	f.ParentPath = dir
	f.Name = plan.Name
	s.items[f.ID] = f
	s.Moves = append(s.Moves, plan)
	return nil
}
