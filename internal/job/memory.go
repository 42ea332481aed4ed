package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses maps guarded by a RWMutex; all state is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	byUser map[int64]string
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*Job),
		byUser: make(map[int64]string),
	}
}

// TryCreate implements Store. A terminal job still awaiting removal does
// not block a new submission; its entry stays reachable by ID until Remove.
func (s *MemoryStore) TryCreate(_ context.Context, userID int64, src SourceRef, presetKey string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID, ok := s.byUser[userID]; ok {
		if existing, ok := s.jobs[jobID]; ok && !existing.IsTerminal() {
			return View{}, ErrAlreadyActive
		}
	}

	j := New(userID, src, presetKey)
	s.jobs[j.ID] = j
	s.byUser[userID] = j.ID
	return j.View(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID int64) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[s.byUser[userID]]
	if !ok {
		return View{}, false
	}
	return j.View(), true
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, jobID string) (View, error) {
	j, err := s.lookup(jobID)
	if err != nil {
		return View{}, err
	}
	return j.View(), nil
}

// List implements Store. Jobs are ordered by creation.
func (s *MemoryStore) List(_ context.Context) []View {
	s.mu.RLock()
	result := make([]View, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j.View())
	}
	s.mu.RUnlock()

	// IDs are ULID based and therefore sort by creation time.
	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result
}

// UpdateState implements Store.
func (s *MemoryStore) UpdateState(_ context.Context, jobID string, state State) error {
	j, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	return j.TransitionTo(state)
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, jobID string, reason string) error {
	j, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	return j.Fail(reason)
}

// UpdateProgress implements Store.
func (s *MemoryStore) UpdateProgress(_ context.Context, jobID string, percent float64) error {
	j, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	j.UpdateProgress(percent)
	return nil
}

// SetPaths implements Store.
func (s *MemoryStore) SetPaths(_ context.Context, jobID, inputPath, outputPath string) error {
	j, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	j.SetPaths(inputPath, outputPath)
	return nil
}

// SetInputBytes implements Store.
func (s *MemoryStore) SetInputBytes(_ context.Context, jobID string, n int64) error {
	j, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	j.SetInputBytes(n)
	return nil
}

// RequestCancel implements Store.
func (s *MemoryStore) RequestCancel(_ context.Context, userID int64) error {
	s.mu.RLock()
	j, ok := s.jobs[s.byUser[userID]]
	s.mu.RUnlock()
	if !ok || j.IsTerminal() {
		return ErrNotFound
	}
	j.RequestCancel()
	return nil
}

// CancelRequested implements Store.
func (s *MemoryStore) CancelRequested(_ context.Context, jobID string) bool {
	j, err := s.lookup(jobID)
	if err != nil {
		return false
	}
	return j.IsCancelRequested()
}

// Cancelled implements Store.
func (s *MemoryStore) Cancelled(_ context.Context, jobID string) (<-chan struct{}, error) {
	j, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return j.Cancelled(), nil
}

// Remove implements Store. The user index is only cleared when it still
// points at this job, so a newer submission is never dropped.
func (s *MemoryStore) Remove(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !j.IsTerminal() {
		return ErrNotTerminal
	}
	delete(s.jobs, jobID)
	if s.byUser[j.UserID] == jobID {
		delete(s.byUser, j.UserID)
	}
	return nil
}

// Len returns the number of jobs currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryStore) lookup(jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}
