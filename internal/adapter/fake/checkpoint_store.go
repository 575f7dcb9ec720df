package fake

import (
	"context"
	"sync"
	"time"

	"github.com/roseeng/SyncTrayzor/internal/watcher"
)

var _ watcher.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore keeps watcher cursors in memory.
type CheckpointStore struct {
	CallRecorder
	mu      sync.Mutex
	cursors map[string]int64

	SetCursorErr func(name string, eventID int64) error
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{cursors: make(map[string]int64)}
}

func (s *CheckpointStore) SetCursor(_ context.Context, name string, eventID int64, _ time.Time) error {
	s.record("SetCursor", name, eventID)
	if s.SetCursorErr != nil {
		if err := s.SetCursorErr(name, eventID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = eventID
	return nil
}

// Cursor returns the last recorded id for name.
func (s *CheckpointStore) Cursor(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.cursors[name]
	return id, ok
}
