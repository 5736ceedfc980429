package thread

import (
	"errors"
	"sort"
	"sync"

	"github.com/opendesk/threadsync/internal/types"
)

// ErrDuplicateID is returned when an append would produce two entries with
// the same message id.
var ErrDuplicateID = errors.New("duplicate message id")

// ErrNotFound is returned when a mutation targets a message id that is not
// in the store.
var ErrNotFound = errors.New("message not found")

// Store is the in-memory ordered message list for one ticket thread. It is
// the single source of truth for rendering while the thread is live; the
// cache repository only mirrors it. Snapshots are always ordered by
// CreatedAt non-decreasing, with arrival order preserved for ties.
type Store struct {
	mu       sync.RWMutex
	messages []types.Message
	index    map[string]int
	onChange func([]types.Message)
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// SetWriteThrough installs the hook invoked with a fresh snapshot after
// every mutation. The hook runs under the store lock and must not call back
// into the store.
func (s *Store) SetWriteThrough(fn func([]types.Message)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Append inserts a message at its CreatedAt position. Appending an id that
// already exists is rejected with ErrDuplicateID; callers wanting to update
// an entry use Replace.
func (s *Store) Append(msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[msg.ID]; exists {
		return ErrDuplicateID
	}
	s.insertLocked(msg)
	s.notifyLocked()
	return nil
}

// Replace removes the entry with the given id and inserts msg in its
// ordered position. The replacement may carry a different id (optimistic
// entry confirmed by the server), as long as that id is not already taken
// by another entry.
func (s *Store) Replace(id string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.index[id]
	if !exists {
		return ErrNotFound
	}
	if other, taken := s.index[msg.ID]; taken && other != pos {
		return ErrDuplicateID
	}

	s.removeAtLocked(pos)
	s.insertLocked(msg)
	s.notifyLocked()
	return nil
}

// Update applies an in-place field mutation to the entry with the given id.
// The callback must not change the entry's ID or CreatedAt.
func (s *Store) Update(id string, fn func(*types.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.index[id]
	if !exists {
		return ErrNotFound
	}
	fn(&s.messages[pos])
	s.notifyLocked()
	return nil
}

// RemoveByID deletes an entry, reporting whether it was present.
func (s *Store) RemoveByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.index[id]
	if !exists {
		return false
	}
	s.removeAtLocked(pos)
	s.notifyLocked()
	return true
}

// Has reports whether an entry with the given id exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.index[id]
	return exists
}

// Get returns a copy of the entry with the given id.
func (s *Store) Get(id string) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, exists := s.index[id]
	if !exists {
		return types.Message{}, false
	}
	return s.messages[pos], true
}

// Snapshot returns the ordered sequence for rendering.
func (s *Store) Snapshot() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) insertLocked(msg types.Message) {
	// Ties insert after existing entries so arrival order is stable.
	pos := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt > msg.CreatedAt
	})
	s.messages = append(s.messages, types.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
	s.reindexLocked(pos)
}

func (s *Store) removeAtLocked(pos int) {
	delete(s.index, s.messages[pos].ID)
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	s.reindexLocked(pos)
}

func (s *Store) reindexLocked(from int) {
	for i := from; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}

func (s *Store) snapshotLocked() []types.Message {
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) notifyLocked() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.snapshotLocked())
}
