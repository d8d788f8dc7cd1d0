// ABOUTME: In-memory Store implementation, the default backend
// ABOUTME: Process-lifetime maps guarded by a mutex; returns copies so callers cannot mutate state

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps threads, message logs and agent checkpoints in process memory.
// Nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	threads    map[string]*Thread           // keyed by thread ID
	messages   map[string][]json.RawMessage // keyed by thread ID
	agentState map[string][]byte            // keyed by execution context
	now        func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:    make(map[string]*Thread),
		messages:   make(map[string][]json.RawMessage),
		agentState: make(map[string][]byte),
		now:        time.Now,
	}
}

// CreateThread registers a thread, or returns the existing one with the same id.
func (m *MemoryStore) CreateThread(ctx context.Context, userID, title, threadID string) (*Thread, bool, error) {
	if threadID == "" {
		threadID = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.threads[threadID]; ok {
		t := *existing
		return &t, false, nil
	}

	t := &Thread{
		ID:        threadID,
		UserID:    orDefault(userID, DefaultUserID),
		Title:     orDefault(title, DefaultTitle),
		CreatedAt: m.now().UTC(),
	}
	m.threads[threadID] = t

	result := *t
	return &result, true, nil
}

// GetThread retrieves a thread by ID.
func (m *MemoryStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *t
	return &result, nil
}

// ListThreadsByOwner returns the owner's non-archived threads ordered by creation time.
func (m *MemoryStore) ListThreadsByOwner(ctx context.Context, userID string) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Thread, 0)
	for _, t := range m.threads {
		if t.UserID != userID || t.IsArchived {
			continue
		}
		c := *t
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ArchiveThread marks a thread archived. Unknown ids are ignored.
func (m *MemoryStore) ArchiveThread(ctx context.Context, id string) error {
	m.update(id, func(t *Thread) { t.IsArchived = true })
	return nil
}

// SetThreadPublic sets the sharing flag. Unknown ids are ignored.
func (m *MemoryStore) SetThreadPublic(ctx context.Context, id string, public bool) error {
	m.update(id, func(t *Thread) { t.IsPublic = public })
	return nil
}

// UpdateThreadTitle renames a thread. Unknown ids are ignored.
func (m *MemoryStore) UpdateThreadTitle(ctx context.Context, id, title string) error {
	m.update(id, func(t *Thread) { t.Title = title })
	return nil
}

func (m *MemoryStore) update(id string, fn func(*Thread)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.threads[id]; ok {
		fn(t)
	}
}

// AppendMessage appends msg to the thread's log.
func (m *MemoryStore) AppendMessage(ctx context.Context, threadID string, msg json.RawMessage) (int, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}

	// Own the bytes so later caller writes cannot change history
	owned := bytes.Clone(msg)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[threadID] = append(m.messages[threadID], owned)
	return len(m.messages[threadID]), nil
}

// GetMessages returns a copy of the thread's log.
func (m *MemoryStore) GetMessages(ctx context.Context, threadID string) ([]json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs, ok := m.messages[threadID]
	if !ok {
		return nil, false, nil
	}

	result := make([]json.RawMessage, len(msgs))
	for i, msg := range msgs {
		result[i] = bytes.Clone(msg)
	}
	return result, true, nil
}

// SaveAgentState stores an agent checkpoint.
func (m *MemoryStore) SaveAgentState(ctx context.Context, key string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.agentState[key] = bytes.Clone(state)
	return nil
}

// GetAgentState retrieves an agent checkpoint.
func (m *MemoryStore) GetAgentState(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.agentState[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(state), nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
