// ABOUTME: In-memory session store backed by a map guarded by a RWMutex
// ABOUTME: History lives for the life of the process only

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/conversation"
)

// MemoryStore is the process-local Store.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string][]conversation.Turn
	retention Retention
	logger    *slog.Logger
}

// NewMemoryStore creates an empty store with the given retention policy.
func NewMemoryStore(retention Retention, logger *slog.Logger) (*MemoryStore, error) {
	if err := retention.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		sessions:  make(map[string][]conversation.Turn),
		retention: retention,
		logger:    logger.With("component", "sessions"),
	}, nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) ([]conversation.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.sessions[sessionID]
	out := make([]conversation.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, turns ...conversation.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.sessions[sessionID])
	next := m.retention.apply(append(m.sessions[sessionID], turns...))
	m.sessions[sessionID] = next

	if len(next) < before+len(turns) {
		m.logger.Debug("session history trimmed",
			"session_id", sessionID,
			"kept", len(next))
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
