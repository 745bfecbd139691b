// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	usage   map[string]*UsageRecord // keyed by usage ID
	pingErr error
	closed  bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		usage: make(map[string]*UsageRecord),
	}
}

// SetPingError makes subsequent Ping calls fail with err.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// SaveUsage stores a usage record.
func (m *MockStore) SaveUsage(ctx context.Context, record *UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("store closed")
	}
	if _, exists := m.usage[record.ID]; exists {
		return fmt.Errorf("inserting usage: duplicate id %s", record.ID)
	}

	// Make a copy to avoid external modification
	r := *record
	r.CreatedAt = r.CreatedAt.UTC().Truncate(time.Millisecond)
	r.Duration = r.Duration.Truncate(time.Millisecond)
	m.usage[r.ID] = &r
	return nil
}

// GetUsage retrieves a single record by ID.
func (m *MockStore) GetUsage(ctx context.Context, id string) (*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.usage[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

func (m *MockStore) matching(filter UsageFilter) []*UsageRecord {
	var out []*UsageRecord
	for _, r := range m.usage {
		if filter.Route != nil && r.Route != *filter.Route {
			continue
		}
		if filter.SessionID != nil && r.SessionID != *filter.SessionID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && r.CreatedAt.Before(filter.Since.Truncate(time.Millisecond)) {
			continue
		}
		if filter.Until != nil && !r.CreatedAt.Before(filter.Until.Truncate(time.Millisecond)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ListUsage returns matching records, newest first.
func (m *MockStore) ListUsage(ctx context.Context, filter UsageFilter) ([]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.matching(filter)
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}

	result := make([]*UsageRecord, len(records))
	for i, r := range records {
		c := *r
		result[i] = &c
	}
	return result, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	var totalMS int64
	for _, r := range m.matching(filter) {
		stats.RequestCount++
		switch r.Status {
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusDisconnected:
			stats.Disconnected++
		}
		stats.PromptTokens += int64(r.PromptTokens)
		stats.CompletionTokens += int64(r.CompletionTokens)
		totalMS += r.Duration.Milliseconds()
	}
	stats.TotalTokens = stats.PromptTokens + stats.CompletionTokens
	if stats.RequestCount > 0 {
		stats.AvgDurationMS = float64(totalMS) / float64(stats.RequestCount)
	}
	return &stats, nil
}

// PruneUsage deletes records created before the cutoff.
func (m *MockStore) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := before.Truncate(time.Millisecond)
	var n int64
	for id, r := range m.usage {
		if r.CreatedAt.Before(cutoff) {
			delete(m.usage, id)
			n++
		}
	}
	return n, nil
}

// Ping reports the configured ping error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("store closed")
	}
	return m.pingErr
}

// Close is a no-op for MockStore beyond rejecting later writes.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MockStore implements Store interface.
var _ Store = (*MockStore)(nil)
