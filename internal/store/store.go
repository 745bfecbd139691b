// ABOUTME: Store interface and data types for the parley usage ledger
// ABOUTME: Records one row per gateway request; conversation text is never stored

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Status is the outcome of a gateway request
type Status string

const (
	StatusCompleted    Status = "completed"    // Stream finished and was committed
	StatusFailed       Status = "failed"       // Provider or commit failure
	StatusDisconnected Status = "disconnected" // Client went away mid-request
)

// UsageRecord describes one request through the gateway
type UsageRecord struct {
	ID               string
	RequestID        string
	Route            string // "chat", "translate", "translate-non-stream"
	SessionID        string // empty for translations
	Provider         string
	Status           Status
	Fragments        int
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
	Error            string
	CreatedAt        time.Time
}

// UsageFilter narrows ledger queries. Nil fields are ignored.
type UsageFilter struct {
	Route     *string
	SessionID *string
	Status    *Status
	Since     *time.Time
	Until     *time.Time
	Limit     int // ListUsage only; 0 means 100
}

// UsageStats aggregates ledger rows
type UsageStats struct {
	RequestCount     int64   `json:"request_count"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Disconnected     int64   `json:"disconnected"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	AvgDurationMS    float64 `json:"avg_duration_ms"`
}

// Store is the usage ledger
type Store interface {
	SaveUsage(ctx context.Context, record *UsageRecord) error
	GetUsage(ctx context.Context, id string) (*UsageRecord, error)
	ListUsage(ctx context.Context, filter UsageFilter) ([]*UsageRecord, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
	// PruneUsage deletes records created before the cutoff and returns how many
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// defaultListLimit caps ListUsage when the filter sets no limit
const defaultListLimit = 100
