// ABOUTME: Tracker writes one usage record per gateway request and prunes old ones
// ABOUTME: Pruning runs on a robfig/cron schedule between Start and Stop

package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
)

// Options configures a Tracker.
type Options struct {
	// Schedule is a cron spec such as "@every 1h" or "0 3 * * *".
	// Empty disables scheduled pruning.
	Schedule string
	// Retention is how long records are kept. Zero keeps them forever.
	Retention time.Duration
}

// Entry describes a finished request.
type Entry struct {
	RequestID  string
	Route      string
	SessionID  string
	Provider   string
	Status     store.Status
	Prompt     []conversation.Turn
	Completion string
	Fragments  int
	Started    time.Time
	Err        error
}

// Tracker records usage into a store.
type Tracker struct {
	store   store.Store
	counter Counter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewTracker creates a Tracker. The schedule is parsed up front so a bad
// config fails at startup.
func NewTracker(s store.Store, counter Counter, opts Options, logger *slog.Logger) (*Tracker, error) {
	if s == nil {
		return nil, errors.New("usage: store is required")
	}
	if counter == nil {
		counter = EstimateCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Schedule != "" {
		if _, err := cron.ParseStandard(opts.Schedule); err != nil {
			return nil, fmt.Errorf("parsing prune schedule %q: %w", opts.Schedule, err)
		}
	}
	if opts.Retention < 0 {
		return nil, fmt.Errorf("retention must not be negative (got %s)", opts.Retention)
	}
	return &Tracker{
		store:   s,
		counter: counter,
		opts:    opts,
		logger:  logger.With("component", "usage"),
		now:     time.Now,
	}, nil
}

// Record saves a usage record for e. Failures are logged and returned; they
// never affect the response already sent to the client.
func (t *Tracker) Record(ctx context.Context, e Entry) error {
	now := t.now()
	record := &store.UsageRecord{
		ID:               uuid.New().String(),
		RequestID:        e.RequestID,
		Route:            e.Route,
		SessionID:        e.SessionID,
		Provider:         e.Provider,
		Status:           e.Status,
		Fragments:        e.Fragments,
		PromptTokens:     CountTurns(t.counter, e.Prompt),
		CompletionTokens: t.counter.Count(e.Completion),
		CreatedAt:        now,
	}
	if !e.Started.IsZero() {
		record.Duration = now.Sub(e.Started)
	}
	if e.Err != nil {
		record.Error = e.Err.Error()
	}

	if err := t.store.SaveUsage(ctx, record); err != nil {
		t.logger.Warn("failed to record usage",
			"request_id", e.RequestID,
			"route", e.Route,
			"error", err,
		)
		return err
	}
	return nil
}

// Stats returns aggregated usage for filter.
func (t *Tracker) Stats(ctx context.Context, filter store.UsageFilter) (*store.UsageStats, error) {
	return t.store.GetUsageStats(ctx, filter)
}

// Ready reports whether the ledger is reachable.
func (t *Tracker) Ready(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// Prune deletes records older than the retention window.
func (t *Tracker) Prune(ctx context.Context) (int64, error) {
	if t.opts.Retention <= 0 {
		return 0, nil
	}
	cutoff := t.now().Add(-t.opts.Retention)
	n, err := t.store.PruneUsage(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning usage: %w", err)
	}
	if n > 0 {
		t.logger.Info("pruned usage records", "count", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Start begins scheduled pruning. It is a no-op without a schedule or when
// already started.
func (t *Tracker) Start() error {
	if t.opts.Schedule == "" || t.opts.Retention <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cron != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(t.opts.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := t.Prune(ctx); err != nil {
			t.logger.Error("scheduled prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling prune: %w", err)
	}
	c.Start()
	t.cron = c
	t.logger.Debug("usage pruning scheduled", "schedule", t.opts.Schedule, "retention", t.opts.Retention)
	return nil
}

// Stop halts scheduled pruning and waits for a running prune to finish or
// for ctx to expire.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
