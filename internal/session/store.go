// ABOUTME: Session store interface and retention policy for conversation history
// ABOUTME: Sessions are created on first append and bounded by a tail-keep rule

package session

import (
	"context"
	"fmt"

	"github.com/2389/parley/internal/conversation"
)

// Store manages per-session conversation history.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns a copy of the session's turns, or an empty slice for an
	// unknown session.
	Get(ctx context.Context, sessionID string) ([]conversation.Turn, error)

	// Append adds turns to the session, creating it if needed. All turns of
	// one call land together, and retention is applied afterwards.
	Append(ctx context.Context, sessionID string, turns ...conversation.Turn) error

	// Delete removes the session. Deleting an unknown session is a no-op.
	Delete(ctx context.Context, sessionID string) error

	// Len returns the number of live sessions.
	Len(ctx context.Context) (int, error)
}

// Retention bounds history length. When a session grows past HighWater turns
// it is cut down to its most recent Keep turns.
type Retention struct {
	HighWater int
	Keep      int
}

// DefaultRetention keeps the last 10 turns once a session exceeds 20.
var DefaultRetention = Retention{HighWater: 20, Keep: 10}

// Validate checks that 0 < Keep < HighWater.
func (r Retention) Validate() error {
	if r.Keep <= 0 {
		return fmt.Errorf("retention keep must be positive, got %d", r.Keep)
	}
	if r.Keep >= r.HighWater {
		return fmt.Errorf("retention keep (%d) must be less than high water (%d)", r.Keep, r.HighWater)
	}
	return nil
}

// apply trims turns when over the high-water mark.
func (r Retention) apply(turns []conversation.Turn) []conversation.Turn {
	if len(turns) <= r.HighWater {
		return turns
	}
	kept := make([]conversation.Turn, r.Keep, r.HighWater+2)
	copy(kept, turns[len(turns)-r.Keep:])
	return kept
}
