// ABOUTME: Deterministic in-memory providers for tests and local development
// ABOUTME: Scripted replays canned fragments and failures; Echo repeats the user back

package provider

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/2389/parley/internal/conversation"
)

// Script describes one canned provider call.
type Script struct {
	// Fragments are yielded in order.
	Fragments []string
	// Err, when set, is returned after all Fragments. With no Fragments it
	// surfaces as an Error; otherwise as an InterruptedError.
	Err error
	// Delay is waited before each fragment, honoring context cancellation.
	Delay time.Duration
	// OnFragment is called after each fragment is produced, with its index.
	OnFragment func(i int)
}

// Scripted replays Scripts in call order; the last script repeats once the
// list is exhausted. It records every window it is asked to complete.
type Scripted struct {
	mu      sync.Mutex
	scripts []Script
	calls   [][]conversation.Turn
}

// NewScripted creates a Scripted provider.
func NewScripted(scripts ...Script) *Scripted {
	return &Scripted{scripts: scripts}
}

func (p *Scripted) Name() string { return "scripted" }

func (p *Scripted) take(turns []conversation.Turn) Script {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, append([]conversation.Turn(nil), turns...))
	if len(p.scripts) == 0 {
		return Script{}
	}
	i := len(p.calls) - 1
	if i >= len(p.scripts) {
		i = len(p.scripts) - 1
	}
	return p.scripts[i]
}

// Calls returns the windows received so far, oldest first.
func (p *Scripted) Calls() [][]conversation.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]conversation.Turn, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Scripted) Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error) {
	script := p.take(turns)
	i := 0
	next := func() (string, error) {
		if i >= len(script.Fragments) {
			if script.Err != nil {
				return "", script.Err
			}
			return "", io.EOF
		}
		if err := wait(ctx, script.Delay); err != nil {
			return "", err
		}
		frag := script.Fragments[i]
		if script.OnFragment != nil {
			script.OnFragment(i)
		}
		i++
		return frag, nil
	}
	return newFragmentStream(p.Name(), next, nil), nil
}

func (p *Scripted) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	script := p.take(turns)
	if err := ctx.Err(); err != nil {
		return "", &Error{Provider: p.Name(), Err: err}
	}
	if script.Err != nil {
		return "", &Error{Provider: p.Name(), Err: script.Err}
	}
	return strings.Join(script.Fragments, ""), nil
}

// Echo streams the last user turn back one word at a time.
type Echo struct {
	Delay time.Duration
}

// NewEcho creates an Echo provider.
func NewEcho() *Echo {
	return &Echo{Delay: 20 * time.Millisecond}
}

func (p *Echo) Name() string { return "echo" }

func lastUser(turns []conversation.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == conversation.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

func (p *Echo) Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error) {
	words := strings.SplitAfter(lastUser(turns), " ")
	next := func() (string, error) {
		if len(words) == 0 {
			return "", io.EOF
		}
		if err := wait(ctx, p.Delay); err != nil {
			return "", err
		}
		w := words[0]
		words = words[1:]
		return w, nil
	}
	return newFragmentStream(p.Name(), next, nil), nil
}

func (p *Echo) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Provider: p.Name(), Err: err}
	}
	return lastUser(turns), nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ Provider = (*Scripted)(nil)
	_ Provider = (*Echo)(nil)
)
