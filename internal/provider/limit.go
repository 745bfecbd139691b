// ABOUTME: Provider decorators bounding call duration and concurrent calls
// ABOUTME: Resources are held for the life of a stream and released on Close

package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/2389/parley/internal/conversation"
)

// releasingStream runs release exactly once, after the wrapped stream closes.
type releasingStream struct {
	conversation.Stream
	once    sync.Once
	release func()
}

func (s *releasingStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(s.release)
	return err
}

type timeoutProvider struct {
	Provider
	timeout time.Duration
}

// WithTimeout bounds every call to p, stream lifetime included. A
// non-positive timeout returns p unchanged.
func WithTimeout(p Provider, timeout time.Duration) Provider {
	if timeout <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: timeout}
}

func (p *timeoutProvider) Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	s, err := p.Provider.Stream(ctx, turns)
	if err != nil {
		cancel()
		return nil, err
	}
	return &releasingStream{Stream: s, release: cancel}, nil
}

func (p *timeoutProvider) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.Provider.Complete(ctx, turns)
}

type limitProvider struct {
	Provider
	sem *semaphore.Weighted
}

// WithLimit allows at most n calls to p in flight. A stream holds its slot
// until closed. A non-positive n returns p unchanged.
func WithLimit(p Provider, n int) Provider {
	if n <= 0 {
		return p
	}
	return &limitProvider{Provider: p, sem: semaphore.NewWeighted(int64(n))}
}

func (p *limitProvider) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return &Error{Provider: p.Name(), Err: fmt.Errorf("waiting for a free provider slot: %w", err)}
	}
	return nil
}

func (p *limitProvider) Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	s, err := p.Provider.Stream(ctx, turns)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return &releasingStream{Stream: s, release: func() { p.sem.Release(1) }}, nil
}

func (p *limitProvider) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.Provider.Complete(ctx, turns)
}
