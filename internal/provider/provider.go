// ABOUTME: Provider interface and error types for streaming language-model backends
// ABOUTME: fragmentStream classifies failures as before-first-fragment or mid-stream

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
)

// Provider streams completions for an assembled conversation window.
type Provider interface {
	// Name identifies the backend in logs and the usage ledger.
	Name() string

	// Stream starts a completion and returns a pull-based fragment stream.
	// The caller must Close the stream, even after an error from Next.
	Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error)

	// Complete runs a completion to the end and returns the full text.
	Complete(ctx context.Context, turns []conversation.Turn) (string, error)
}

// Error reports a provider failure before any fragment was produced.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// InterruptedError reports a provider failure after at least one fragment.
// Partial holds every fragment delivered before the failure.
type InterruptedError struct {
	Provider string
	Partial  string
	Err      error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("%s: stream interrupted after %d bytes: %v", e.Provider, len(e.Partial), e.Err)
}

func (e *InterruptedError) Unwrap() error { return e.Err }

// nextFunc yields the backend's next raw fragment, or io.EOF at the end.
// Empty fragments are allowed and skipped.
type nextFunc func() (string, error)

// fragmentStream turns a backend iterator into a conversation.Stream.
// It is not safe for concurrent use.
type fragmentStream struct {
	provider string
	next     nextFunc
	closer   func() error

	partial strings.Builder
	yielded bool
	// err is sticky once the stream has ended, io.EOF included
	err error

	closeOnce sync.Once
	closeErr  error
}

func newFragmentStream(provider string, next nextFunc, closer func() error) *fragmentStream {
	return &fragmentStream{provider: provider, next: next, closer: closer}
}

func (s *fragmentStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		frag, err := s.next()
		if err != nil {
			s.err = s.classify(err)
			return "", s.err
		}
		if frag == "" {
			continue
		}
		s.yielded = true
		s.partial.WriteString(frag)
		return frag, nil
	}
}

func (s *fragmentStream) classify(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if s.yielded {
		return &InterruptedError{Provider: s.provider, Partial: s.partial.String(), Err: err}
	}
	return &Error{Provider: s.provider, Err: err}
}

func (s *fragmentStream) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

// New builds the configured backend wrapped with the timeout and
// concurrency limit from cfg.
func New(cfg config.ProviderConfig) (Provider, error) {
	var base Provider
	switch cfg.Kind {
	case config.ProviderOpenAI:
		base = NewOpenAI(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			MaxRetries:  cfg.MaxRetries,
		})
	case config.ProviderAnthropic:
		base = NewAnthropic(AnthropicConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			MaxRetries:  cfg.MaxRetries,
		})
	case config.ProviderEcho:
		base = NewEcho()
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	return WithTimeout(WithLimit(base, cfg.MaxConcurrent), cfg.Timeout), nil
}
