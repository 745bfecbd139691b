// ABOUTME: Tests for fragment stream classification, scripted providers and decorators
// ABOUTME: Verifies Error vs InterruptedError, timeouts and the concurrency cap

package provider

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
)

func collect(t *testing.T, s conversation.Stream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		frag, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, frag)
	}
}

var window = []conversation.Turn{conversation.System("sys"), conversation.User("hello there")}

func TestFragmentStream_CleanEnd(t *testing.T) {
	p := NewScripted(Script{Fragments: []string{"Hi", "", " there"}})
	s, err := p.Stream(context.Background(), window)
	require.NoError(t, err)
	defer s.Close()

	frags, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, frags, "empty fragments are skipped")

	// EOF is sticky
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFragmentStream_FailureBeforeFirstFragment(t *testing.T) {
	cause := errors.New("401 unauthorized")
	p := NewScripted(Script{Err: cause})
	s, err := p.Stream(context.Background(), window)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "scripted", perr.Provider)
	assert.ErrorIs(t, err, cause)

	var interrupted *InterruptedError
	assert.False(t, errors.As(err, &interrupted))
}

func TestFragmentStream_FailureMidStream(t *testing.T) {
	cause := errors.New("connection reset")
	p := NewScripted(Script{Fragments: []string{"Hel", "lo"}, Err: cause})
	s, err := p.Stream(context.Background(), window)
	require.NoError(t, err)
	defer s.Close()

	frags, err := collect(t, s)
	assert.Equal(t, []string{"Hel", "lo"}, frags)

	var interrupted *InterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.Equal(t, "Hello", interrupted.Partial)
	assert.ErrorIs(t, err, cause)

	// The failure is sticky
	_, again := s.Next()
	assert.Equal(t, err, again)
}

func TestFragmentStream_CloseIsIdempotent(t *testing.T) {
	calls := 0
	s := newFragmentStream("x", func() (string, error) { return "", io.EOF }, func() error {
		calls++
		return nil
	})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)
}

func TestScripted_RecordsCallsAndRepeatsLastScript(t *testing.T) {
	p := NewScripted(Script{Fragments: []string{"one"}}, Script{Fragments: []string{"two"}})
	ctx := context.Background()

	for _, want := range []string{"one", "two", "two"} {
		s, err := p.Stream(ctx, window)
		require.NoError(t, err)
		frags, err := collect(t, s)
		require.NoError(t, err)
		assert.Equal(t, []string{want}, frags)
	}

	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, window, calls[0])
}

func TestScripted_Complete(t *testing.T) {
	p := NewScripted(Script{Fragments: []string{"Good", " morning"}})
	got, err := p.Complete(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, "Good morning", got)

	failing := NewScripted(Script{Err: errors.New("boom")})
	_, err = failing.Complete(context.Background(), window)
	var perr *Error
	assert.ErrorAs(t, err, &perr)
}

func TestScripted_CancelledContextInterruptsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewScripted(Script{
		Fragments:  []string{"a", "b", "c"},
		OnFragment: func(i int) { cancel() },
	})
	s, err := p.Stream(ctx, window)
	require.NoError(t, err)

	frags, err := collect(t, s)
	assert.Equal(t, []string{"a"}, frags)
	var interrupted *InterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEcho(t *testing.T) {
	p := &Echo{}
	s, err := p.Stream(context.Background(), window)
	require.NoError(t, err)
	frags, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello ", "there"}, frags)

	got, err := p.Complete(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)
}

func TestWithTimeout_InterruptsSlowStream(t *testing.T) {
	p := WithTimeout(NewScripted(Script{
		Fragments: []string{"first", "second"},
		Delay:     30 * time.Millisecond,
	}), 45*time.Millisecond)

	s, err := p.Stream(context.Background(), window)
	require.NoError(t, err)
	defer s.Close()

	frags, err := collect(t, s)
	assert.Equal(t, []string{"first"}, frags)
	var interrupted *InterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_Complete(t *testing.T) {
	slow := &blockingProvider{}
	p := WithTimeout(slow, 10*time.Millisecond)
	_, err := p.Complete(context.Background(), window)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_ZeroIsPassthrough(t *testing.T) {
	base := NewScripted()
	assert.Same(t, Provider(base), WithTimeout(base, 0))
	assert.Same(t, Provider(base), WithLimit(base, 0))
}

// blockingProvider blocks until the context ends and counts concurrent callers
type blockingProvider struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *blockingProvider) Name() string { return "blocking" }

func (b *blockingProvider) Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error) {
	n := b.inFlight.Add(1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return newFragmentStream(b.Name(), func() (string, error) { return "", io.EOF }, func() error {
		b.inFlight.Add(-1)
		return nil
	}), nil
}

func (b *blockingProvider) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithLimit_HoldsSlotUntilClose(t *testing.T) {
	base := &blockingProvider{}
	p := WithLimit(base, 1)

	first, err := p.Stream(context.Background(), window)
	require.NoError(t, err)

	// A second caller cannot get a slot while the first stream is open
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Stream(ctx, window)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := p.Stream(context.Background(), window)
	require.NoError(t, err)
	require.NoError(t, second.Close())

	assert.Equal(t, int32(1), base.peak.Load())
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(config.ProviderConfig{Kind: "bard"})
	assert.Error(t, err)
}

func TestNew_Echo(t *testing.T) {
	p, err := New(config.ProviderConfig{Kind: config.ProviderEcho, MaxConcurrent: 2, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "echo", p.Name())
}
