// ABOUTME: Drives one streaming exchange from model fragments to SSE frames
// ABOUTME: Pre-stream failures become JSON 500s; mid-stream failures become error frames

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/sse"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/usage"
)

// openFunc starts an exchange for a validated request.
type openFunc func(ctx context.Context) (*conversation.Exchange, error)

// streamRun tracks one request for logging and the usage ledger.
type streamRun struct {
	g       *Gateway
	ctx     context.Context
	logger  *slog.Logger
	entry   usage.Entry
	answer  strings.Builder
	settled bool
}

// finish records the outcome once.
func (s *streamRun) finish(status store.Status, err error) {
	if s.settled {
		return
	}
	s.settled = true
	s.entry.Status = status
	s.entry.Err = err
	s.entry.Completion = s.answer.String()

	switch status {
	case store.StatusCompleted:
		s.logger.Info("exchange completed",
			"fragments", s.entry.Fragments,
			"duration", time.Since(s.entry.Started))
	case store.StatusDisconnected:
		s.logger.Info("client disconnected",
			"fragments", s.entry.Fragments)
	default:
		s.logger.Error("exchange failed",
			"fragments", s.entry.Fragments,
			"error", err)
	}
	s.g.recordUsage(s.ctx, s.entry)
}

// streamExchange runs a streaming request. The first fragment is pulled
// before any header is written so that a provider that fails immediately
// yields a plain JSON 500. After that, fragments are forwarded in order and
// the stream ends with exactly one [DONE] or error frame. A chat exchange is
// committed only after the whole answer arrived and the client is still there.
func (g *Gateway) streamExchange(w http.ResponseWriter, r *http.Request, route string, open openFunc) {
	ctx := r.Context()
	run := &streamRun{
		g:   g,
		ctx: ctx,
		entry: usage.Entry{
			RequestID: requestIDFrom(ctx),
			Route:     route,
			Provider:  g.provider.Name(),
			Started:   time.Now(),
		},
	}
	run.logger = g.logger.With("request_id", run.entry.RequestID, "route", route)

	writer, err := sse.NewWriter(ctx, w, run.logger)
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer writer.Close()

	ex, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			run.finish(store.StatusDisconnected, err)
			return
		}
		run.finish(store.StatusFailed, err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() { _ = ex.Close() }()

	run.entry.SessionID = ex.SessionID
	run.entry.Prompt = ex.Prompt

	fragment, err := ex.Stream.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			run.finish(store.StatusDisconnected, err)
			return
		}
		run.finish(store.StatusFailed, err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for err == nil {
		run.answer.WriteString(fragment)
		run.entry.Fragments++
		if sendErr := writer.Send(sse.Content{Fragment: fragment}); sendErr != nil {
			run.finish(store.StatusDisconnected, sendErr)
			return
		}
		fragment, err = ex.Stream.Next()
	}

	if !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			run.finish(store.StatusDisconnected, err)
			return
		}
		run.finish(store.StatusFailed, err)
		_ = writer.Send(sse.Error{Message: err.Error()})
		return
	}

	// Do not remember an answer the client never saw in full
	if ctx.Err() != nil {
		run.finish(store.StatusDisconnected, ctx.Err())
		return
	}

	if err := ex.Commit(ctx, run.answer.String()); err != nil {
		run.finish(store.StatusFailed, err)
		_ = writer.Send(sse.Error{Message: msgInternalError})
		return
	}

	if err := writer.Send(sse.Done{}); err != nil {
		run.logger.Debug("client left before [DONE]", "error", err)
	}
	run.finish(store.StatusCompleted, nil)
}
