// ABOUTME: Server-Sent Events writer for streaming model output to HTTP clients
// ABOUTME: Frames are data-only JSON lines terminated by a [DONE] or error frame

package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// DoneData is the payload of the terminating frame.
const DoneData = "[DONE]"

var (
	// ErrClientGone is returned once the client has disconnected or a write
	// to it failed. Callers stop streaming and do not report it further.
	ErrClientGone = errors.New("sse: client disconnected")

	// ErrClosed is returned by Send after a terminal event.
	ErrClosed = errors.New("sse: stream closed")

	// ErrStreamingUnsupported means the ResponseWriter cannot flush.
	ErrStreamingUnsupported = errors.New("sse: streaming unsupported")
)

// Event is one frame on the stream: Content, Error or Done.
type Event interface {
	data() ([]byte, error)
	terminal() bool
}

// Content carries one text fragment.
type Content struct {
	Fragment string
}

// Error reports a failure in-band and ends the stream.
type Error struct {
	Message string
}

// Done ends the stream successfully.
type Done struct{}

type contentPayload struct {
	Content string `json:"content"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func (c Content) data() ([]byte, error) { return marshal(contentPayload{Content: c.Fragment}) }
func (Content) terminal() bool          { return false }

func (e Error) data() ([]byte, error) { return marshal(errorPayload{Error: e.Message}) }
func (Error) terminal() bool          { return true }

func (Done) data() ([]byte, error) { return []byte(DoneData), nil }
func (Done) terminal() bool        { return true }

// marshal encodes v without HTML escaping and without a trailing newline.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Writer streams events to one HTTP response. It is not safe for concurrent
// use; one request handler owns it.
type Writer struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger

	started bool
	closed  bool
}

// NewWriter wraps w. ctx is the request context and is checked before every
// write to detect client disconnects.
func NewWriter(ctx context.Context, w http.ResponseWriter, logger *slog.Logger) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{ctx: ctx, w: w, flusher: flusher, logger: logger}, nil
}

// SetHeaders writes the fixed event-stream headers onto h.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")
}

// Start sends the status line and headers. Send calls it implicitly; calling
// it again has no effect.
func (s *Writer) Start() {
	if s.started {
		return
	}
	s.started = true
	SetHeaders(s.w.Header())
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// Started reports whether headers have been sent.
func (s *Writer) Started() bool { return s.started }

// Closed reports whether the stream has ended.
func (s *Writer) Closed() bool { return s.closed }

// Send writes one event and flushes it. After a terminal event, a failed
// write or a detected disconnect, the writer is closed and nothing more is
// written.
func (s *Writer) Send(ev Event) error {
	if s.closed {
		return ErrClosed
	}
	if s.ctx.Err() != nil {
		s.closed = true
		return ErrClientGone
	}

	payload, err := ev.data()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	s.Start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.closed = true
		s.logger.Debug("sse write failed", "error", err)
		return ErrClientGone
	}
	s.flusher.Flush()

	if ev.terminal() {
		s.closed = true
	}
	return nil
}

// Close ends the stream without writing anything further. It is safe to
// call more than once.
func (s *Writer) Close() {
	s.closed = true
}
