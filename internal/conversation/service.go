// ABOUTME: Conversation service that pairs session history with a streaming model
// ABOUTME: History is only written after a complete answer; failed exchanges leave no trace

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAlreadyCommitted is returned when an exchange is committed twice.
var ErrAlreadyCommitted = errors.New("exchange already committed")

// Stream is a finite, pull-based sequence of text fragments. Next returns
// io.EOF after the last fragment. Close releases the upstream call and must be
// safe to call more than once.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Streamer defines what the service needs from the model layer
type Streamer interface {
	Stream(ctx context.Context, turns []Turn) (Stream, error)
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// HistoryStore defines what the service needs from session storage
type HistoryStore interface {
	Get(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Delete(ctx context.Context, sessionID string) error
}

// Prompts holds the system prompt for each exchange kind.
type Prompts struct {
	Chat      string
	Translate string
}

// Kind distinguishes chat exchanges (with memory) from translations (without).
type Kind string

const (
	KindChat      Kind = "chat"
	KindTranslate Kind = "translate"
)

// Service opens model streams for chat and translation requests and commits
// finished chat exchanges back to session history.
type Service struct {
	history  HistoryStore
	streamer Streamer
	prompts  Prompts
	logger   *slog.Logger
}

// New creates a new conversation Service
func New(history HistoryStore, streamer Streamer, prompts Prompts, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		history:  history,
		streamer: streamer,
		prompts:  prompts,
		logger:   logger.With("component", "conversation"),
	}
}

// Exchange is one in-flight request/answer pair.
type Exchange struct {
	Kind      Kind
	SessionID string
	Input     string
	// Prompt is the exact window sent to the model.
	Prompt []Turn
	Stream Stream

	svc       *Service
	committed bool
}

// OpenChat reads the session history, assembles the chat window and opens the
// model stream. History is not modified.
func (s *Service) OpenChat(ctx context.Context, sessionID, query string) (*Exchange, error) {
	history, err := s.history.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session history: %w", err)
	}

	prompt := Assemble(s.prompts.Chat, history, query)
	stream, err := s.streamer.Stream(ctx, prompt)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("chat exchange opened",
		"session_id", sessionID,
		"history_turns", len(history))

	return &Exchange{
		Kind:      KindChat,
		SessionID: sessionID,
		Input:     query,
		Prompt:    prompt,
		Stream:    stream,
		svc:       s,
	}, nil
}

// OpenTranslation opens a model stream for a one-shot translation.
func (s *Service) OpenTranslation(ctx context.Context, text string) (*Exchange, error) {
	prompt := Assemble(s.prompts.Translate, nil, text)
	stream, err := s.streamer.Stream(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Exchange{
		Kind:   KindTranslate,
		Input:  text,
		Prompt: prompt,
		Stream: stream,
		svc:    s,
	}, nil
}

// Translate runs a translation without streaming and returns the full text.
func (s *Service) Translate(ctx context.Context, text string) (string, error) {
	return s.streamer.Complete(ctx, Assemble(s.prompts.Translate, nil, text))
}

// History returns the turns currently remembered for a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]Turn, error) {
	return s.history.Get(ctx, sessionID)
}

// Clear forgets a session. Clearing an unknown session is not an error.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if err := s.history.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	s.logger.Info("session cleared", "session_id", sessionID)
	return nil
}

// Commit records the finished exchange. For chat the user input and the
// assistant answer are appended in a single call so a failure cannot leave
// half a turn behind. Translations have no session and commit nothing.
func (e *Exchange) Commit(ctx context.Context, answer string) error {
	if e.committed {
		return ErrAlreadyCommitted
	}
	e.committed = true

	if e.Kind != KindChat {
		return nil
	}

	if err := e.svc.history.Append(ctx, e.SessionID, User(e.Input), Assistant(answer)); err != nil {
		return fmt.Errorf("committing exchange: %w", err)
	}

	e.svc.logger.Debug("chat exchange committed",
		"session_id", e.SessionID,
		"answer_len", len(answer))
	return nil
}

// Close releases the model stream.
func (e *Exchange) Close() error {
	return e.Stream.Close()
}
