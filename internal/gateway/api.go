// ABOUTME: HTTP API handlers for chat, translation, sessions and usage stats
// ABOUTME: Streaming routes answer with SSE; everything else is JSON

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/usage"
)

// Client-facing messages. These strings are part of the API contract.
const (
	msgMissingText    = "缺少文本参数"
	msgMissingQuery   = "缺少查询参数"
	msgSessionCleared = "会话已清除"
	msgInternalError  = "服务器内部错误"
)

// Route names recorded in the usage ledger.
const (
	routeChat               = "chat"
	routeTranslate          = "translate"
	routeTranslateNonStream = "translate-non-stream"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// TranslateRequest is the JSON request body for the translate routes.
type TranslateRequest struct {
	Text string `json:"text"`
}

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
}

// HealthResponse is the JSON response for GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TranslateResponse is the JSON response for POST /api/translate-non-stream.
type TranslateResponse struct {
	Result string `json:"result"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// TurnResponse is one remembered turn.
type TurnResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html,omitempty"` // Only with ?format=html
}

// SessionResponse is the JSON response for GET /api/session/{id}.
type SessionResponse struct {
	SessionID string         `json:"sessionId"`
	Turns     []TurnResponse `json:"turns"`
}

// isoMillis matches JavaScript's Date.prototype.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", g.handleAPIHealth)
	mux.HandleFunc("POST /api/translate", g.handleTranslate)
	mux.HandleFunc("POST /api/chat", g.handleChat)
	mux.HandleFunc("POST /api/translate-non-stream", g.handleTranslateNonStream)
	mux.HandleFunc("GET /api/session/{id}", g.handleGetSession)
	mux.HandleFunc("DELETE /api/session/{id}", g.handleClearSession)
	mux.HandleFunc("GET /api/stats/usage", g.handleUsageStats)
}

// handleAPIHealth handles GET /api/health.
func (g *Gateway) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(isoMillis),
	})
}

// handleTranslate handles POST /api/translate.
// It streams the translation of the given text as SSE. Nothing is remembered.
func (g *Gateway) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if !decodeBody(w, r, &req) || req.Text == "" {
		g.sendJSONError(w, http.StatusBadRequest, msgMissingText)
		return
	}

	g.streamExchange(w, r, routeTranslate, func(ctx context.Context) (*conversation.Exchange, error) {
		return g.conversation.OpenTranslation(ctx, req.Text)
	})
}

// handleChat handles POST /api/chat.
// It streams the answer as SSE and commits the exchange to the session
// once the answer is complete.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) || req.Query == "" {
		g.sendJSONError(w, http.StatusBadRequest, msgMissingQuery)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = g.config.Sessions.DefaultID
	}

	g.streamExchange(w, r, routeChat, func(ctx context.Context) (*conversation.Exchange, error) {
		return g.conversation.OpenChat(ctx, sessionID, req.Query)
	})
}

// handleTranslateNonStream handles POST /api/translate-non-stream.
func (g *Gateway) handleTranslateNonStream(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if !decodeBody(w, r, &req) || req.Text == "" {
		g.sendJSONError(w, http.StatusBadRequest, msgMissingText)
		return
	}

	started := time.Now()
	result, err := g.conversation.Translate(r.Context(), req.Text)

	entry := usage.Entry{
		RequestID:  requestIDFrom(r.Context()),
		Route:      routeTranslateNonStream,
		Provider:   g.provider.Name(),
		Status:     store.StatusCompleted,
		Prompt:     conversation.Assemble(g.config.Prompts.Translate, nil, req.Text),
		Completion: result,
		Started:    started,
		Err:        err,
	}
	switch {
	case err != nil && r.Context().Err() != nil:
		entry.Status = store.StatusDisconnected
	case err != nil:
		entry.Status = store.StatusFailed
	}
	g.recordUsage(r.Context(), entry)

	if err != nil {
		g.logger.Error("translation failed",
			"request_id", entry.RequestID,
			"error", err,
		)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.writeJSON(w, http.StatusOK, TranslateResponse{Result: result})
}

// handleGetSession handles GET /api/session/{id}.
// With ?format=html each turn also carries its content rendered from Markdown.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	withHTML := r.URL.Query().Get("format") == "html"

	turns, err := g.conversation.History(r.Context(), sessionID)
	if err != nil {
		g.logger.Error("failed to read session", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	resp := SessionResponse{
		SessionID: sessionID,
		Turns:     make([]TurnResponse, 0, len(turns)),
	}
	for _, t := range turns {
		tr := TurnResponse{Role: t.Role.String(), Content: t.Content}
		if withHTML {
			tr.HTML = g.renderMarkdown(t.Content)
		}
		resp.Turns = append(resp.Turns, tr)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleClearSession handles DELETE /api/session/{id}.
// Clearing an unknown session succeeds.
func (g *Gateway) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := g.conversation.Clear(r.Context(), sessionID); err != nil {
		g.logger.Error("failed to clear session", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	g.writeJSON(w, http.StatusOK, MessageResponse{Message: msgSessionCleared})
}

// handleUsageStats handles GET /api/stats/usage.
// Supports optional ?route=, ?session_id= and ?since= (RFC3339) filters.
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.UsageFilter
	if v := q.Get("route"); v != "" {
		filter.Route = &v
	}
	if v := q.Get("session_id"); v != "" {
		filter.SessionID = &v
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = &since
	}

	stats, err := g.tracker.Stats(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to query usage stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	g.writeJSON(w, http.StatusOK, stats)
}

// renderMarkdown converts content to HTML. Raw HTML in the source is dropped.
func (g *Gateway) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := g.markdown.Convert([]byte(content), &buf); err != nil {
		g.logger.Warn("failed to render markdown", "error", err)
		return ""
	}
	return buf.String()
}

// recordUsage writes a ledger entry. It outlives the request context so
// disconnects are still recorded.
func (g *Gateway) recordUsage(ctx context.Context, e usage.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = g.tracker.Record(ctx, e)
}

// decodeBody decodes a JSON request body into v. It reports false for
// malformed bodies; callers answer with their route's validation message.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v) == nil
}

// writeJSON writes v as a JSON response without HTML escaping.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
