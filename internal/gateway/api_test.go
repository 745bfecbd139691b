// ABOUTME: Tests for the HTTP API handlers and the streaming exchange
// ABOUTME: Uses the Scripted provider, MockStore and real httptest servers for SSE

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/provider"
	"github.com/2389/parley/internal/sse"
	"github.com/2389/parley/internal/store"
)

// testConfig returns a config that needs no network or disk.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Provider.Kind = config.ProviderEcho
	cfg.Database.Path = ":memory:"
	cfg.Usage.Tokenizer = config.TokenizerEstimate
	cfg.Usage.PruneSchedule = ""
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, cfg *config.Config, p provider.Provider) (*Gateway, *store.MockStore) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	ledger := store.NewMockStore()

	gw, err := New(cfg, testLogger(), WithProvider(p), WithStore(ledger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, ledger
}

func newTestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, ctx context.Context, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func decodeJSON(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

// serve runs one request through the full handler chain.
func serve(gw *Gateway, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func history(t *testing.T, gw *Gateway, sessionID string) []conversation.Turn {
	t.Helper()
	turns, err := gw.conversation.History(context.Background(), sessionID)
	require.NoError(t, err)
	return turns
}

func usageRecords(t *testing.T, ledger *store.MockStore) []*store.UsageRecord {
	t.Helper()
	records, err := ledger.ListUsage(context.Background(), store.UsageFilter{})
	require.NoError(t, err)
	return records
}

func TestChat_StreamsAndCommits(t *testing.T) {
	gw, ledger := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"Hi", " there"}}))
	srv := newTestServer(t, gw)

	resp := postJSON(t, context.Background(), srv.URL+"/api/chat", `{"query":"hello","sessionId":"s1"}`)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "data: {\"content\":\"Hi\"}\n\ndata: {\"content\":\" there\"}\n\ndata: [DONE]\n\n", body)

	assert.Equal(t, []conversation.Turn{
		conversation.User("hello"),
		conversation.Assistant("Hi there"),
	}, history(t, gw, "s1"))

	records := usageRecords(t, ledger)
	require.Len(t, records, 1)
	assert.Equal(t, routeChat, records[0].Route)
	assert.Equal(t, "s1", records[0].SessionID)
	assert.Equal(t, "scripted", records[0].Provider)
	assert.Equal(t, store.StatusCompleted, records[0].Status)
	assert.Equal(t, 2, records[0].Fragments)
	assert.Equal(t, resp.Header.Get(RequestIDHeader), records[0].RequestID)
	assert.Positive(t, records[0].PromptTokens)
	assert.Equal(t, 2, records[0].CompletionTokens)
}

func TestChat_SendsHistoryOnNextTurn(t *testing.T) {
	p := provider.NewScripted(
		provider.Script{Fragments: []string{"Hi there"}},
		provider.Script{Fragments: []string{"Again"}},
	)
	gw, _ := newTestGateway(t, nil, p)
	srv := newTestServer(t, gw)

	readBody(t, postJSON(t, context.Background(), srv.URL+"/api/chat", `{"query":"hello","sessionId":"s1"}`))
	readBody(t, postJSON(t, context.Background(), srv.URL+"/api/chat", `{"query":"once more","sessionId":"s1"}`))

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []conversation.Turn{
		conversation.System(config.DefaultChatPrompt),
		conversation.User("hello"),
		conversation.Assistant("Hi there"),
		conversation.User("once more"),
	}, calls[1])
	assert.Len(t, history(t, gw, "s1"), 4)
}

func TestChat_DefaultSession(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"ok"}}))

	rec := serve(gw, http.MethodPost, "/api/chat", `{"query":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []conversation.Turn{
		conversation.User("hello"),
		conversation.Assistant("ok"),
	}, history(t, gw, "default"))
}

func TestChat_SessionsAreIsolated(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"ok"}}))

	serve(gw, http.MethodPost, "/api/chat", `{"query":"for a","sessionId":"a"}`)
	serve(gw, http.MethodPost, "/api/chat", `{"query":"for b","sessionId":"b"}`)

	assert.Equal(t, "for a", history(t, gw, "a")[0].Content)
	assert.Equal(t, "for b", history(t, gw, "b")[0].Content)
}

func TestChat_RetentionTrimsHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Sessions.MaxTurns = 4
	cfg.Sessions.KeepTurns = 2
	gw, _ := newTestGateway(t, cfg, provider.NewScripted(provider.Script{Fragments: []string{"ok"}}))

	for _, q := range []string{"one", "two"} {
		serve(gw, http.MethodPost, "/api/chat", `{"query":"`+q+`"}`)
	}
	assert.Len(t, history(t, gw, "default"), 4)

	serve(gw, http.MethodPost, "/api/chat", `{"query":"three"}`)
	assert.Equal(t, []conversation.Turn{
		conversation.User("three"),
		conversation.Assistant("ok"),
	}, history(t, gw, "default"))
}

func TestChat_MissingQuery(t *testing.T) {
	p := provider.NewScripted(provider.Script{Fragments: []string{"never"}})
	gw, ledger := newTestGateway(t, nil, p)

	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"empty query", `{"query":""}`},
		{"invalid json", `{"query":`},
		{"wrong type", `{"query":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(gw, http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"error":"缺少查询参数"}`, rec.Body.String())
		})
	}
	assert.Empty(t, p.Calls(), "provider must not be called")
	assert.Empty(t, usageRecords(t, ledger))
}

func TestTranslate_MissingText(t *testing.T) {
	p := provider.NewScripted(provider.Script{Fragments: []string{"never"}})
	gw, _ := newTestGateway(t, nil, p)

	for _, path := range []string{"/api/translate", "/api/translate-non-stream"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(gw, http.MethodPost, path, `{}`)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"缺少文本参数"}`, rec.Body.String())
			assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
		})
	}
	assert.Empty(t, p.Calls())
}

func TestTranslate_Streams(t *testing.T) {
	p := provider.NewScripted(provider.Script{Fragments: []string{"你好", "，", "<世界>"}})
	gw, ledger := newTestGateway(t, nil, p)
	srv := newTestServer(t, gw)

	resp := postJSON(t, context.Background(), srv.URL+"/api/translate", `{"text":"hello, <world>"}`)
	body := readBody(t, resp)

	assert.Equal(t, "data: {\"content\":\"你好\"}\n\ndata: {\"content\":\"，\"}\n\ndata: {\"content\":\"<世界>\"}\n\ndata: [DONE]\n\n", body)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []conversation.Turn{
		conversation.System(config.DefaultTranslatePrompt),
		conversation.User("hello, <world>"),
	}, calls[0])

	n, err := gw.sessions.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "translation must not create a session")

	records := usageRecords(t, ledger)
	require.Len(t, records, 1)
	assert.Equal(t, routeTranslate, records[0].Route)
	assert.Empty(t, records[0].SessionID)
}

func TestStream_FailureBeforeFirstFragment(t *testing.T) {
	gw, ledger := newTestGateway(t, nil, provider.NewScripted(provider.Script{Err: errors.New("upstream down")}))
	srv := newTestServer(t, gw)

	resp := postJSON(t, context.Background(), srv.URL+"/api/chat", `{"query":"hello","sessionId":"s1"}`)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, decodeJSON(t, body)["error"], "upstream down")
	assert.Empty(t, history(t, gw, "s1"))

	records := usageRecords(t, ledger)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusFailed, records[0].Status)
	assert.Contains(t, records[0].Error, "upstream down")
}

func TestStream_FailureAfterFragment(t *testing.T) {
	gw, ledger := newTestGateway(t, nil, provider.NewScripted(provider.Script{
		Fragments: []string{"partial"},
		Err:       errors.New("connection reset"),
	}))
	srv := newTestServer(t, gw)

	resp := postJSON(t, context.Background(), srv.URL+"/api/chat", `{"query":"hello","sessionId":"s1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sc := sse.NewScanner(resp.Body)
	var events []sse.Event
	for sc.Next() {
		events = append(events, sc.Event())
	}
	require.NoError(t, sc.Err())
	_ = resp.Body.Close()

	require.Len(t, events, 2)
	assert.Equal(t, sse.Content{Fragment: "partial"}, events[0])
	errEvent, ok := events[1].(sse.Error)
	require.True(t, ok, "second event should be an error, got %T", events[1])
	assert.Contains(t, errEvent.Message, "connection reset")

	assert.Empty(t, history(t, gw, "s1"), "interrupted exchange must not be committed")

	records := usageRecords(t, ledger)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusFailed, records[0].Status)
	assert.Equal(t, 1, records[0].Fragments)
}

func TestStream_EmptyAnswer(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted(provider.Script{}))

	rec := serve(gw, http.MethodPost, "/api/chat", `{"query":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
	assert.Equal(t, []conversation.Turn{
		conversation.User("hello"),
		conversation.Assistant(""),
	}, history(t, gw, "default"))
}

func TestStream_ClientDisconnect(t *testing.T) {
	fragments := make([]string, 100)
	for i := range fragments {
		fragments[i] = "x"
	}
	gw, ledger := newTestGateway(t, nil, provider.NewScripted(provider.Script{
		Fragments: fragments,
		Delay:     10 * time.Millisecond,
	}))
	srv := newTestServer(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := postJSON(t, ctx, srv.URL+"/api/chat", `{"query":"hello","sessionId":"s1"}`)

	sc := sse.NewScanner(resp.Body)
	require.True(t, sc.Next())
	assert.Equal(t, sse.Content{Fragment: "x"}, sc.Event())
	cancel()
	_ = resp.Body.Close()

	require.Eventually(t, func() bool {
		return len(usageRecords(t, ledger)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	records := usageRecords(t, ledger)
	assert.Equal(t, store.StatusDisconnected, records[0].Status)
	assert.Less(t, records[0].Fragments, len(fragments))
	assert.Empty(t, history(t, gw, "s1"), "disconnected exchange must not be committed")
}

func TestTranslateNonStream(t *testing.T) {
	gw, ledger := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"你好", "世界"}}))

	rec := serve(gw, http.MethodPost, "/api/translate-non-stream", `{"text":"hello world"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"你好世界"}`, rec.Body.String())

	records := usageRecords(t, ledger)
	require.Len(t, records, 1)
	assert.Equal(t, routeTranslateNonStream, records[0].Route)
	assert.Equal(t, store.StatusCompleted, records[0].Status)
}

func TestTranslateNonStream_Failure(t *testing.T) {
	gw, ledger := newTestGateway(t, nil, provider.NewScripted(provider.Script{Err: errors.New("quota exceeded")}))

	rec := serve(gw, http.MethodPost, "/api/translate-non-stream", `{"text":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeJSON(t, rec.Body.String())["error"], "quota exceeded")

	records := usageRecords(t, ledger)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusFailed, records[0].Status)
}

func TestGetSession(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"**bold** <script>x</script>"}}))
	serve(gw, http.MethodPost, "/api/chat", `{"query":"hi","sessionId":"s1"}`)

	rec := serve(gw, http.MethodGet, "/api/session/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var plain SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plain))
	assert.Equal(t, "s1", plain.SessionID)
	require.Len(t, plain.Turns, 2)
	assert.Equal(t, TurnResponse{Role: "user", Content: "hi"}, plain.Turns[0])
	assert.Empty(t, plain.Turns[1].HTML)

	rec = serve(gw, http.MethodGet, "/api/session/s1?format=html", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rendered SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rendered))
	require.Len(t, rendered.Turns, 2)
	assert.Contains(t, rendered.Turns[1].HTML, "<strong>bold</strong>")
	assert.NotContains(t, rendered.Turns[1].HTML, "<script>")
}

func TestGetSession_Unknown(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted())

	rec := serve(gw, http.MethodGet, "/api/session/nobody", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessionId":"nobody","turns":[]}`, rec.Body.String())
}

func TestClearSession_Idempotent(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"ok"}}))
	serve(gw, http.MethodPost, "/api/chat", `{"query":"hi","sessionId":"s1"}`)
	require.Len(t, history(t, gw, "s1"), 2)

	for i := 0; i < 2; i++ {
		rec := serve(gw, http.MethodDelete, "/api/session/s1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"会话已清除"}`, rec.Body.String())
	}
	assert.Empty(t, history(t, gw, "s1"))
}

func TestAPIHealth(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted())

	rec := serve(gw, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	ts, err := time.Parse(time.RFC3339, resp.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
	assert.True(t, strings.HasSuffix(resp.Timestamp, "Z"))
}

func TestUsageStats(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"ok"}}))
	serve(gw, http.MethodPost, "/api/chat", `{"query":"hi","sessionId":"s1"}`)
	serve(gw, http.MethodPost, "/api/translate", `{"text":"hi"}`)

	rec := serve(gw, http.MethodGet, "/api/stats/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all store.UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, int64(2), all.RequestCount)
	assert.Equal(t, int64(2), all.Completed)

	rec = serve(gw, http.MethodGet, "/api/stats/usage?route=chat&session_id=s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var chat store.UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, int64(1), chat.RequestCount)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = serve(gw, http.MethodGet, "/api/stats/usage?since="+future, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var none store.UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &none))
	assert.Zero(t, none.RequestCount)

	rec = serve(gw, http.MethodGet, "/api/stats/usage?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted())

	for _, path := range []string{"/api/chat", "/api/translate", "/api/session/x"} {
		rec := serve(gw, http.MethodOptions, path, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Empty(t, rec.Body.String())
	}
}

func TestRequestID(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted())

	first := serve(gw, http.MethodGet, "/api/health", "").Header().Get(RequestIDHeader)
	second := serve(gw, http.MethodGet, "/api/health", "").Header().Get(RequestIDHeader)

	_, err := uuid.Parse(first)
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestMethodNotAllowed(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted())

	rec := serve(gw, http.MethodGet, "/api/chat", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// panicProvider blows up when asked to stream.
type panicProvider struct{}

func (panicProvider) Name() string { return "panic" }

func (panicProvider) Stream(context.Context, []conversation.Turn) (conversation.Stream, error) {
	panic("provider exploded")
}

func (panicProvider) Complete(context.Context, []conversation.Turn) (string, error) {
	panic("provider exploded")
}

func TestRecoverMiddleware(t *testing.T) {
	gw, _ := newTestGateway(t, nil, panicProvider{})

	rec := serve(gw, http.MethodPost, "/api/chat", `{"query":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"服务器内部错误"}`, rec.Body.String())
	assert.Empty(t, history(t, gw, "default"))
}

func TestRequestBodyTooLarge(t *testing.T) {
	gw, _ := newTestGateway(t, nil, provider.NewScripted(provider.Script{Fragments: []string{"ok"}}))

	big := `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/translate", bytes.NewBufferString(big))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"缺少文本参数"}`, rec.Body.String())
}
