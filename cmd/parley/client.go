// ABOUTME: HTTP client subcommands that talk to a running gateway
// ABOUTME: health, chat (interactive), translate, clear and stats

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/sse"
)

// apiClient is a thin client for the gateway's JSON and SSE routes.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// apiError is a non-2xx response carrying the gateway's {"error": ...} body.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to gateway: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// stream posts body to path and hands every content fragment to onFragment.
// It returns the full answer once the stream ends with [DONE].
func (c *apiClient) stream(ctx context.Context, path string, body any, onFragment func(string)) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var answer strings.Builder
	sc := sse.NewScanner(resp.Body)
	for sc.Next() {
		switch ev := sc.Event().(type) {
		case sse.Content:
			answer.WriteString(ev.Fragment)
			if onFragment != nil {
				onFragment(ev.Fragment)
			}
		case sse.Error:
			return answer.String(), errors.New(ev.Message)
		case sse.Done:
			return answer.String(), nil
		}
	}
	if err := sc.Err(); err != nil {
		return answer.String(), fmt.Errorf("reading stream: %w", err)
	}
	return answer.String(), nil
}

// Chat streams an answer for query in the given session.
func (c *apiClient) Chat(ctx context.Context, sessionID, query string, onFragment func(string)) (string, error) {
	return c.stream(ctx, "/api/chat", map[string]string{"query": query, "sessionId": sessionID}, onFragment)
}

// Translate streams a translation of text.
func (c *apiClient) Translate(ctx context.Context, text string, onFragment func(string)) (string, error) {
	return c.stream(ctx, "/api/translate", map[string]string{"text": text}, onFragment)
}

// TranslateOnce returns a translation of text in a single response.
func (c *apiClient) TranslateOnce(ctx context.Context, text string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/translate-non-stream", map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Result, nil
}

// Clear forgets a session's history.
func (c *apiClient) Clear(ctx context.Context, sessionID string) (string, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/api/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Message, nil
}

// Health returns the gateway's reported status.
func (c *apiClient) Health(ctx context.Context) (string, error) {
	var out struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := c.getJSON(ctx, "/api/health", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// usageStats mirrors the gateway's usage summary.
type usageStats struct {
	RequestCount     int     `json:"request_count"`
	Completed        int     `json:"completed"`
	Failed           int     `json:"failed"`
	Disconnected     int     `json:"disconnected"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
}

// Stats fetches usage totals, optionally filtered.
func (c *apiClient) Stats(ctx context.Context, route, sessionID string, since time.Duration) (*usageStats, error) {
	q := url.Values{}
	if route != "" {
		q.Set("route", route)
	}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if since > 0 {
		q.Set("since", time.Now().Add(-since).UTC().Format(time.RFC3339))
	}

	path := "/api/stats/usage"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out usageStats
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// resolveServerURL picks the gateway URL: --url / PARLEY_URL, then the
// configured listen address.
func resolveServerURL(flags *globalFlags) string {
	if flags.serverURL != "" {
		return flags.serverURL
	}
	cfg, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		cfg = config.Default()
	}
	return "http://" + cfg.Server.HTTPAddr
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the gateway is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			status, err := newAPIClient(resolveServerURL(flags)).Health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newTranslateCmd(flags *globalFlags) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "translate [text]",
		Short: "Translate text (reads stdin when no argument is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}

			client := newAPIClient(resolveServerURL(flags))
			out := cmd.OutOrStdout()

			if once {
				result, err := client.TranslateOnce(cmd.Context(), text)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, result)
				return nil
			}

			_, err := client.Translate(cmd.Context(), text, func(fragment string) {
				fmt.Fprint(out, fragment)
			})
			fmt.Fprintln(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "no-stream", false, "wait for the whole translation instead of streaming")
	return cmd
}

func newClearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Forget a chat session's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newAPIClient(resolveServerURL(flags)).Clear(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var (
		route     string
		sessionID string
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage totals from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newAPIClient(resolveServerURL(flags)).Stats(cmd.Context(), route, sessionID, since)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&route, "route", "", "only count one route (chat, translate, translate-non-stream)")
	cmd.Flags().StringVar(&sessionID, "session", "", "only count one session")
	cmd.Flags().DurationVar(&since, "since", 0, "only count requests newer than this (e.g. 24h)")
	return cmd
}

func printStats(out io.Writer, s *usageStats) {
	label := color.New(color.FgHiBlack)
	row := func(name string, value any) {
		label.Fprintf(out, "%-18s", name)
		fmt.Fprintln(out, value)
	}
	row("requests", s.RequestCount)
	row("completed", s.Completed)
	row("failed", s.Failed)
	row("disconnected", s.Disconnected)
	row("prompt tokens", s.PromptTokens)
	row("completion tokens", s.CompletionTokens)
	row("total tokens", s.TotalTokens)
	row("avg duration", time.Duration(s.AvgDurationMs*float64(time.Millisecond)).Round(time.Millisecond))
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the gateway interactively",
		Long: `Reads one question per line and streams the answer.
Type /clear to forget the session's history and /quit to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(resolveServerURL(flags))
			return runChat(cmd.Context(), client, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (empty uses the gateway default)")
	return cmd
}

func runChat(ctx context.Context, client *apiClient, sessionID string, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	you := color.New(color.FgGreen, color.Bold)
	errColor := color.New(color.FgRed)

	for {
		you.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return nil
		}
		line = strings.TrimSpace(line)

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			id := sessionID
			if id == "" {
				id = config.Default().Sessions.DefaultID
			}
			msg, err := client.Clear(ctx, id)
			if err != nil {
				errColor.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, msg)
			continue
		}

		_, err = client.Chat(ctx, sessionID, line, func(fragment string) {
			fmt.Fprint(out, fragment)
		})
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errColor.Fprintf(out, "error: %v\n", err)
		}
	}
}
