// ABOUTME: OpenAI chat-completions backend, usable with any OpenAI-compatible endpoint
// ABOUTME: Streams delta content through the shared fragment stream

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389/parley/internal/conversation"
)

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty means api.openai.com
	Model       string
	Temperature float64
	MaxTokens   int64
	MaxRetries  int
}

// OpenAI implements Provider using the official openai-go client.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) params(turns []conversation.Turn) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case conversation.RoleUser:
			messages = append(messages, openai.UserMessage(t.Content))
		case conversation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported role %q", t.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: messages,
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = openai.Float(p.cfg.Temperature)
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(p.cfg.MaxTokens)
	}
	return params, nil
}

func (p *OpenAI) Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error) {
	params, err := p.params(turns)
	if err != nil {
		return nil, &Error{Provider: p.Name(), Err: err}
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	next := func() (string, error) {
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				return content, nil
			}
		}
		if err := stream.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return newFragmentStream(p.Name(), next, stream.Close), nil
}

func (p *OpenAI) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	params, err := p.params(turns)
	if err != nil {
		return "", &Error{Provider: p.Name(), Err: err}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: p.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: p.Name(), Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Ensure OpenAI implements Provider
var _ Provider = (*OpenAI)(nil)
