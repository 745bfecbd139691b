// ABOUTME: Anthropic messages backend
// ABOUTME: System turns become the system parameter; text deltas become fragments

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/2389/parley/internal/conversation"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
	MaxRetries  int
}

// Anthropic implements Provider using the official anthropic-sdk-go client.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) params(turns []conversation.Turn) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: t.Content})
		case conversation.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case conversation.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported role %q", t.Role)
		}
	}

	maxTokens := p.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
		System:    system,
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(p.cfg.Temperature)
	}
	return params, nil
}

func (p *Anthropic) Stream(ctx context.Context, turns []conversation.Turn) (conversation.Stream, error) {
	params, err := p.params(turns)
	if err != nil {
		return nil, &Error{Provider: p.Name(), Err: err}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	next := func() (string, error) {
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				return text.Text, nil
			}
		}
		if err := stream.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return newFragmentStream(p.Name(), next, stream.Close), nil
}

func (p *Anthropic) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	params, err := p.params(turns)
	if err != nil {
		return "", &Error{Provider: p.Name(), Err: err}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: p.Name(), Err: err}
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", &Error{Provider: p.Name(), Err: errors.New("response has no text content")}
	}
	return out.String(), nil
}

// Ensure Anthropic implements Provider
var _ Provider = (*Anthropic)(nil)
