package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/config"
	"github.com/lexitau/lexitau-engine/pkg/retry"
)

// AnthropicClient serves chat through the Anthropic Messages API. Anthropic
// has no embeddings endpoint, so it only implements Chat.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

var _ Chat = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client for the Anthropic Messages API.
func NewAnthropicClient(cfg *config.LLMConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger.Named("llm"),
	}, nil
}

// Chat sends the messages and returns the concatenated text blocks of the
// response. System messages are folded into the request's System field.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message) (string, error) {
	var system string
	converted := make([]anthropic.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		text := m.Content
		converted = append(converted, anthropic.Message{
			Role: role,
			Content: []anthropic.MessageContent{
				{Type: "text", Text: &text},
			},
		})
	}

	start := time.Now()
	resp, err := retry.DoWithResult(ctx, nil, func() (anthropic.MessagesResponse, error) {
		return c.client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:     anthropic.Model(c.model),
			System:    system,
			MaxTokens: c.maxTokens,
			Messages:  converted,
		})
	})
	if err != nil {
		c.logger.Error("messages request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("create messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			sb.WriteString(*block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in response")
	}

	c.logger.Debug("messages request",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return sb.String(), nil
}
