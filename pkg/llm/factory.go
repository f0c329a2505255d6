package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/config"
)

// NewChat creates the chat client selected by cfg.Provider.
func NewChat(cfg *config.LLMConfig, logger *zap.Logger) (Chat, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewEmbedder creates the embedding client. Embeddings always go through the
// OpenAI-compatible endpoint since Anthropic has no embeddings API.
func NewEmbedder(cfg *config.LLMConfig, logger *zap.Logger) (Embedder, error) {
	return NewOpenAIClient(cfg, logger)
}
