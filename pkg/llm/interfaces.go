// Package llm provides the chat and embedding clients used by the
// schema-linking orchestrator, with OpenAI-compatible and Anthropic
// backends behind one narrow interface.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat sends an ordered message list and returns the model's raw text reply.
// Callers expecting SQL must strip or reject markdown fencing themselves
// (see CleanSQL).
type Chat interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Embedder converts texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// SystemMessage is a convenience constructor.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is a convenience constructor.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage is a convenience constructor.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
