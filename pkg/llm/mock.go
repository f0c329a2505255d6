package llm

import "context"

// MockChat implements Chat for tests. Set ChatFunc to script behavior; if it
// is nil, responses are popped from Responses in order.
type MockChat struct {
	// ChatFunc is called when Chat is invoked. If nil, Responses is used.
	ChatFunc func(ctx context.Context, messages []Message) (string, error)

	// Responses is a queue of canned replies consumed one per call.
	Responses []string

	// Call tracking for verification
	ChatCalls int
	Requests  [][]Message
}

// Chat implements the Chat interface.
func (m *MockChat) Chat(ctx context.Context, messages []Message) (string, error) {
	m.ChatCalls++
	m.Requests = append(m.Requests, messages)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages)
	}
	if len(m.Responses) > 0 {
		resp := m.Responses[0]
		m.Responses = m.Responses[1:]
		return resp, nil
	}
	return "", nil
}

// MockEmbedder implements Embedder for tests.
type MockEmbedder struct {
	// EmbedFunc is called when Embed is invoked. If nil, a zero vector is
	// returned per input.
	EmbedFunc func(ctx context.Context, inputs []string) ([][]float32, error)

	EmbedCalls int
}

// Embed implements the Embedder interface.
func (m *MockEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, inputs)
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = make([]float32, 8)
	}
	return out, nil
}
