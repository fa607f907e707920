package llm

import (
	"context"
)

// Client is a text generation backend. Its output is untrusted.
type Client interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Response is one completion returned by the backend
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Config holds configuration for LLM clients
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   int
	MaxTokens int
}
