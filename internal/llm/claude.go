package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/observability"
)

const (
	ClaudeAPIBaseURL = "https://api.anthropic.com/v1"
	ClaudeVersion    = "2023-06-01"
	MaxTokens        = 1000
	Temperature      = 0.0 // deterministic SQL
	DefaultModel     = "claude-3-5-sonnet-20241022"

	// EmbeddingDim matches the question_log.embedding column
	EmbeddingDim = 384
)

// ClaudeClient implements the Client interface using Anthropic's Claude API
type ClaudeClient struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	retry     RetryConfig
	client    *http.Client
}

// Claude API request structures
type ClaudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Claude API response structures
type ClaudeResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Error response structure
type ClaudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ClaudeErrorResponse struct {
	Error ClaudeError `json:"error"`
}

// NewClaudeClient creates a new Claude client
func NewClaudeClient(apiKey, model string) (*ClaudeClient, error) {
	return NewClaudeClientWithConfig(Config{APIKey: apiKey, Model: model})
}

// NewClaudeClientWithConfig creates a Claude client from cfg. Zero values
// take the package defaults.
func NewClaudeClientWithConfig(cfg Config) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ClaudeAPIBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = MaxTokens
	}
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &ClaudeClient{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens: cfg.MaxTokens,
		retry:     DefaultRetryConfig,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// WithRetryConfig replaces the retry policy
func (c *ClaudeClient) WithRetryConfig(cfg RetryConfig) *ClaudeClient {
	c.retry = cfg
	return c
}

// Generate sends a prompt to Claude and returns the text of the reply
func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (*Response, error) {
	start := time.Now()
	request := ClaudeRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: Temperature,
		Messages: []Message{
			{
				Role:    "user",
				Content: prompt,
			},
		},
	}

	response, err := c.sendClaudeRequestWithRetry(ctx, request)
	if err != nil {
		observability.RecordLLMMetrics("generate", time.Since(start), 0, err)
		return nil, fmt.Errorf("failed to send request to Claude: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &Response{
		Text:         strings.TrimSpace(text.String()),
		Model:        response.Model,
		StopReason:   response.StopReason,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}
	if out.Text == "" {
		err := fmt.Errorf("Claude returned an empty response")
		observability.RecordLLMMetrics("generate", time.Since(start), out.TotalTokens(), err)
		return nil, err
	}

	observability.RecordLLMMetrics("generate", time.Since(start), out.TotalTokens(), nil)
	return out, nil
}

// GetEmbedding returns a hashed bag-of-words vector. The messages API has no
// embedding endpoint, so similarity is lexical.
func (c *ClaudeClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	return HashEmbedding(text), nil
}

// sendClaudeRequest handles the HTTP communication with Claude API
func (c *ClaudeClient) sendClaudeRequest(ctx context.Context, request ClaudeRequest) (*ClaudeResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", ClaudeVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleAPIError(resp.StatusCode, body)
	}

	var claudeResponse ClaudeResponse
	if err := json.Unmarshal(body, &claudeResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &claudeResponse, nil
}

// APIError is a non-200 reply from the Claude API
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Sprintf("invalid API key: %s", e.Message)
	case http.StatusTooManyRequests:
		return fmt.Sprintf("rate limit exceeded: %s", e.Message)
	case http.StatusBadRequest:
		return fmt.Sprintf("bad request: %s", e.Message)
	default:
		return fmt.Sprintf("Claude API error %d: %s", e.StatusCode, e.Message)
	}
}

// Retryable reports whether the status is worth retrying
func (e *APIError) Retryable() bool {
	return isHTTPStatusRetryable(e.StatusCode)
}

// handleAPIError processes Claude API errors
func (c *ClaudeClient) handleAPIError(statusCode int, body []byte) error {
	var errorResponse ClaudeErrorResponse
	if err := json.Unmarshal(body, &errorResponse); err != nil || errorResponse.Error.Message == "" {
		return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{
		StatusCode: statusCode,
		Type:       errorResponse.Error.Type,
		Message:    errorResponse.Error.Message,
	}
}

// HashEmbedding maps words and word pairs of text into a fixed size unit
// vector. Accents and case are ignored.
func HashEmbedding(text string) []float32 {
	embedding := make([]float32, EmbeddingDim)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})

	bucket := func(token string) int {
		h := fnv.New32a()
		h.Write([]byte(token))
		return int(h.Sum32() % EmbeddingDim)
	}

	for i, w := range words {
		embedding[bucket(w)] += 1
		if i > 0 {
			embedding[bucket(words[i-1]+" "+w)] += 0.5
		}
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v * v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range embedding {
			embedding[i] *= scale
		}
	}

	return embedding
}
