// Package enrich derives the stored companion of a message: a narrative
// context summary, the semantic meaning, and an embedding vector, produced by
// two model calls and persisted only when both succeed.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Analysis is the fixed two-field output contract of the completion call.
type Analysis struct {
	Context string `json:"context"`
	Meaning string `json:"meaning"`
}

// Analyzer performs the structured completion call.
type Analyzer interface {
	Analyze(ctx context.Context, systemPrompt, prompt string) (*Analysis, error)
}

// Embedder performs the embedding call. Embed must return a vector of exactly
// Dimensions entries or fail.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// ClientConfig configures the OpenAI-compatible model client.
type ClientConfig struct {
	Token               string
	BaseURL             string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
	Temperature         float32
	Timeout             time.Duration
}

// Client talks to any OpenAI-compatible endpoint. It implements both Analyzer
// and Embedder.
type Client struct {
	api        *openai.Client
	model      string
	embedModel string
	dimensions int
	temp       float32
	timeout    time.Duration
}

// NewClient creates a model client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("model API token is required")
	}
	if cfg.EmbeddingDimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}

	clientConfig := openai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		api:        openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		embedModel: cfg.EmbeddingModel,
		dimensions: cfg.EmbeddingDimensions,
		temp:       cfg.Temperature,
		timeout:    timeout,
	}, nil
}

// jsonSchema implements json.Marshaler for the response_format schema. The
// alias type prevents infinite recursion during marshaling.
type jsonSchema struct {
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Type                 string                 `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}

var analysisSchema = &jsonSchema{
	Type: "object",
	Properties: map[string]*jsonSchema{
		"context": {
			Type:        "string",
			Description: "Narrative summary of the conversation preceding the target message.",
		},
		"meaning": {
			Type:        "string",
			Description: "The semantic gist of the target message itself.",
		},
	},
	Required: []string{"context", "meaning"},
}

// Analyze runs the structured completion call. A response that does not match
// the two-field contract is a hard failure, never silently coerced.
func (c *Client) Analyze(ctx context.Context, systemPrompt, prompt string) (*Analysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "message_analysis",
				Strict: true,
				Schema: analysisSchema,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("completion returned no choices")
	}

	return parseAnalysis(resp.Choices[0].Message.Content)
}

func parseAnalysis(content string) (*Analysis, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()

	var out Analysis
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("model response violates the output contract: %w", err)
	}
	if out.Context == "" || out.Meaning == "" {
		return nil, errors.New("model response violates the output contract: empty field")
	}
	return &out, nil
}

// Embed produces the dense vector for text and enforces the declared
// dimensionality, which must match the storage column exactly.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.embedModel),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response is empty")
	}

	vector := resp.Data[0].Embedding
	if len(vector) != c.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), c.dimensions)
	}
	return vector, nil
}

// Dimensions returns the configured embedding width.
func (c *Client) Dimensions() int {
	return c.dimensions
}
