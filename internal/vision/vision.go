// Package vision implements photo recognition through Google's Gemini API.
// Attachments flagged by a chat's recognize_photo toggle are described here
// and the text is stored next to the message.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultInstruction = "Describe the attached image in two or three factual sentences. " +
	"Mention visible text verbatim. Do not speculate about anything outside the frame."

// Describer produces a textual description of one image.
type Describer interface {
	DescribeImage(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

// Config configures the Gemini-backed describer.
type Config struct {
	APIKey      string
	Model       string
	Instruction string
	MaxRetries  int
	RetryDelay  time.Duration
}

type sdkClient struct {
	genaiClient *genai.Client
	log         *slog.Logger
	config      *genai.GenerateContentConfig
	model       string
	maxRetries  int
	retryDelay  time.Duration
}

// NewClient creates a Gemini-backed Describer.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (Describer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	instruction := cfg.Instruction
	if instruction == "" {
		instruction = defaultInstruction
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	logger := log.With("component", "vision_client")
	logger.Info("Vision client initialized", "model", cfg.Model)
	return &sdkClient{
		genaiClient: gi,
		log:         logger,
		config: &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: instruction}}},
		},
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
	}, nil
}

func (c *sdkClient) DescribeImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	if len(imageData) == 0 || mimeType == "" {
		return "", fmt.Errorf("image data and MIME type are required")
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromBytes(imageData, mimeType)}, genai.RoleUser),
	}

	resp, err := c.generateWithRetries(ctx, contents)
	if err != nil {
		c.log.ErrorContext(ctx, "Image description failed", "error", err)
		return "", fmt.Errorf("image description failed: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		return "", fmt.Errorf("image description blocked by safety filter: %s", reason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("image description returned no content")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("image description is empty")
	}
	return text, nil
}

func (c *sdkClient) generateWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		resp, err := c.genaiClient.Models.GenerateContent(ctx, c.model, contents, c.config)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) && i < c.maxRetries {
			c.log.WarnContext(ctx, "Retriable vision API error",
				"attempt", i+1, "code", apiErr.Code, "delay", c.retryDelay)
			select {
			case <-time.After(c.retryDelay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		break
	}
	return nil, lastErr
}
