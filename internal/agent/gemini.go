package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig holds settings for the Gemini generator.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiClient generates decisions with the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// Ensure GeminiClient implements Generator.
var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini generator.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Info("Gemini generator ready", "model", cfg.Model, "timeout", cfg.Timeout)
	return &GeminiClient{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Generate sends the prompt and returns the reply text.
func (g *GeminiClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    decisionSchema(),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	g.logger.Debug("Gemini reply received", "model", g.model, "duration_ms", time.Since(start).Milliseconds(), "bytes", len(text))
	if text == "" {
		return "", ErrNoReply
	}
	return text, nil
}

// decisionSchema mirrors DecisionSchema in the genai schema type.
func decisionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"response":          {Type: genai.TypeString},
			"is_factually_true": {Type: genai.TypeBoolean},
			"action": {
				Type: genai.TypeString,
				Enum: []string{string(ActionNewTopic), string(ActionIncreaseProficiency), string(ActionNoChange)},
			},
			"topic_name":      {Type: genai.TypeString},
			"new_proficiency": {Type: genai.TypeNumber},
		},
		Required: decisionFields,
	}
}
