// Package ai contains AIProvider adapters used by plan synthesis.
package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/studyforge/studyplanner/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// GEMINI PROVIDER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider streams completions through the Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{client: client, model: model, temperature: 0.4}, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini:" + p.model
}

// GenerateStreaming sends prompt and forwards every text chunk to onDelta.
func (p *GeminiProvider) GenerateStreaming(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(p.temperature),
		ResponseMIMEType: "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var full strings.Builder
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
		if err != nil {
			if full.Len() == 0 && ctx.Err() == nil {
				return "", retry.Retryable(fmt.Errorf("gemini: stream failed: %w", err))
			}
			return full.String(), fmt.Errorf("gemini: stream failed: %w", err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := ctx.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}
