// Package llm builds the language models used for reply generation.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// DefaultModel is used when neither the config nor GOOGLE_MODEL names one.
const DefaultModel = "gemini-2.5-flash"

// GeminiConfig holds configuration for the Gemini model.
type GeminiConfig struct {
	APIKey string // If empty, uses GOOGLE_API_KEY env var
	Model  string // If empty, uses GOOGLE_MODEL env var, then DefaultModel
}

// NewGeminiModel creates an ADK model backed by the Gemini API.
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (model.LLM, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY not set")
	}

	name := cfg.Model
	if name == "" {
		name = os.Getenv("GOOGLE_MODEL")
	}
	if name == "" {
		name = DefaultModel
	}

	m, err := gemini.NewModel(ctx, name, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model (%s): %w", name, err)
	}
	return m, nil
}

// Result is the collected output of one model call.
type Result struct {
	Text  string
	Usage *genai.GenerateContentResponseUsageMetadata
}

// Generate sends a single user prompt to m and collects the text parts of
// the response.
func Generate(ctx context.Context, m model.LLM, prompt string, config *genai.GenerateContentConfig) (*Result, error) {
	req := &model.LLMRequest{
		Model:    m.Name(),
		Contents: []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		Config:   config,
	}

	var (
		sb  strings.Builder
		res Result
	)
	for resp, err := range m.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, fmt.Errorf("%s generate failed: %w", m.Name(), err)
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			res.Usage = resp.UsageMetadata
		}
		if resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	res.Text = sb.String()
	return &res, nil
}
