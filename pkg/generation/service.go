package generation

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/cpunion/cast-bot/pkg/llm"
	"github.com/cpunion/cast-bot/pkg/types"
)

// Config configures an LLMService.
type Config struct {
	Model model.LLM
	// ClassifierModel answers should-respond; Model is used when nil.
	ClassifierModel model.LLM

	ShouldRespondTemplate string
	ReplyTemplate         string

	Temperature     float32
	MaxOutputTokens int32
}

// LLMService implements Service on top of an ADK model.
type LLMService struct {
	model      model.LLM
	classifier model.LLM

	shouldRespondTmpl string
	replyTmpl         string

	replyConfig    *genai.GenerateContentConfig
	classifyConfig *genai.GenerateContentConfig
}

// NewLLMService creates a generation service. Empty templates fall back to
// ShouldRespondTemplate and ReplyTemplate.
func NewLLMService(cfg Config) (*LLMService, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("generation model is required")
	}
	s := &LLMService{
		model:             cfg.Model,
		classifier:        cfg.ClassifierModel,
		shouldRespondTmpl: cfg.ShouldRespondTemplate,
		replyTmpl:         cfg.ReplyTemplate,
	}
	if s.classifier == nil {
		s.classifier = cfg.Model
	}
	if s.shouldRespondTmpl == "" {
		s.shouldRespondTmpl = ShouldRespondTemplate
	}
	if s.replyTmpl == "" {
		s.replyTmpl = ReplyTemplate
	}

	s.replyConfig = &genai.GenerateContentConfig{}
	if cfg.Temperature > 0 {
		s.replyConfig.Temperature = genai.Ptr(cfg.Temperature)
	}
	if cfg.MaxOutputTokens > 0 {
		s.replyConfig.MaxOutputTokens = cfg.MaxOutputTokens
	}
	s.classifyConfig = &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	return s, nil
}

// ShouldRespond asks the classifier model for a verdict.
func (s *LLMService) ShouldRespond(ctx context.Context, st State) (types.Verdict, error) {
	res, err := llm.Generate(ctx, s.classifier, Compose(s.shouldRespondTmpl, st), s.classifyConfig)
	if err != nil {
		return "", fmt.Errorf("failed to classify: %w", err)
	}
	v := ParseVerdict(res.Text)
	logUsage(st.AgentHandle, "should_respond", s.classifier.Name(), res.Usage)
	return v, nil
}

// GenerateReply asks the model for reply content. Blank output yields
// ErrEmptyResponse.
func (s *LLMService) GenerateReply(ctx context.Context, st State) (types.Content, error) {
	res, err := llm.Generate(ctx, s.model, Compose(s.replyTmpl, st), s.replyConfig)
	if err != nil {
		return types.Content{}, fmt.Errorf("failed to generate reply: %w", err)
	}
	logUsage(st.AgentHandle, "reply", s.model.Name(), res.Usage)

	content := ParseReply(res.Text)
	if content.Text == "" {
		return content, ErrEmptyResponse
	}
	return content, nil
}

func logUsage(handle, call, modelName string, usage *genai.GenerateContentResponseUsageMetadata) {
	if usage == nil {
		return
	}
	log.Printf("[%s] %s via %s: prompt=%d candidates=%d total=%d tokens",
		handle, call, modelName, usage.PromptTokenCount, usage.CandidatesTokenCount, usage.TotalTokenCount)
}
