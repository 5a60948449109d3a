package estimator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
)

const systemPrompt = "You are a calibrated forecaster for binary prediction markets. Estimate the probability that the market resolves YES using only the supplied news and general knowledge. Be conservative when evidence is thin. Respond only with JSON."

// Service produces probability estimates via an LLM.
type Service struct {
	llm          Completer
	systemPrompt string
	maxArticles  int
	maxBody      int
	now          func() time.Time
}

// NewService creates an estimator.
func NewService(cfg Config) (*Service, error) {
	if cfg.LLMClient == nil {
		return nil, fmt.Errorf("estimator: llm client is required")
	}
	system := cfg.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = systemPrompt
	}
	maxArticles := cfg.MaxArticles
	if maxArticles <= 0 {
		maxArticles = 10
	}
	maxBody := cfg.MaxBodyChars
	if maxBody <= 0 {
		maxBody = 600
	}
	return &Service{
		llm:          cfg.LLMClient,
		systemPrompt: system,
		maxArticles:  maxArticles,
		maxBody:      maxBody,
		now:          time.Now,
	}, nil
}

// Estimate asks the model for a probability and returns a validated estimate.
// Malformed or out-of-schema output is an error, never retried.
func (s *Service) Estimate(ctx context.Context, question string, news []models.NewsItem, endDate time.Time) (models.Estimate, error) {
	if s == nil {
		return models.Estimate{}, fmt.Errorf("estimator: service is nil")
	}
	if strings.TrimSpace(question) == "" {
		return models.Estimate{}, fmt.Errorf("estimator: question is empty")
	}

	promptInput := buildPromptPayload(question, news, endDate, s.now(), s.maxArticles, s.maxBody)
	inputJSON, err := json.MarshalIndent(promptInput, "", "  ")
	if err != nil {
		return models.Estimate{}, fmt.Errorf("estimator: marshal prompt input: %w", err)
	}

	userPrompt := strings.Join([]string{
		"Estimate the probability that the following prediction market resolves YES.",
		"Weigh each article by recency and source reliability. Ignore articles that do not bear on the question.",
		"Account for the time remaining until the end date: little time left favors the status quo.",
		"Return EXACTLY this JSON format:\n{\n  \"probability\": 0.0-1.0,\n  \"reasoning\": \"two or three sentences\",\n  \"confidence\": \"low\"|\"medium\"|\"high\",\n  \"key_factors\": [\"1 to 5 short factors\"]\n}\n\nInput JSON:\n" + string(inputJSON),
	}, "\n")

	raw, err := s.llm.Complete(ctx, s.systemPrompt, userPrompt)
	if err != nil {
		return models.Estimate{}, fmt.Errorf("estimator: llm call: %w", err)
	}

	est, err := parseResult(raw)
	if err != nil {
		return models.Estimate{}, fmt.Errorf("estimator: parse response: %w", err)
	}
	return est, nil
}
