package estimator

import (
	"context"
	"strings"
)

// Completer is the single LLM call the estimator needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config controls the estimator behavior.
type Config struct {
	LLMClient    Completer
	SystemPrompt string
	// MaxArticles bounds how many news items are placed in the prompt.
	MaxArticles int
	// MaxBodyChars truncates each article body in the prompt.
	MaxBodyChars int
}

// rawResult mirrors the JSON object the model is asked to return.
type rawResult struct {
	Probability *float64 `json:"probability"`
	Reasoning   string   `json:"reasoning"`
	Confidence  string   `json:"confidence"`
	KeyFactors  []string `json:"key_factors"`
}

func normalizeConfidence(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
