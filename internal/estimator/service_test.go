package estimator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/models"
)

type fakeLLM struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeLLM) Complete(_ context.Context, _, user string) (string, error) {
	f.lastPrompt = user
	return f.reply, f.err
}

func TestEstimateParsesWrappedJSON(t *testing.T) {
	llm := &fakeLLM{reply: "Sure, here you go:\n```json\n{\"probability\": 0.62, \"reasoning\": \"Polls tightened.\", \"confidence\": \"Medium\", \"key_factors\": [\"polls\", \"turnout\"]}\n```"}
	svc, err := NewService(Config{LLMClient: llm})
	require.NoError(t, err)

	est, err := svc.Estimate(context.Background(), "Will X win?", []models.NewsItem{
		{Title: "Poll shows X ahead", Source: "wire", Body: strings.Repeat("b", 2000)},
	}, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0.62, est.Probability)
	assert.Equal(t, models.ConfidenceMedium, est.Confidence)
	assert.Equal(t, []string{"polls", "turnout"}, est.KeyFactors)
	assert.Contains(t, llm.lastPrompt, "Poll shows X ahead")
	assert.NotContains(t, llm.lastPrompt, strings.Repeat("b", 700))
}

func TestEstimateRejectsInvalidOutput(t *testing.T) {
	cases := map[string]string{
		"not json":         "I think it's likely.",
		"missing prob":     `{"reasoning":"r","confidence":"low","key_factors":["a"]}`,
		"prob out of range": `{"probability":1.5,"reasoning":"r","confidence":"low","key_factors":["a"]}`,
		"bad confidence":   `{"probability":0.5,"reasoning":"r","confidence":"sure","key_factors":["a"]}`,
		"no factors":       `{"probability":0.5,"reasoning":"r","confidence":"low","key_factors":[]}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewService(Config{LLMClient: &fakeLLM{reply: reply}})
			require.NoError(t, err)
			_, err = svc.Estimate(context.Background(), "Q?", nil, time.Time{})
			assert.Error(t, err)
		})
	}
}

func TestEstimateValidationErrorIsTyped(t *testing.T) {
	svc, err := NewService(Config{LLMClient: &fakeLLM{reply: `{"probability":-0.1,"reasoning":"r","confidence":"low","key_factors":["a"]}`}})
	require.NoError(t, err)
	_, err = svc.Estimate(context.Background(), "Q?", nil, time.Time{})
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestEstimatePropagatesLLMError(t *testing.T) {
	svc, err := NewService(Config{LLMClient: &fakeLLM{err: errors.New("timeout")}})
	require.NoError(t, err)
	_, err = svc.Estimate(context.Background(), "Q?", nil, time.Time{})
	assert.ErrorContains(t, err, "llm call")
}

func TestNewServiceRequiresClient(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}
