// Package llm is a thin chat-completion client for any OpenAI-compatible
// provider. Transient provider failures go through internal/retry.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/hetulpatel/darwin/internal/logging"
	"github.com/hetulpatel/darwin/internal/retry"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 800
	defaultTimeout   = 60 * time.Second
)

// ErrEmptyResponse is returned when the provider answers with no choices
// or only whitespace.
var ErrEmptyResponse = errors.New("llm: empty response")

// Config holds client settings. Zero values take defaults.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
	// Retry defaults to retry.DefaultPolicy.
	Retry *retry.Policy
}

func (c *Config) normalize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Client sends single-shot system/user prompts.
type Client struct {
	api    *openai.Client
	cfg    Config
	policy retry.Policy
	log    *logrus.Entry
}

// New creates a client. An API key is required.
func New(cfg Config) (*Client, error) {
	cfg.normalize()
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	policy := retry.DefaultPolicy
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	return &Client{
		api:    openai.NewClientWithConfig(oc),
		cfg:    cfg,
		policy: policy,
		log:    logging.With("llm").WithField("model", cfg.Model),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.cfg.Model
}

// Complete returns the trimmed text of the first choice. Each attempt gets
// its own timeout; 429 and 5xx answers are retried.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c == nil {
		return "", errors.New("llm: client is nil")
	}
	if strings.TrimSpace(systemPrompt) == "" || strings.TrimSpace(userPrompt) == "" {
		return "", errors.New("llm: prompts must be provided")
	}

	req := c.request(systemPrompt, userPrompt)
	var out string
	attempt := 0
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		start := time.Now()
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			err = classify(err)
			c.log.WithError(err).WithField("attempt", attempt).Debug("chat completion failed")
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		if out == "" {
			return ErrEmptyResponse
		}
		c.log.WithFields(logrus.Fields{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"took":              time.Since(start).Round(time.Millisecond),
		}).Debug("chat completion")
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return "", err
		}
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	return out, nil
}

func (c *Client) request(systemPrompt, userPrompt string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if c.cfg.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req
}

// classify wraps provider HTTP failures in retry.StatusError so the retry
// policy can see the status code.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Code: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
