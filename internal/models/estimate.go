package models

import (
	"fmt"
	"math"
	"strings"
)

// Confidence is a coarse low/medium/high label.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is one of the known labels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

const (
	MinKeyFactors = 1
	MaxKeyFactors = 5
)

// Estimate is a structured probability estimate produced by the estimator.
type Estimate struct {
	Probability float64    `json:"probability"`
	Reasoning   string     `json:"reasoning"`
	Confidence  Confidence `json:"confidence"`
	KeyFactors  []string   `json:"key_factors"`
}

// ValidationError describes why an estimate was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid estimate: %s: %s", e.Field, e.Reason)
}

// Validate checks the estimate against the schema the pipeline accepts.
func (e Estimate) Validate() error {
	if math.IsNaN(e.Probability) || e.Probability < 0 || e.Probability > 1 {
		return &ValidationError{Field: "probability", Reason: fmt.Sprintf("%v outside [0,1]", e.Probability)}
	}
	if strings.TrimSpace(e.Reasoning) == "" {
		return &ValidationError{Field: "reasoning", Reason: "empty"}
	}
	if !e.Confidence.Valid() {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("unknown label %q", e.Confidence)}
	}
	if n := len(e.KeyFactors); n < MinKeyFactors || n > MaxKeyFactors {
		return &ValidationError{Field: "key_factors", Reason: fmt.Sprintf("got %d, want %d-%d", n, MinKeyFactors, MaxKeyFactors)}
	}
	for i, f := range e.KeyFactors {
		if strings.TrimSpace(f) == "" {
			return &ValidationError{Field: "key_factors", Reason: fmt.Sprintf("factor %d is blank", i)}
		}
	}
	return nil
}
