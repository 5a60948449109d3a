package estimator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
)

type promptPayload struct {
	Question       string           `json:"question"`
	EndDateUTC     string           `json:"end_date_utc,omitempty"`
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Articles       []articlePayload `json:"articles"`
}

type articlePayload struct {
	Title       string `json:"title"`
	Source      string `json:"source,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
}

func buildPromptPayload(question string, news []models.NewsItem, endDate, now time.Time, maxArticles, maxBody int) promptPayload {
	p := promptPayload{
		Question:       strings.TrimSpace(question),
		GeneratedAtUTC: now.UTC().Format(time.RFC3339),
	}
	if !endDate.IsZero() {
		p.EndDateUTC = endDate.UTC().Format(time.RFC3339)
	}
	for i, n := range news {
		if maxArticles > 0 && i >= maxArticles {
			break
		}
		a := articlePayload{
			Title:   strings.TrimSpace(n.Title),
			Source:  n.Source,
			Excerpt: truncateRunes(strings.TrimSpace(n.Body), maxBody),
		}
		if !n.PublishedAt.IsZero() {
			a.PublishedAt = n.PublishedAt.UTC().Format(time.RFC3339)
		}
		p.Articles = append(p.Articles, a)
	}
	return p
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// parseResult extracts the JSON object from the model output and validates it.
func parseResult(raw string) (models.Estimate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Estimate{}, fmt.Errorf("estimator: empty llm response")
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	var res rawResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return models.Estimate{}, fmt.Errorf("estimator: decode: %w", err)
	}
	if res.Probability == nil {
		return models.Estimate{}, &models.ValidationError{Field: "probability", Reason: "missing"}
	}
	est := models.Estimate{
		Probability: *res.Probability,
		Reasoning:   strings.TrimSpace(res.Reasoning),
		Confidence:  models.Confidence(normalizeConfidence(res.Confidence)),
		KeyFactors:  res.KeyFactors,
	}
	if err := est.Validate(); err != nil {
		return models.Estimate{}, err
	}
	return est, nil
}
