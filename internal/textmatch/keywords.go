// Package textmatch tokenizes headlines and market questions and scores
// their keyword overlap.
package textmatch

import (
	"regexp"
	"strings"
	"unicode"
)

// Default thresholds for a news/market match.
const (
	DefaultMinRatio   = 0.3
	DefaultMinOverlap = 2
	DefaultScoutRatio = 0.4
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be been but by can could did do does
		for from had has have he her his how if in into is it its just may might more most
		no not of on or our out over says said she should so than that the their them then
		there these they this those to up us was we were what when where which while who
		why will with would you your after before about against between during under again
		yes new get gets got vs via amid per also`) {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether w is ignored for matching.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Tokenize returns the unique lower-cased alphanumeric tokens of text that
// are not stop words, in order of first appearance.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || IsStopWord(f) {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Set is a token set built once per market and reused across polls.
type Set map[string]struct{}

// NewSet tokenizes text into a Set.
func NewSet(text string) Set {
	toks := Tokenize(text)
	s := make(Set, len(toks))
	for _, t := range toks {
		s[t] = struct{}{}
	}
	return s
}

// Overlap counts how many of the market tokens appear in the article
// tokens and returns that count over the market token count.
func Overlap(article []string, market Set) (ratio float64, count int) {
	if len(market) == 0 {
		return 0, 0
	}
	for _, t := range article {
		if _, ok := market[t]; ok {
			count++
		}
	}
	return float64(count) / float64(len(market)), count
}

// Matcher applies the match thresholds.
type Matcher struct {
	MinRatio   float64
	MinOverlap int
}

// DefaultMatcher uses the default thresholds.
func DefaultMatcher() Matcher {
	return Matcher{MinRatio: DefaultMinRatio, MinOverlap: DefaultMinOverlap}
}

// Match scores article tokens against a market set and reports whether both
// thresholds are met.
func (m Matcher) Match(article []string, market Set) (float64, bool) {
	ratio, count := Overlap(article, market)
	return ratio, ratio >= m.MinRatio && count >= m.MinOverlap
}

var (
	leadingWillRe  = regexp.MustCompile(`(?i)^\s*will\s+`)
	trailingDateRe = regexp.MustCompile(`(?i)\s+(by|before|in|on|after|until|through|during)\s+(the\s+)?(end\s+of\s+)?((jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?(\s+\d{1,2}(st|nd|rd|th)?)?,?(\s+\d{4})?|\d{4}|q[1-4](\s+\d{4})?|(this|next)\s+(week|month|year)|year|month|week|today|tomorrow)\s*\??\s*$`)
	trailingRelRe  = regexp.MustCompile(`(?i)\s+(this|next)\s+(week|weekend|month|year)\s*$`)
)

// NormalizeQuestion strips a leading "Will", a trailing date or
// relative-time clause and a trailing question mark.
func NormalizeQuestion(q string) string {
	q = strings.TrimSpace(q)
	q = strings.TrimSuffix(q, "?")
	q = leadingWillRe.ReplaceAllString(q, "")
	for {
		next := trailingRelRe.ReplaceAllString(trailingDateRe.ReplaceAllString(q, ""), "")
		if next == q {
			break
		}
		q = next
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(q), "?"))
}

// TitleKey is the dedupe key for an article title: lower-cased, whitespace
// collapsed, truncated to 80 runes.
func TitleKey(title string) string {
	key := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	r := []rune(key)
	if len(r) > 80 {
		r = r[:80]
	}
	return string(r)
}
