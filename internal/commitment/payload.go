package commitment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hetulpatel/darwin/internal/hashutil"
	"github.com/hetulpatel/darwin/internal/models"
)

// DefaultTag prefixes every memo this service writes.
const DefaultTag = "DARWIN"

const createdAtLayout = "2006-01-02T15:04:05.000Z"

// Payload is the canonical content a commitment hash covers. Field order is
// fixed, so identical values always serialize to identical bytes.
type Payload struct {
	SignalID       string  `json:"signalId"`
	MarketID       string  `json:"marketId"`
	MarketQuestion string  `json:"marketQuestion"`
	Direction      string  `json:"direction"`
	DarwinEstimate float64 `json:"darwinEstimate"`
	MarketPrice    float64 `json:"marketPrice"`
	EV             float64 `json:"ev"`
	CreatedAt      string  `json:"createdAt"`
}

// NewPayload builds the canonical payload for sig. Numbers are rounded to
// four decimal places.
func NewPayload(sig models.Signal) Payload {
	return Payload{
		SignalID:       sig.ID,
		MarketID:       sig.MarketID,
		MarketQuestion: sig.Question,
		Direction:      string(sig.Direction),
		DarwinEstimate: round4(sig.DarwinEstimate),
		MarketPrice:    round4(sig.MarketPrice),
		EV:             round4(sig.EVNet),
		CreatedAt:      formatCreatedAt(sig.CreatedAt),
	}
}

func round4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}

// Canonical returns the exact bytes that are hashed and revealed.
func (p Payload) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("commitment: encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the sha256 hex digest of the canonical payload.
func Hash(p Payload) (string, error) {
	b, err := p.Canonical()
	if err != nil {
		return "", err
	}
	return hashutil.HashBytes(b), nil
}

// Verify reports whether p hashes to hash.
func Verify(p Payload, hash string) bool {
	got, err := Hash(p)
	if err != nil {
		return false
	}
	return hashutil.Equal(got, strings.ToLower(strings.TrimSpace(hash)))
}

// MemoKind distinguishes the two memo types.
type MemoKind string

const (
	KindCommit MemoKind = "COMMIT"
	KindReveal MemoKind = "REVEAL"
)

// Memo is a parsed ledger memo: TAG:KIND:<signalId>:<body>.
type Memo struct {
	Tag      string
	Kind     MemoKind
	SignalID string
	Body     string
}

func (m Memo) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", m.Tag, m.Kind, m.SignalID, m.Body)
}

// ParseMemo splits a memo back into its parts. The body of a reveal memo
// is JSON and may itself contain colons.
func ParseMemo(raw string) (Memo, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) != 4 {
		return Memo{}, fmt.Errorf("commitment: malformed memo %q", truncate(raw, 64))
	}
	m := Memo{Tag: parts[0], Kind: MemoKind(parts[1]), SignalID: parts[2], Body: parts[3]}
	if m.Kind != KindCommit && m.Kind != KindReveal {
		return Memo{}, fmt.Errorf("commitment: unknown memo kind %q", parts[1])
	}
	if m.SignalID == "" || m.Body == "" {
		return Memo{}, fmt.Errorf("commitment: memo missing signal id or body")
	}
	return m, nil
}

// DecodePayload parses a revealed payload body.
func DecodePayload(body string) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("commitment: decode payload: %w", err)
	}
	return p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatCreatedAt(t time.Time) string {
	return t.UTC().Format(createdAtLayout)
}
