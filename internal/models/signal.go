package models

import "time"

// Direction is the side a signal recommends.
type Direction string

const (
	DirectionYes Direction = "yes"
	DirectionNo  Direction = "no"
)

// CostBreakdown itemizes the expected trading costs, as fractions of notional.
type CostBreakdown struct {
	Fee            float64 `json:"fee"`
	Slippage       float64 `json:"slippage"`
	Latency        float64 `json:"latency"`
	ResolutionRisk float64 `json:"resolution_risk"`
	Total          float64 `json:"total"`
}

// Features records the log-odds adjustments that produced pHat.
type Features struct {
	News float64 `json:"news"`
	Time float64 `json:"time"`
}

// DivergenceResult is the EV engine's verdict on an estimate vs a market price.
type DivergenceResult struct {
	PHat            float64       `json:"p_hat"`
	PHatLowerBound  float64       `json:"p_hat_lower_bound"`
	EVGross         float64       `json:"ev_gross"`
	EVNet           float64       `json:"ev_net"`
	EVNetLowerBound float64       `json:"ev_net_lower_bound"`
	Direction       Direction     `json:"direction"`
	Costs           CostBreakdown `json:"costs"`
	Features        Features      `json:"features"`
	Tradeable       bool          `json:"tradeable"`
	Confidence      Confidence    `json:"confidence"`
}

// Commitment holds the ledger anchoring state of a signal.
type Commitment struct {
	CommitTxID    string    `json:"commit_tx_id,omitempty"`
	CommitHash    string    `json:"commit_hash,omitempty"`
	CommitBlock   uint64    `json:"commit_block,omitempty"`
	PriceAtCommit float64   `json:"price_at_commit,omitempty"`
	CommittedAt   time.Time `json:"committed_at,omitempty"`
	RevealTxID    string    `json:"reveal_tx_id,omitempty"`
	RevealedAt    time.Time `json:"revealed_at,omitempty"`
}

// Committed reports whether a commit memo has been recorded.
func (c Commitment) Committed() bool { return c.CommitTxID != "" && c.CommitHash != "" }

// Revealed reports whether a reveal memo has been recorded.
func (c Commitment) Revealed() bool { return c.RevealTxID != "" }

// Signal is the output of a successful analysis. Everything except
// Commitment is fixed at creation.
type Signal struct {
	ID              string        `json:"id"`
	MarketID        string        `json:"market_id"`
	Question        string        `json:"question"`
	DarwinEstimate  float64       `json:"darwin_estimate"`
	LowerBound      float64       `json:"lower_bound"`
	MarketPrice     float64       `json:"market_price"`
	EVNet           float64       `json:"ev_net"`
	EVNetLowerBound float64       `json:"ev_net_lower_bound"`
	Direction       Direction     `json:"direction"`
	Reasoning       string        `json:"reasoning"`
	Headlines       []string      `json:"headlines"`
	Confidence      Confidence    `json:"confidence"`
	Costs           CostBreakdown `json:"costs"`
	Tradeable       bool          `json:"tradeable"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	Commitment      Commitment    `json:"commitment"`
}

// Expired reports whether the signal's market has resolved as of now.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
