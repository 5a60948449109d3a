package ev

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hetulpatel/darwin/internal/models"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluateYesExample(t *testing.T) {
	res := Evaluate(Input{
		Estimate:    0.62,
		MarketPrice: 0.45,
		EndDate:     now.Add(30 * 24 * time.Hour),
		Liquidity:   100_000,
		Now:         now,
	}, DefaultConfig())

	assert.Equal(t, models.DirectionYes, res.Direction)
	assert.Greater(t, res.EVGross, 0.0)
	assert.Greater(t, res.PHat, 0.45)
	assert.Less(t, res.PHat, 0.62)
	assert.Greater(t, res.PHatLowerBound, 0.45)
	assert.Less(t, res.PHatLowerBound, res.PHat)
	assert.InDelta(t, 0.035, res.Costs.Total, 1e-12)
	assert.InDelta(t, -res.Features.News*0.5, res.Features.Time, 1e-12)
	assert.Equal(t, res.EVNetLowerBound > 0, res.Tradeable)
}

func TestEvaluateNoDirection(t *testing.T) {
	res := Evaluate(Input{
		Estimate:    0.10,
		MarketPrice: 0.60,
		EndDate:     now.Add(90 * 24 * time.Hour),
		Liquidity:   500_000,
		Now:         now,
	}, DefaultConfig())

	assert.Equal(t, models.DirectionNo, res.Direction)
	assert.Less(t, res.EVGross, 0.0)
	assert.Greater(t, res.EVNet, 0.0)
	assert.True(t, res.Tradeable)
}

func TestEvaluateDeterministic(t *testing.T) {
	in := Input{Estimate: 0.3, MarketPrice: 0.5, EndDate: now.Add(72 * time.Hour), Liquidity: 10_000, Now: now}
	assert.Equal(t, Evaluate(in, DefaultConfig()), Evaluate(in, DefaultConfig()))
}

func TestEvaluateAgreementNotTradeable(t *testing.T) {
	res := Evaluate(Input{Estimate: 0.5, MarketPrice: 0.5, EndDate: now.Add(48 * time.Hour), Liquidity: 1e6, Now: now}, DefaultConfig())
	assert.InDelta(t, 0.5, res.PHat, 1e-12)
	assert.False(t, res.Tradeable)
	assert.Less(t, res.EVNet, 0.0)
}

func TestLogitClamped(t *testing.T) {
	assert.False(t, math.IsInf(Logit(0), 0))
	assert.False(t, math.IsInf(Logit(1), 0))
	assert.InDelta(t, 0, Logit(0.5), 1e-12)
	assert.InDelta(t, 0.73, Sigmoid(Logit(0.73)), 1e-12)
}

func TestConfidenceFromEV(t *testing.T) {
	assert.Equal(t, models.ConfidenceHigh, ConfidenceFromEV(0.15))
	assert.Equal(t, models.ConfidenceMedium, ConfidenceFromEV(0.149))
	assert.Equal(t, models.ConfidenceMedium, ConfidenceFromEV(0.08))
	assert.Equal(t, models.ConfidenceLow, ConfidenceFromEV(0.079))
	assert.Equal(t, models.ConfidenceLow, ConfidenceFromEV(0))
}

func TestConfidenceMonotonic(t *testing.T) {
	rank := map[models.Confidence]int{models.ConfidenceLow: 0, models.ConfidenceMedium: 1, models.ConfidenceHigh: 2}
	prev := -1
	for ev := 0.0; ev <= 0.3; ev += 0.005 {
		r := rank[ConfidenceFromEV(ev)]
		require.GreaterOrEqual(t, r, prev, "ev=%v", ev)
		prev = r
	}
}

func TestCostTiers(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.04, Costs(1_000, 100, cfg).Slippage, 1e-12)
	assert.InDelta(t, 0.02, Costs(5_000, 100, cfg).Slippage, 1e-12)
	assert.InDelta(t, 0.01, Costs(25_000, 100, cfg).Slippage, 1e-12)
	assert.InDelta(t, 0.05, Costs(1e6, 0.5, cfg).ResolutionRisk, 1e-12)
	assert.InDelta(t, 0.02, Costs(1e6, 3, cfg).ResolutionRisk, 1e-12)
	assert.InDelta(t, 0.01, Costs(1e6, 10, cfg).ResolutionRisk, 1e-12)
	c := Costs(1e6, 60, cfg)
	assert.InDelta(t, c.Fee+c.Slippage+c.Latency+c.ResolutionRisk, c.Total, 1e-12)
}

func TestSignificant(t *testing.T) {
	assert.True(t, Significant(models.DivergenceResult{Tradeable: true, EVNet: 0.05}, 0.02))
	assert.False(t, Significant(models.DivergenceResult{Tradeable: true, EVNet: 0.01}, 0.02))
	assert.False(t, Significant(models.DivergenceResult{Tradeable: false, EVNet: 0.5}, 0.02))
}
