// Package ev blends a model estimate with a market price in log-odds space
// and decides whether the divergence survives trading costs.
package ev

import (
	"math"
	"time"

	"github.com/hetulpatel/darwin/internal/models"
)

const (
	probEpsilon = 1e-4

	newsDecayDays = 30.0

	HighConfidenceEV   = 0.15
	MediumConfidenceEV = 0.08
)

// Config holds the blend weights and the cost model knobs.
type Config struct {
	WeightNews  float64 `yaml:"weight_news"`
	WeightTime  float64 `yaml:"weight_time"`
	FeeRate     float64 `yaml:"fee_rate"`
	LatencyCost float64 `yaml:"latency_cost"`
}

// DefaultConfig returns the production weights and costs.
func DefaultConfig() Config {
	return Config{
		WeightNews:  1.0,
		WeightTime:  1.0,
		FeeRate:     0.02,
		LatencyCost: 0.005,
	}
}

// Input is everything the engine needs for one evaluation.
type Input struct {
	Estimate    float64
	MarketPrice float64
	EndDate     time.Time
	Liquidity   float64
	Now         time.Time
}

// Clamp bounds p to the open interval the logit is defined on.
func Clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0.5
	}
	return math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
}

// Logit returns log(p/(1-p)) with p clamped away from 0 and 1.
func Logit(p float64) float64 {
	p = Clamp(p)
	return math.Log(p / (1 - p))
}

// Sigmoid is the inverse of Logit.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Evaluate computes pHat, its conservative lower bound, net EV after costs and
// the tradeability verdict. It is pure.
//
// EVNet and EVNetLowerBound are measured in the direction of the trade: a
// "no" signal with pHat well below the market price has positive net EV.
// EVGross keeps its sign (pHat - market price).
func Evaluate(in Input, cfg Config) models.DivergenceResult {
	days := daysLeft(in.EndDate, in.Now)

	marketLogit := Logit(in.MarketPrice)
	newsFeature := Logit(in.Estimate) - marketLogit
	decay := 1 / (1 + days/newsDecayDays)
	timeFeature := -newsFeature * decay

	shift := cfg.WeightNews*newsFeature + cfg.WeightTime*timeFeature
	pHat := Sigmoid(marketLogit + shift)
	pHatLB := Sigmoid(marketLogit + shift/2)

	costs := Costs(in.Liquidity, days, cfg)

	direction := models.DirectionYes
	sign := 1.0
	if pHat < in.MarketPrice {
		direction = models.DirectionNo
		sign = -1.0
	}

	evGross := pHat - in.MarketPrice
	evNet := sign*evGross - costs.Total
	evNetLB := sign*(pHatLB-in.MarketPrice) - costs.Total

	return models.DivergenceResult{
		PHat:            pHat,
		PHatLowerBound:  pHatLB,
		EVGross:         evGross,
		EVNet:           evNet,
		EVNetLowerBound: evNetLB,
		Direction:       direction,
		Costs:           costs,
		Features:        models.Features{News: newsFeature, Time: timeFeature},
		Tradeable:       evNetLB > 0,
		Confidence:      ConfidenceFromEV(math.Abs(evNet)),
	}
}

// Significant gates signal generation: the divergence must be tradeable and
// its net EV at least minNetEV in magnitude.
func Significant(d models.DivergenceResult, minNetEV float64) bool {
	return d.Tradeable && math.Abs(d.EVNet) >= minNetEV
}

// ConfidenceFromEV maps an absolute net EV to a label.
func ConfidenceFromEV(absEV float64) models.Confidence {
	switch {
	case absEV >= HighConfidenceEV:
		return models.ConfidenceHigh
	case absEV >= MediumConfidenceEV:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// Costs returns the itemized cost of acting on a market with the given
// liquidity and days to resolution.
func Costs(liquidity, days float64, cfg Config) models.CostBreakdown {
	c := models.CostBreakdown{
		Fee:            cfg.FeeRate,
		Slippage:       slippage(liquidity),
		Latency:        cfg.LatencyCost,
		ResolutionRisk: resolutionRisk(days),
	}
	c.Total = c.Fee + c.Slippage + c.Latency + c.ResolutionRisk
	return c
}

func slippage(liquidity float64) float64 {
	switch {
	case liquidity >= 100_000:
		return 0.005
	case liquidity >= 25_000:
		return 0.01
	case liquidity >= 5_000:
		return 0.02
	default:
		return 0.04
	}
}

func resolutionRisk(days float64) float64 {
	switch {
	case days < 1:
		return 0.05
	case days < 7:
		return 0.02
	case days < 30:
		return 0.01
	default:
		return 0.005
	}
}

func daysLeft(end, now time.Time) float64 {
	if end.IsZero() {
		return 0
	}
	d := end.Sub(now).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
