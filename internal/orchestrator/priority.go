package orchestrator

import "math"

// Priority scores a candidate: stronger signals on deeper markets closer to
// resolution go first.
func Priority(strength, liquidity, daysToExpiry float64) float64 {
	if daysToExpiry < 0 {
		daysToExpiry = 0
	}
	return strength * math.Log10(math.Max(liquidity, 1)) / (1 + daysToExpiry/7)
}
