// Package risk holds the scoring result model shared by the request path and
// the audit trail.
package risk

import "math"

// FlagThreshold is the decision boundary: probabilities strictly above it
// are flagged.
const FlagThreshold = 0.5

// Result is the client-visible outcome of scoring one transaction.
// It is a value type and is never mutated after NewResult.
type Result struct {
	FraudProbability float64 `json:"fraud_probability"`
	Flagged          bool    `json:"flagged"`
}

// NewResult rounds p to 4 decimals and derives Flagged from the rounded value,
// so Flagged == (FraudProbability > FlagThreshold) always holds.
//
// A raw p in (0.5, 0.50005) rounds to 0.5 and is therefore not flagged,
// even though p itself is above FlagThreshold. Clients never see a flagged
// result whose reported probability is 0.5.
func NewResult(p float64) Result {
	r := math.Round(p*10000) / 10000
	return Result{
		FraudProbability: r,
		Flagged:          r > FlagThreshold,
	}
}
