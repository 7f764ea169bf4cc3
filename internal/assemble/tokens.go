// Package assemble builds the token-budgeted context block handed to the
// synthesis model.
package assemble

// TokenEstimator approximates how many model tokens a string costs. An exact
// tokenizer is provider-specific; the budget only needs a consistent
// overestimate-resistant heuristic.
type TokenEstimator interface {
	Estimate(s string) int
}

// CharEstimator uses the common four-characters-per-token approximation.
type CharEstimator struct{}

func (CharEstimator) Estimate(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
