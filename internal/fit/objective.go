package fit

import "sort"

// Scored pairs a point in the parameter space with its evaluation.
type Scored struct {
	Coords []float64 `json:"coords"`
	Evaluation
	// Order is the position at which the point was evaluated within its
	// round.
	Order int `json:"order"`
}

// Rank sorts scored points best first: fewer zero-likelihood trials, then
// lower NLL. Ties keep evaluation order, so the first-evaluated tuple wins.
func Rank(scored []Scored) []Scored {
	out := append([]Scored(nil), scored...)
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	return out
}

// less orders two evaluations over the same trials. NLL sums skip
// zero-likelihood trials, so they only compare between points that skip
// the same number; a point that explains no trial ranks last.
func less(a, b Scored) bool {
	if a.ZeroLikelihood != b.ZeroLikelihood {
		return a.ZeroLikelihood < b.ZeroLikelihood
	}
	return a.NLL < b.NLL
}

// better reports whether a beats b as an overall best. Equal scores keep
// the incumbent.
func better(a, b Scored) bool {
	return less(a, b)
}
