package ddm

import "fmt"

// ExtractLikelihood maps the terminal crossing masses to the likelihood of
// the observed choice. A left choice corresponds to the upper barrier (the
// drift is positive while the left item is fixated) and a right choice to
// the lower barrier.
//
// The result is always in [0, 1]. A non-positive crossing mass, or a trial
// with no time steps, gives exactly 0; callers working in the log domain
// must treat that as "no information" rather than take its logarithm.
func ExtractLikelihood(up, down []float64, choice Choice) (float64, error) {
	var series []float64
	switch choice {
	case ChoiceLeft:
		series = up
	case ChoiceRight:
		series = down
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidChoice, choice)
	}
	if len(series) == 0 {
		return 0, nil
	}
	p := series[len(series)-1]
	switch {
	case !(p > 0):
		return 0, nil
	case p > 1:
		return 1, nil
	}
	return p, nil
}
