package ddm

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// DriftMean returns the mean RDV change per time step while item is
// fixated. The second result is false for non-item fixations, during which
// the RDV is frozen.
func DriftMean(item Item, valueLeft, valueRight float64, p Params) (float64, bool) {
	switch item {
	case ItemLeft:
		return p.D*(valueLeft-p.Theta*valueRight) + p.Bias, true
	case ItemRight:
		return p.D * (-valueRight + p.Theta*valueLeft), true
	default:
		return 0, false
	}
}

// kernel is the Gaussian transition density for one fixation segment. It is
// stationary within the segment, so the state-to-state weights are computed
// once and reused for every step of the segment.
type kernel struct {
	dist distuv.Normal
	// weights[s*n+j] is step * pdf(states[s]-states[j]).
	weights []float64
	n       int
}

func newKernel(states []float64, mean, std, step float64) *kernel {
	n := len(states)
	k := &kernel{
		dist:    distuv.Normal{Mu: mean, Sigma: std},
		weights: make([]float64, n*n),
		n:       n,
	}
	for s := 0; s < n; s++ {
		row := k.weights[s*n : (s+1)*n]
		for j := 0; j < n; j++ {
			row[j] = step * k.dist.Prob(states[s]-states[j])
		}
	}
	return k
}

// carry returns the mass arriving at state s from every source state.
func (k *kernel) carry(s int, mass []float64) float64 {
	row := k.weights[s*k.n : (s+1)*k.n]
	var sum float64
	for j, m := range mass {
		if m == 0 {
			continue
		}
		sum += m * row[j]
	}
	return sum
}

// crossUp returns the mass that jumps past the upper barrier in one step.
func (k *kernel) crossUp(states, mass []float64, barrier float64) float64 {
	var sum float64
	for j, m := range mass {
		if m == 0 {
			continue
		}
		sum += m * k.dist.Survival(barrier-states[j])
	}
	return sum
}

// crossDown returns the mass that jumps past the lower barrier in one step.
func (k *kernel) crossDown(states, mass []float64, barrier float64) float64 {
	var sum float64
	for j, m := range mass {
		if m == 0 {
			continue
		}
		sum += m * k.dist.CDF(barrier-states[j])
	}
	return sum
}
