package ddm

import (
	"fmt"
	"math"
)

// gridEpsilon is the tolerance, in units of the state step, under which a
// barrier is treated as lying exactly on a grid point. Barrier points are
// absorbing and never part of the state grid.
const gridEpsilon = 1e-9

// BuildStates returns the RDV grid points strictly inside (lower, upper) and
// the index of the zero state. Points are integer multiples of step, so the
// zero state is exactly 0 and a symmetric barrier pair gives an exactly
// symmetric grid.
func BuildStates(lower, upper, step float64) ([]float64, int, error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, 0, fmt.Errorf("%w: %g", ErrInvalidStep, step)
	}
	if !(upper > lower) {
		return nil, 0, fmt.Errorf("%w: upper %g must exceed lower %g", ErrInvalidBarriers, upper, lower)
	}
	if !(lower < 0) || !(upper > 0) {
		return nil, 0, fmt.Errorf("%w: barriers %g, %g do not straddle zero", ErrInvalidBarriers, lower, upper)
	}

	lo := lower / step
	kMin := math.Ceil(lo)
	if kMin-lo < gridEpsilon {
		kMin++
	}
	hi := upper / step
	kMax := math.Floor(hi)
	if hi-kMax < gridEpsilon {
		kMax--
	}
	if kMin > 0 || kMax < 0 {
		return nil, 0, fmt.Errorf("%w: no grid point between %g and %g at step %g",
			ErrInvalidBarriers, lower, upper, step)
	}

	n := int(kMax-kMin) + 1
	states := make([]float64, n)
	for i := range states {
		states[i] = (kMin + float64(i)) * step
	}
	zeroIdx := int(-kMin)
	states[zeroIdx] = 0
	return states, zeroIdx, nil
}

// InitialMass returns a probability vector of length n with all mass on the
// zero state.
func InitialMass(n, zeroIdx int) []float64 {
	mass := make([]float64, n)
	mass[zeroIdx] = 1
	return mass
}
