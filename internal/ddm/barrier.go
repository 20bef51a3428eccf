package ddm

import (
	"fmt"
	"math"
)

// BarrierSchedule holds the barrier positions for each discrete time step.
type BarrierSchedule struct {
	Up   []float64
	Down []float64
}

// NewBarrierSchedule builds the schedule for a trial of the given number of
// steps. With decay > 0 each barrier shrinks as initial/(1+decay*(t+1)),
// approaching but never reaching zero. A schedule of zero steps is valid and
// empty.
func NewBarrierSchedule(up, down, decay float64, steps int) (BarrierSchedule, error) {
	if !(down < 0) || !(up > 0) {
		return BarrierSchedule{}, fmt.Errorf("%w: need lower < 0 < upper, got lower=%g upper=%g",
			ErrInvalidBarriers, down, up)
	}
	if !(decay >= 0) || math.IsInf(decay, 0) {
		return BarrierSchedule{}, fmt.Errorf("%w: decay %g", ErrInvalidBarriers, decay)
	}
	if steps < 0 {
		steps = 0
	}

	b := BarrierSchedule{
		Up:   make([]float64, steps),
		Down: make([]float64, steps),
	}
	for t := 0; t < steps; t++ {
		shrink := 1 + decay*float64(t+1)
		b.Up[t] = up / shrink
		b.Down[t] = down / shrink
	}
	return b, nil
}

// Len returns the number of steps covered by the schedule.
func (b BarrierSchedule) Len() int {
	return len(b.Up)
}
