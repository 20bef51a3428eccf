package ddm

import (
	"fmt"
	"math"
)

// Settings holds the discretisation constants of the model. They are design
// constants rather than fitted parameters and must be supplied explicitly.
type Settings struct {
	StateStep   float64 `json:"state_step"`
	TimeStep    int     `json:"time_step"`
	BarrierUp   float64 `json:"barrier_up"`
	BarrierDown float64 `json:"barrier_down"`
	// Decay of 0 keeps the barriers constant.
	Decay float64 `json:"decay"`
}

// DefaultSettings returns the discretisation used for the published fits.
func DefaultSettings() Settings {
	return Settings{
		StateStep:   0.1,
		TimeStep:    1,
		BarrierUp:   1,
		BarrierDown: -1,
		Decay:       0,
	}
}

// Validate checks the grid preconditions.
func (s Settings) Validate() error {
	if !(s.StateStep > 0) || math.IsInf(s.StateStep, 0) {
		return fmt.Errorf("%w: state step must be positive, got %g", ErrInvalidStep, s.StateStep)
	}
	if s.TimeStep <= 0 {
		return fmt.Errorf("%w: time step must be positive, got %d", ErrInvalidStep, s.TimeStep)
	}
	if !(s.BarrierDown < 0) || !(s.BarrierUp > 0) {
		return fmt.Errorf("%w: need lower < 0 < upper, got lower=%g upper=%g",
			ErrInvalidBarriers, s.BarrierDown, s.BarrierUp)
	}
	if !(s.Decay >= 0) || math.IsInf(s.Decay, 0) {
		return fmt.Errorf("%w: decay must be a non-negative finite number, got %g", ErrInvalidBarriers, s.Decay)
	}
	return nil
}
