// Package ddm implements the per-trial likelihood engine for the attentional
// drift-diffusion model. A trial's likelihood is computed by propagating a
// probability distribution over the relative decision value (RDV) on a
// discretised state grid, one time step at a time, and reading off the mass
// absorbed at the upper and lower barriers on the final step.
//
// All per-trial state is created inside a single call and discarded on
// return, so evaluations of different trials or parameter sets may run
// concurrently without coordination.
package ddm

import (
	"fmt"
	"math"
)

// Item identifies what the subject was looking at during a fixation.
type Item int

const (
	// ItemOther covers transitions, blank screen and any other non-item gaze.
	ItemOther Item = 0
	ItemLeft  Item = 1
	ItemRight Item = 2
)

// ItemFromCode maps a raw fixation code from the experiment files to an Item.
// Codes other than 1 and 2 are non-item fixations.
func ItemFromCode(code int) Item {
	switch code {
	case 1:
		return ItemLeft
	case 2:
		return ItemRight
	default:
		return ItemOther
	}
}

// Mirror returns the item on the opposite side. ItemOther maps to itself.
func (i Item) Mirror() Item {
	switch i {
	case ItemLeft:
		return ItemRight
	case ItemRight:
		return ItemLeft
	default:
		return ItemOther
	}
}

func (i Item) String() string {
	switch i {
	case ItemLeft:
		return "left"
	case ItemRight:
		return "right"
	default:
		return "other"
	}
}

// Choice is the observed response, using the codes from the experiment files.
type Choice int

const (
	ChoiceLeft  Choice = -1
	ChoiceRight Choice = 1
)

// Valid reports whether c is one of the two known response codes.
func (c Choice) Valid() bool {
	return c == ChoiceLeft || c == ChoiceRight
}

func (c Choice) String() string {
	switch c {
	case ChoiceLeft:
		return "left"
	case ChoiceRight:
		return "right"
	default:
		return fmt.Sprintf("choice(%d)", int(c))
	}
}

// Fixation is one continuous gaze interval. Duration is in the same time
// units as the trial's reaction time.
type Fixation struct {
	Item     Item `json:"item"`
	Duration int  `json:"duration"`
}

// Trial is one behavioural trial with its fixation sequence. Trials are
// treated as immutable once loaded.
type Trial struct {
	Subject    string     `json:"subject"`
	ID         int        `json:"trial"`
	RT         int        `json:"rt"`
	Choice     Choice     `json:"choice"`
	ValueLeft  float64    `json:"value_left"`
	ValueRight float64    `json:"value_right"`
	Fixations  []Fixation `json:"fixations"`
}

// Validate checks the trial-level preconditions of the engine.
func (t Trial) Validate() error {
	if !t.Choice.Valid() {
		return fmt.Errorf("%w: subject %s trial %d: %v", ErrInvalidChoice, t.Subject, t.ID, t.Choice)
	}
	if math.IsNaN(t.ValueLeft) || math.IsNaN(t.ValueRight) ||
		math.IsInf(t.ValueLeft, 0) || math.IsInf(t.ValueRight, 0) {
		return fmt.Errorf("%w: subject %s trial %d: non-finite item value", ErrInvalidTrial, t.Subject, t.ID)
	}
	for i, f := range t.Fixations {
		if f.Duration < 0 {
			return fmt.Errorf("%w: subject %s trial %d: fixation %d has negative duration %d",
				ErrInvalidTrial, t.Subject, t.ID, i, f.Duration)
		}
	}
	return nil
}

// Mirror returns the trial with left and right relabelled: item values are
// swapped, fixated items are swapped and the choice is reversed. The model is
// symmetric under this relabelling, so a mirrored trial has the same
// likelihood as the original.
func (t Trial) Mirror() Trial {
	m := t
	m.ValueLeft, m.ValueRight = t.ValueRight, t.ValueLeft
	m.Choice = -t.Choice
	m.Fixations = make([]Fixation, len(t.Fixations))
	for i, f := range t.Fixations {
		m.Fixations[i] = Fixation{Item: f.Item.Mirror(), Duration: f.Duration}
	}
	return m
}

// Params is one candidate parameter tuple. It is always passed by value.
type Params struct {
	// D scales the value signal into a per-step drift.
	D float64 `json:"d"`
	// Theta discounts the value of the item not currently fixated.
	Theta float64 `json:"theta"`
	// Std is the standard deviation of the per-step RDV change.
	Std float64 `json:"std"`
	// Bias is added to the drift while the left item is fixated.
	Bias float64 `json:"bias,omitempty"`
}

// Validate rejects parameter tuples the engine cannot evaluate.
func (p Params) Validate() error {
	names := [...]string{"d", "theta", "std", "bias"}
	for i, v := range [...]float64{p.D, p.Theta, p.Std, p.Bias} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidParams, names[i])
		}
	}
	if p.D < 0 {
		return fmt.Errorf("%w: d must be non-negative, got %g", ErrInvalidParams, p.D)
	}
	if p.Std <= 0 {
		return fmt.Errorf("%w: std must be positive, got %g", ErrInvalidParams, p.Std)
	}
	return nil
}

func (p Params) String() string {
	if p.Bias != 0 {
		return fmt.Sprintf("d=%g theta=%g std=%g bias=%g", p.D, p.Theta, p.Std, p.Bias)
	}
	return fmt.Sprintf("d=%g theta=%g std=%g", p.D, p.Theta, p.Std)
}
