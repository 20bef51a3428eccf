package ddm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// degenerateMass is the renormalisation denominator below which a step is
// treated as having lost all of its mass.
const degenerateMass = 1e-300

// Propagation is the full output of one forward pass.
type Propagation struct {
	States []float64
	// Mass is the in-grid probability vector after the last step.
	Mass []float64
	// Up and Down hold the mass absorbed at each barrier per step (not
	// cumulative), indexed by absolute time step.
	Up   []float64
	Down []float64
	// TransitionTime is the number of non-item steps consumed before the
	// first propagation step.
	TransitionTime int
	MaxTime        int
}

// TerminalUp returns the upper-barrier crossing mass on the last step.
func (p *Propagation) TerminalUp() float64 {
	if len(p.Up) == 0 {
		return 0
	}
	return p.Up[len(p.Up)-1]
}

// TerminalDown returns the lower-barrier crossing mass on the last step.
func (p *Propagation) TerminalDown() float64 {
	if len(p.Down) == 0 {
		return 0
	}
	return p.Down[len(p.Down)-1]
}

// Engine evaluates trials under a fixed discretisation. The zero value is
// not usable; construct with NewEngine. An Engine holds no per-trial state
// and is safe for concurrent use provided its Tracer is.
type Engine struct {
	Settings Settings
	Tracer   Tracer
}

// NewEngine validates settings and returns an engine with a no-op tracer.
func NewEngine(settings Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Engine{Settings: settings, Tracer: NopTracer{}}, nil
}

// durations splits the trial time into pre-decision transition time and
// total time, both in discrete steps.
func (e *Engine) durations(trial Trial) (transition, total int) {
	step := e.Settings.TimeStep
	var itemTime int
	for _, f := range trial.Fixations {
		d := f.Duration / step
		if f.Item == ItemLeft || f.Item == ItemRight {
			itemTime += d
		} else {
			transition += d
		}
	}
	return transition, itemTime + transition
}

// Propagate runs the forward pass for one trial.
//
// All non-item fixation time is summed and consumed before the first
// propagation step, wherever those fixations fall in the sequence. This is
// part of the model definition and matches how the published fits were
// produced.
func (e *Engine) Propagate(trial Trial, params Params) (*Propagation, error) {
	if err := e.Settings.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := trial.Validate(); err != nil {
		return nil, err
	}
	tracer := e.Tracer
	if tracer == nil {
		tracer = NopTracer{}
	}

	s := e.Settings
	transition, maxTime := e.durations(trial)

	barriers, err := NewBarrierSchedule(s.BarrierUp, s.BarrierDown, s.Decay, maxTime)
	if err != nil {
		return nil, err
	}
	states, zeroIdx, err := BuildStates(s.BarrierDown, s.BarrierUp, s.StateStep)
	if err != nil {
		return nil, err
	}

	mass := InitialMass(len(states), zeroIdx)
	next := make([]float64, len(states))
	out := &Propagation{
		States:         states,
		Up:             make([]float64, maxTime),
		Down:           make([]float64, maxTime),
		TransitionTime: transition,
		MaxTime:        maxTime,
	}

	t := transition
	for _, f := range trial.Fixations {
		mean, ok := DriftMean(f.Item, trial.ValueLeft, trial.ValueRight, params)
		if !ok {
			continue
		}
		k := newKernel(states, mean, params.Std, s.StateStep)

		for i := 0; i < f.Duration/s.TimeStep; i++ {
			up, down := barriers.Up[t], barriers.Down[t]

			for j, state := range states {
				if state > down && state < up {
					next[j] = k.carry(j, mass)
				} else {
					next[j] = 0
				}
			}
			crossUp := k.crossUp(states, mass, up)
			crossDown := k.crossDown(states, mass, down)

			crossUp, crossDown = renormalize(floats.Sum(mass), next, crossUp, crossDown)

			mass, next = next, mass
			out.Up[t] = crossUp
			out.Down[t] = crossDown
			tracer.Step(t, mass, crossUp, crossDown)
			t++
		}
	}

	out.Mass = mass
	tracer.Done(out)
	return out, nil
}

// renormalize rescales the new in-grid mass and both crossing masses in place
// so that together they equal totalIn, absorbing the truncation error of the
// discretised density. When the outgoing total is numerically zero every
// output is set to zero rather than divided by it.
func renormalize(totalIn float64, next []float64, up, down float64) (float64, float64) {
	totalOut := floats.Sum(next) + up + down
	if totalOut < degenerateMass {
		for i := range next {
			next[i] = 0
		}
		return 0, 0
	}
	scale := totalIn / totalOut
	floats.Scale(scale, next)
	return up * scale, down * scale
}

// TrialLikelihood runs the forward pass and returns the likelihood of the
// observed choice at the trial's final time step.
func (e *Engine) TrialLikelihood(trial Trial, params Params) (float64, error) {
	p, err := e.Propagate(trial, params)
	if err != nil {
		return 0, fmt.Errorf("subject %s trial %d: %w", trial.Subject, trial.ID, err)
	}
	return ExtractLikelihood(p.Up, p.Down, trial.Choice)
}

// TrialLikelihood evaluates a single trial with a fresh engine and no
// tracing.
func TrialLikelihood(settings Settings, trial Trial, params Params) (float64, error) {
	e, err := NewEngine(settings)
	if err != nil {
		return 0, err
	}
	return e.TrialLikelihood(trial, params)
}
