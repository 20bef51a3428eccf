package simulate

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/ddmfit/internal/dataset"
	"github.com/banshee-data/ddmfit/internal/ddm"
)

// DefaultMaxSteps bounds a simulated trial.
const DefaultMaxSteps = 100000

// ErrMaxTime is returned when a simulated trial reaches no decision within
// the step budget.
var ErrMaxTime = errors.New("simulated trial exceeded max time")

// Subject is the subject label given to simulated trials.
const Subject = "sim"

// Simulator draws trials from the accumulator model. It is not safe for
// concurrent use.
type Simulator struct {
	Settings  ddm.Settings
	Params    ddm.Params
	Fixations *Fixations
	// MaxSteps bounds each trial; zero uses DefaultMaxSteps.
	MaxSteps int

	rng   *rand.Rand
	noise distuv.Normal
}

// New returns a simulator seeded with seed.
func New(settings ddm.Settings, params ddm.Params, fix *Fixations, seed uint64) (*Simulator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if fix == nil || len(fix.First) == 0 || len(fix.Middle) == 0 {
		return nil, ErrNoFixations
	}
	src := rand.NewPCG(seed, seed^0xda3e39cb94b95bdb)
	return &Simulator{
		Settings:  settings,
		Params:    params,
		Fixations: fix,
		rng:       rand.New(src),
		noise:     distuv.Normal{Mu: 0, Sigma: params.Std, Src: src},
	}, nil
}

func (s *Simulator) sample(xs []int) int {
	if len(xs) == 0 {
		return 0
	}
	return xs[s.rng.IntN(len(xs))]
}

func (s *Simulator) steps(ms int) int {
	return ms / s.Settings.TimeStep
}

// Trial simulates one decision. The RDV is frozen during non-item time and
// otherwise moves by a Gaussian increment per step around the drift of the
// fixated item. Reaching the upper barrier is a left choice and the lower
// barrier a right choice.
func (s *Simulator) Trial(valueLeft, valueRight float64) (ddm.Trial, error) {
	maxSteps := s.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	fix := s.Fixations
	st := s.Settings
	ts := st.TimeStep

	trial := ddm.Trial{ValueLeft: valueLeft, ValueRight: valueRight}

	t := s.steps(s.sample(fix.Latencies))
	trial.Fixations = append(trial.Fixations, ddm.Fixation{Item: ddm.ItemOther, Duration: t * ts})

	item := ddm.ItemRight
	if s.rng.Float64() < fix.ProbLeftFirst {
		item = ddm.ItemLeft
	}

	var rdv float64
	for n := 0; ; n++ {
		durations := fix.Middle
		if n == 0 {
			durations = fix.First
		}
		fixSteps := max(1, s.steps(s.sample(durations)))
		mean, _ := ddm.DriftMean(item, valueLeft, valueRight, s.Params)

		for i := 0; i < fixSteps; i++ {
			if t >= maxSteps {
				return ddm.Trial{}, fmt.Errorf("%w: %d steps", ErrMaxTime, maxSteps)
			}
			rdv += mean + s.noise.Rand()
			shrink := 1 + st.Decay*float64(t+1)
			t++

			var choice ddm.Choice
			switch {
			case rdv >= st.BarrierUp/shrink:
				choice = ddm.ChoiceLeft
			case rdv <= st.BarrierDown/shrink:
				choice = ddm.ChoiceRight
			default:
				continue
			}
			trial.Fixations = append(trial.Fixations, ddm.Fixation{Item: item, Duration: (i + 1) * ts})
			trial.Choice = choice
			trial.RT = t * ts
			return trial, nil
		}
		trial.Fixations = append(trial.Fixations, ddm.Fixation{Item: item, Duration: fixSteps * ts})

		gap := s.steps(s.sample(fix.Transitions))
		if t+gap >= maxSteps {
			return ddm.Trial{}, fmt.Errorf("%w: %d steps", ErrMaxTime, maxSteps)
		}
		if gap > 0 {
			trial.Fixations = append(trial.Fixations, ddm.Fixation{Item: ddm.ItemOther, Duration: gap * ts})
			t += gap
		}
		item = item.Mirror()
	}
}

// Condition is one pair of item values.
type Condition struct {
	ValueLeft  float64 `json:"value_left"`
	ValueRight float64 `json:"value_right"`
}

// OrientationConditions returns every ordered pair of distinct stimulus
// distances from -15 to 15 in steps of 5, converted to item values.
func OrientationConditions() []Condition {
	var out []Condition
	for left := -15; left <= 15; left += 5 {
		for right := -15; right <= 15; right += 5 {
			if left == right {
				continue
			}
			out = append(out, Condition{
				ValueLeft:  dataset.ItemValue(float64(left)),
				ValueRight: dataset.ItemValue(float64(right)),
			})
		}
	}
	return out
}

// Conditions simulates n trials per condition. Trials are numbered from 1
// in generation order.
func (s *Simulator) Conditions(conds []Condition, n int) ([]ddm.Trial, error) {
	out := make([]ddm.Trial, 0, len(conds)*n)
	id := 1
	for _, c := range conds {
		for i := 0; i < n; i++ {
			tr, err := s.Trial(c.ValueLeft, c.ValueRight)
			if err != nil {
				return nil, fmt.Errorf("condition (%v, %v) trial %d: %w", c.ValueLeft, c.ValueRight, i, err)
			}
			tr.Subject = Subject
			tr.ID = id
			id++
			out = append(out, tr)
		}
	}
	return out, nil
}
