package ddm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leftOnlyTrial(steps int) Trial {
	return Trial{
		Subject:    "s1",
		ID:         1,
		RT:         steps,
		Choice:     ChoiceLeft,
		ValueLeft:  3,
		ValueRight: 0,
		Fixations:  []Fixation{{Item: ItemLeft, Duration: steps}},
	}
}

func mixedTrial() Trial {
	return Trial{
		Subject:    "s1",
		ID:         7,
		RT:         420,
		Choice:     ChoiceRight,
		ValueLeft:  1,
		ValueRight: 2,
		Fixations: []Fixation{
			{Item: ItemOther, Duration: 30},
			{Item: ItemLeft, Duration: 120},
			{Item: ItemOther, Duration: 15},
			{Item: ItemRight, Duration: 180},
			{Item: ItemLeft, Duration: 75},
		},
	}
}

var scenarioParams = Params{D: 0.002, Theta: 0.5, Std: 0.2}

func newTestEngine(t *testing.T, s Settings) *Engine {
	t.Helper()
	e, err := NewEngine(s)
	require.NoError(t, err)
	return e
}

func TestEngine_EndToEndSingleLeftFixation(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())

	p, err := e.Propagate(leftOnlyTrial(200), scenarioParams)
	require.NoError(t, err)
	require.Equal(t, 200, p.MaxTime)
	assert.Greater(t, p.TerminalUp(), p.TerminalDown(),
		"positive drift toward the left item should favour the upper barrier")

	lik, err := e.TrialLikelihood(leftOnlyTrial(200), scenarioParams)
	require.NoError(t, err)
	assert.Greater(t, lik, 0.0)
	assert.LessOrEqual(t, lik, 1.0)
	assert.Equal(t, p.TerminalUp(), lik)
}

func TestEngine_MassConservation(t *testing.T) {
	settingsCases := map[string]Settings{
		"constant": DefaultSettings(),
		"decay": func() Settings {
			s := DefaultSettings()
			s.Decay = 0.005
			return s
		}(),
	}
	paramCases := []Params{
		scenarioParams,
		{D: 0.005, Theta: 0.3, Std: 0.06},
		{D: 0.008, Theta: 0.9, Std: 0.03},
		{D: 0.0015, Theta: 0.7, Std: 0.25, Bias: 0.001},
	}

	for name, settings := range settingsCases {
		for _, params := range paramCases {
			t.Run(name+"/"+params.String(), func(t *testing.T) {
				rec := &RecordingTracer{}
				e := newTestEngine(t, settings)
				e.Tracer = rec

				_, err := e.Propagate(mixedTrial(), params)
				require.NoError(t, err)
				require.NotEmpty(t, rec.Masses)

				var cumUp, cumDown float64
				for i, mass := range rec.Masses {
					cumUp += rec.Up[i]
					cumDown += rec.Down[i]
					var inGrid float64
					for _, m := range mass {
						require.GreaterOrEqual(t, m, 0.0)
						inGrid += m
					}
					total := inGrid + cumUp + cumDown
					if math.Abs(total-1) > 1e-9 {
						t.Fatalf("step %d: total mass %v, want 1", rec.Times[i], total)
					}
				}
			})
		}
	}
}

func TestEngine_TransitionTimeConsumedFirst(t *testing.T) {
	rec := &RecordingTracer{}
	e := newTestEngine(t, DefaultSettings())
	e.Tracer = rec

	p, err := e.Propagate(mixedTrial(), scenarioParams)
	require.NoError(t, err)

	assert.Equal(t, 45, p.TransitionTime)
	assert.Equal(t, 420, p.MaxTime)
	require.Len(t, rec.Times, 375)
	assert.Equal(t, 45, rec.Times[0])
	assert.Equal(t, 419, rec.Times[len(rec.Times)-1])
	for i := 0; i < p.TransitionTime; i++ {
		assert.Zero(t, p.Up[i])
		assert.Zero(t, p.Down[i])
	}
}

func TestEngine_TimeStepFloorDivides(t *testing.T) {
	s := DefaultSettings()
	s.TimeStep = 10
	e := newTestEngine(t, s)

	trial := leftOnlyTrial(0)
	trial.Fixations = []Fixation{{Item: ItemOther, Duration: 25}, {Item: ItemLeft, Duration: 109}}
	p, err := e.Propagate(trial, scenarioParams)
	require.NoError(t, err)
	assert.Equal(t, 2, p.TransitionTime)
	assert.Equal(t, 12, p.MaxTime)
}

func TestEngine_ZeroDurationTrial(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())

	testCases := map[string][]Fixation{
		"no_fixations":    nil,
		"zero_length":     {{Item: ItemLeft, Duration: 0}},
		"transition_only": {{Item: ItemOther, Duration: 200}},
		"all_zero":        {{Item: ItemRight, Duration: 0}, {Item: ItemLeft, Duration: 0}},
	}
	for name, fixations := range testCases {
		t.Run(name, func(t *testing.T) {
			for _, choice := range []Choice{ChoiceLeft, ChoiceRight} {
				trial := leftOnlyTrial(0)
				trial.Choice = choice
				trial.Fixations = fixations
				lik, err := e.TrialLikelihood(trial, scenarioParams)
				require.NoError(t, err)
				assert.Equal(t, 0.0, lik)
			}
		})
	}
}

func TestEngine_Symmetry(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	trials := []Trial{leftOnlyTrial(150), mixedTrial()}
	params := []Params{scenarioParams, {D: 0.005, Theta: 0.3, Std: 0.09}}

	for _, trial := range trials {
		for _, p := range params {
			want, err := e.TrialLikelihood(trial, p)
			require.NoError(t, err)
			got, err := e.TrialLikelihood(trial.Mirror(), p)
			require.NoError(t, err)
			assert.InDelta(t, want, got, 1e-12, "trial %d params %v", trial.ID, p)
		}
	}
}

func TestEngine_LikelihoodBounded(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	for _, d := range []float64{0, 0.002, 0.05} {
		for _, std := range []float64{0.01, 0.2, 2} {
			for _, choice := range []Choice{ChoiceLeft, ChoiceRight} {
				trial := mixedTrial()
				trial.Choice = choice
				lik, err := e.TrialLikelihood(trial, Params{D: d, Theta: 0.5, Std: std})
				require.NoError(t, err)
				if lik < 0 || lik > 1 || math.IsNaN(lik) {
					t.Errorf("d=%v std=%v choice=%v: likelihood %v out of [0,1]", d, std, choice, lik)
				}
			}
		}
	}
}

func TestEngine_Deterministic(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	a, err := e.TrialLikelihood(mixedTrial(), scenarioParams)
	require.NoError(t, err)
	b, err := TrialLikelihood(DefaultSettings(), mixedTrial(), scenarioParams)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEngine_Preconditions(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())

	bad := mixedTrial()
	bad.Choice = 0
	_, err := e.TrialLikelihood(bad, scenarioParams)
	assert.True(t, errors.Is(err, ErrInvalidChoice), "got %v", err)

	_, err = e.TrialLikelihood(mixedTrial(), Params{D: 0.002, Theta: 0.5, Std: 0})
	assert.True(t, errors.Is(err, ErrInvalidParams), "got %v", err)

	neg := mixedTrial()
	neg.Fixations = []Fixation{{Item: ItemLeft, Duration: -5}}
	_, err = e.TrialLikelihood(neg, scenarioParams)
	assert.True(t, errors.Is(err, ErrInvalidTrial), "got %v", err)

	_, err = NewEngine(Settings{StateStep: 0, TimeStep: 1, BarrierUp: 1, BarrierDown: -1})
	assert.True(t, errors.Is(err, ErrInvalidStep), "got %v", err)

	_, err = NewEngine(Settings{StateStep: 0.1, TimeStep: 1, BarrierUp: -1, BarrierDown: 1})
	assert.True(t, errors.Is(err, ErrInvalidBarriers), "got %v", err)
}

func TestRenormalize(t *testing.T) {
	t.Run("rescales_to_incoming_mass", func(t *testing.T) {
		next := []float64{0.2, 0.3, 0.1}
		up, down := renormalize(0.8, next, 0.1, 0.1)
		total := next[0] + next[1] + next[2] + up + down
		assert.InDelta(t, 0.8, total, 1e-15)
		assert.InDelta(t, 0.1, up, 1e-15)
		assert.InDelta(t, 0.1, down, 1e-15)
	})

	t.Run("degenerate_denominator_zeroes_outputs", func(t *testing.T) {
		next := []float64{0, 1e-320, 0}
		up, down := renormalize(1, next, 0, 0)
		assert.Zero(t, up)
		assert.Zero(t, down)
		for _, m := range next {
			assert.Zero(t, m)
		}
	})
}

func TestEngine_DegenerateMassGivesZeroNotNaN(t *testing.T) {
	// A huge drift pushes all mass past the upper barrier on the first step,
	// leaving nothing to propagate afterwards.
	e := newTestEngine(t, DefaultSettings())
	trial := leftOnlyTrial(20)
	trial.ValueLeft = 1000

	p, err := e.Propagate(trial, Params{D: 1, Theta: 0, Std: 0.01})
	require.NoError(t, err)
	assert.InDelta(t, 1, p.Up[0], 1e-12)
	for i := 1; i < len(p.Up); i++ {
		assert.False(t, math.IsNaN(p.Up[i]) || math.IsNaN(p.Down[i]), "step %d produced NaN", i)
		assert.Zero(t, p.Up[i])
	}

	lik, err := e.TrialLikelihood(trial, Params{D: 1, Theta: 0, Std: 0.01})
	require.NoError(t, err)
	assert.Equal(t, 0.0, lik)
}
