package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ddmfit/internal/ddm"
)

func testTrials() []ddm.Trial {
	var trials []ddm.Trial
	for _, subject := range []string{"s1", "s2"} {
		for id := 1; id <= 6; id++ {
			choice := ddm.ChoiceLeft
			if id%3 == 0 {
				choice = ddm.ChoiceRight
			}
			trials = append(trials, ddm.Trial{
				Subject:    subject,
				ID:         id,
				Choice:     choice,
				ValueLeft:  float64(id % 4),
				ValueRight: float64((id + 1) % 4),
				Fixations: []ddm.Fixation{
					{Item: ddm.ItemOther, Duration: 20},
					{Item: ddm.ItemLeft, Duration: 80 + 10*id},
					{Item: ddm.ItemRight, Duration: 60},
				},
			})
		}
	}
	return trials
}

func newTestEvaluator(t *testing.T, workers int, trials []ddm.Trial, opts EvalOptions) *Evaluator {
	t.Helper()
	engine, err := ddm.NewEngine(ddm.DefaultSettings())
	require.NoError(t, err)
	ev, err := NewEvaluator(engine, NewPool(workers), trials, opts)
	require.NoError(t, err)
	return ev
}

func TestMap_PreservesOrder(t *testing.T) {
	items := make([]int, 200)
	for i := range items {
		items[i] = i
	}
	got, err := Map(context.Background(), NewPool(8), items, func(_ context.Context, v int) (int, error) {
		return v * v, nil
	})
	require.NoError(t, err)
	for i, v := range got {
		if v != i*i {
			t.Fatalf("index %d: got %d, want %d", i, v, i*i)
		}
	}
}

func TestMap_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Map(context.Background(), NewPool(4), []int{1, 2, 3, 4}, func(_ context.Context, v int) (int, error) {
		if v == 3 {
			return 0, boom
		}
		return v, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Map(ctx, NewPool(2), []int{1, 2}, func(_ context.Context, v int) (int, error) {
		return v, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectTrials(t *testing.T) {
	trials := testTrials()

	t.Run("all", func(t *testing.T) {
		got := SelectTrials(trials, EvalOptions{})
		assert.Len(t, got, len(trials))
	})

	t.Run("parity", func(t *testing.T) {
		for _, tr := range SelectTrials(trials, EvalOptions{Parity: ParityOdd}) {
			assert.Equal(t, 1, tr.ID%2)
		}
		for _, tr := range SelectTrials(trials, EvalOptions{Parity: ParityEven}) {
			assert.Equal(t, 0, tr.ID%2)
		}
		assert.Len(t, SelectTrials(trials, EvalOptions{Parity: ParityEven}), 6)
	})

	t.Run("quota_per_subject", func(t *testing.T) {
		got := SelectTrials(trials, EvalOptions{TrialsPerSubject: 2, Seed: 7})
		require.Len(t, got, 4)
		counts := map[string]int{}
		for _, tr := range got {
			counts[tr.Subject]++
		}
		assert.Equal(t, map[string]int{"s1": 2, "s2": 2}, counts)
	})

	t.Run("quota_above_count_uses_all", func(t *testing.T) {
		got := SelectTrials(trials, EvalOptions{TrialsPerSubject: 50, Seed: 7})
		assert.Len(t, got, len(trials))
	})

	t.Run("seeded", func(t *testing.T) {
		opts := EvalOptions{TrialsPerSubject: 3, Seed: 42}
		a := SelectTrials(trials, opts)
		b := SelectTrials(trials, opts)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("same seed produced different selections (-a +b):\n%s", diff)
		}
	})
}

func TestParseParity(t *testing.T) {
	for in, want := range map[string]Parity{"": ParityAll, "all": ParityAll, "odd": ParityOdd, "even": ParityEven} {
		got, err := ParseParity(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseParity("third")
	assert.Error(t, err)
}

func TestNewEvaluator_Errors(t *testing.T) {
	engine, err := ddm.NewEngine(ddm.DefaultSettings())
	require.NoError(t, err)

	_, err = NewEvaluator(engine, nil, nil, EvalOptions{})
	assert.ErrorIs(t, err, ErrNoTrials)

	bad := testTrials()
	bad[3].Choice = 0
	_, err = NewEvaluator(engine, nil, bad, EvalOptions{})
	assert.ErrorIs(t, err, ddm.ErrInvalidChoice)
}

func TestEvaluator_MatchesPerTrialSum(t *testing.T) {
	trials := testTrials()
	ev := newTestEvaluator(t, 4, trials, EvalOptions{})
	params := ddm.Params{D: 0.004, Theta: 0.5, Std: 0.1}

	got, err := ev.Evaluate(context.Background(), params)
	require.NoError(t, err)

	var want float64
	for _, tr := range trials {
		l, err := ddm.TrialLikelihood(ddm.DefaultSettings(), tr, params)
		require.NoError(t, err)
		if l > 0 {
			want -= math.Log(l)
		}
	}
	assert.InDelta(t, want, got.NLL, 1e-9)
	assert.Equal(t, len(trials), got.Trials+got.ZeroLikelihood)
}

func TestEvaluator_SkipsZeroLikelihood(t *testing.T) {
	trials := testTrials()
	trials = append(trials, ddm.Trial{
		Subject:   "s3",
		ID:        1,
		Choice:    ddm.ChoiceLeft,
		Fixations: []ddm.Fixation{{Item: ddm.ItemOther, Duration: 100}},
	})
	ev := newTestEvaluator(t, 2, trials, EvalOptions{})

	got, err := ev.Evaluate(context.Background(), ddm.Params{D: 0.004, Theta: 0.5, Std: 0.1})
	require.NoError(t, err)
	assert.False(t, math.IsInf(got.NLL, 0) || math.IsNaN(got.NLL))
	assert.Equal(t, 1, got.ZeroLikelihood)
}

func TestEvaluator_IndependentOfWorkerCount(t *testing.T) {
	models := []ddm.Params{
		{D: 0.002, Theta: 0.3, Std: 0.08},
		{D: 0.006, Theta: 0.7, Std: 0.12},
	}
	serial, err := newTestEvaluator(t, 1, testTrials(), EvalOptions{}).EvaluateAll(context.Background(), models)
	require.NoError(t, err)
	parallel, err := newTestEvaluator(t, 8, testTrials(), EvalOptions{}).EvaluateAll(context.Background(), models)
	require.NoError(t, err)
	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("worker count changed results (-serial +parallel):\n%s", diff)
	}
}

func TestAggregate(t *testing.T) {
	got := aggregate(ddm.Params{}, []float64{0.5, 0, 0.25, 0})
	assert.InDelta(t, -(math.Log(0.5) + math.Log(0.25)), got.NLL, 1e-15)
	assert.Equal(t, 2, got.Trials)
	assert.Equal(t, 2, got.ZeroLikelihood)
}

func TestParseDimension(t *testing.T) {
	testCases := []struct {
		in      string
		want    []float64
		wantErr bool
	}{
		{"d=0.001,0.002", []float64{0.001, 0.002}, false},
		{"theta=0:1:0.25", []float64{0, 0.25, 0.5, 0.75, 1}, false},
		{"std=0.05", []float64{0.05}, false},
		{"theta=1.5", nil, true},
		{"std=0", nil, true},
		{"gamma=1", nil, true},
		{"d", nil, true},
		{"d=", nil, true},
		{"d=1:0:0.1", nil, true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			dim, err := ParseDimension(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, dim.Values, len(tc.want))
			for i := range tc.want {
				assert.InDelta(t, tc.want[i], dim.Values[i], 1e-12)
			}
		})
	}
}

func TestGenerateRange_NoAccumulationDrift(t *testing.T) {
	values := GenerateRange(0.0005, 0.01, 0.0005)
	require.Len(t, values, 20)
	assert.InDelta(t, 0.01, values[19], 1e-15)
}

func mustDim(t *testing.T, name string, values ...float64) Dimension {
	t.Helper()
	d, err := NewDimension(name, values)
	require.NoError(t, err)
	return d
}

func TestParamSpace_Points(t *testing.T) {
	space := ParamSpace{
		Dimensions: []Dimension{
			mustDim(t, DimD, 0.001, 0.002),
			mustDim(t, DimTheta, 0.3, 0.6, 0.9),
		},
		Base: ddm.Params{Std: 0.1},
	}
	points, err := space.Points()
	require.NoError(t, err)
	require.Len(t, points, 6)
	// Last dimension varies fastest.
	assert.Equal(t, []float64{0.001, 0.3}, points[0].Coords)
	assert.Equal(t, []float64{0.001, 0.6}, points[1].Coords)
	assert.Equal(t, []float64{0.002, 0.3}, points[3].Coords)
	assert.Equal(t, ddm.Params{D: 0.002, Theta: 0.9, Std: 0.1}, points[5].Params)
}

func TestParamSpace_StdRatio(t *testing.T) {
	space := ParamSpace{
		Dimensions: []Dimension{
			mustDim(t, DimStdRatio, 20),
			mustDim(t, DimD, 0.002),
		},
		Base: ddm.Params{Theta: 0.5},
	}
	points, err := space.Points()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 0.04, points[0].Params.Std, 1e-15)

	space.Dimensions = append(space.Dimensions, mustDim(t, DimStd, 0.1))
	_, err = space.Points()
	assert.ErrorIs(t, err, ErrInvalidSpace)

	zeroD := ParamSpace{Dimensions: []Dimension{mustDim(t, DimStdRatio, 20)}}
	_, err = zeroD.Points()
	assert.ErrorIs(t, err, ErrInvalidSpace)
}

func TestParamSpace_Limits(t *testing.T) {
	big := make([]float64, 1000)
	for i := range big {
		big[i] = float64(i) * 1e-6
	}
	space := ParamSpace{Dimensions: []Dimension{
		mustDim(t, DimD, big...),
		mustDim(t, DimBias, big...),
	}}
	_, err := space.Points()
	assert.ErrorIs(t, err, ErrInvalidSpace)

	dup := ParamSpace{Dimensions: []Dimension{mustDim(t, DimD, 1), mustDim(t, DimD, 2)}}
	assert.ErrorIs(t, dup.Validate(), ErrInvalidSpace)
}

func TestRank_StableTies(t *testing.T) {
	scored := []Scored{
		{Evaluation: Evaluation{NLL: 3}, Order: 0},
		{Evaluation: Evaluation{NLL: 1}, Order: 1},
		{Evaluation: Evaluation{NLL: 1}, Order: 2},
		{Evaluation: Evaluation{NLL: 2}, Order: 3},
	}
	ranked := Rank(scored)
	var order []int
	for _, s := range ranked {
		order = append(order, s.Order)
	}
	assert.Equal(t, []int{1, 2, 3, 0}, order)
	assert.Equal(t, 0, scored[0].Order, "input must not be reordered")
}

func TestRank_FewerZeroLikelihoodFirst(t *testing.T) {
	scored := []Scored{
		{Evaluation: Evaluation{NLL: 0, Trials: 0, ZeroLikelihood: 12}, Order: 0},
		{Evaluation: Evaluation{NLL: 40, Trials: 11, ZeroLikelihood: 1}, Order: 1},
		{Evaluation: Evaluation{NLL: 90, Trials: 12}, Order: 2},
		{Evaluation: Evaluation{NLL: 80, Trials: 12}, Order: 3},
	}
	var order []int
	for _, s := range Rank(scored) {
		order = append(order, s.Order)
	}
	assert.Equal(t, []int{3, 2, 1, 0}, order)
	assert.True(t, better(scored[2], scored[0]))
	assert.False(t, better(scored[0], scored[1]))
}

func TestGridSearch_SingleRound(t *testing.T) {
	ev := newTestEvaluator(t, 4, testTrials(), EvalOptions{})
	space := ParamSpace{
		Dimensions: []Dimension{
			mustDim(t, DimD, 0.001, 0.004, 0.008),
			mustDim(t, DimTheta, 0.2, 0.8),
			mustDim(t, DimStd, 0.05, 0.15),
		},
	}
	gs := &GridSearch{Evaluator: ev, Space: space}
	res, err := gs.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rounds, 1)
	require.Len(t, res.Rounds[0].Ranked, 12)

	for _, s := range res.Rounds[0].Ranked {
		assert.False(t, less(s, res.Best), "%v ranks above the best", s.Params)
	}

	again, err := gs.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Best, again.Best)
}

func TestGridSearch_TieGoesToFirstEvaluated(t *testing.T) {
	ev := newTestEvaluator(t, 4, testTrials(), EvalOptions{})
	space := ParamSpace{
		Dimensions: []Dimension{mustDim(t, DimTheta, 0.5, 0.5, 0.5)},
		Base:       ddm.Params{D: 0.003, Std: 0.1},
	}
	res, err := (&GridSearch{Evaluator: ev, Space: space}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Best.Order)
}

func TestGridSearch_Narrowing(t *testing.T) {
	ev := newTestEvaluator(t, 4, testTrials(), EvalOptions{})
	space := ParamSpace{
		Dimensions: []Dimension{
			mustDim(t, DimD, 0.001, 0.005, 0.009),
			mustDim(t, DimTheta, 0, 0.5, 1),
			mustDim(t, DimStd, 0.1),
		},
	}
	var seen []int
	gs := &GridSearch{
		Evaluator:      ev,
		Space:          space,
		Rounds:         3,
		ValuesPerParam: 3,
		TopK:           2,
		OnRound: func(r RoundSummary) error {
			seen = append(seen, r.Round)
			return nil
		},
	}
	res, err := gs.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rounds, 3)
	assert.Equal(t, []int{1, 2, 3}, seen)

	for _, r := range res.Rounds {
		assert.False(t, better(r.Best(), res.Best), "round %d beats the overall best", r.Round)
		// The fixed dimension never moves.
		assert.Equal(t, [2]float64{0.1, 0.1}, r.Bounds[DimStd])
		th := r.Bounds[DimTheta]
		assert.GreaterOrEqual(t, th[0], 0.0)
		assert.LessOrEqual(t, th[1], 1.0)
	}
}

func TestGridSearch_NarrowingStaysInformative(t *testing.T) {
	ev := newTestEvaluator(t, 4, testTrials(), EvalOptions{})
	space := ParamSpace{
		Dimensions: []Dimension{
			mustDim(t, DimD, 0.001, 0.004),
			mustDim(t, DimTheta, 0.2, 0.8),
			mustDim(t, DimStd, 0.05, 0.15),
		},
	}
	gs := &GridSearch{Evaluator: ev, Space: space, Rounds: 2}
	res, err := gs.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rounds, 2)

	first := res.Rounds[0].Best()
	require.Equal(t, 12, first.Trials)

	// Round two pads the round-one spread by a quarter of it, so it stays
	// well inside the domain.
	r2 := res.Rounds[1].Bounds
	assert.GreaterOrEqual(t, r2[DimD][0], 0.00025-1e-12)
	assert.LessOrEqual(t, r2[DimD][1], 0.00475+1e-12)
	assert.GreaterOrEqual(t, r2[DimTheta][0], 0.05-1e-12)
	assert.GreaterOrEqual(t, r2[DimStd][0], 0.025-1e-12)
	assert.LessOrEqual(t, r2[DimStd][1], 0.175+1e-12)
	for i, name := range []string{DimD, DimTheta, DimStd} {
		assert.GreaterOrEqual(t, first.Coords[i], r2[name][0]-1e-12, name)
		assert.LessOrEqual(t, first.Coords[i], r2[name][1]+1e-12, name)
	}

	assert.Equal(t, 12, res.Best.Trials, "best %v explains every trial", res.Best.Params)
	assert.Zero(t, res.Best.ZeroLikelihood)
	assert.LessOrEqual(t, res.Best.NLL, first.NLL)
}

func TestNarrowBounds(t *testing.T) {
	topK := []Scored{{Coords: []float64{0.2}}, {Coords: []float64{0.4}}}
	start, end := narrowBounds(topK, 0, 5)
	assert.InDelta(t, 0.15, start, 1e-12)
	assert.InDelta(t, 0.45, end, 1e-12)

	start, end = narrowBounds([]Scored{{Coords: []float64{0.5}}}, 0, 5)
	assert.InDelta(t, 0.45, start, 1e-12)
	assert.InDelta(t, 0.55, end, 1e-12)

	assert.Equal(t, []float64{0, 0.5, 1}, generateGrid(0, 1, 3))
	assert.Equal(t, []float64{0, 1}, dedupe([]float64{0, 0, 1, 1}))
}

func TestPosterior_Update(t *testing.T) {
	models := []ddm.Params{{D: 1, Std: 1}, {D: 2, Std: 1}, {D: 3, Std: 1}}
	post, err := NewPosterior(models)
	require.NoError(t, err)
	assert.InDelta(t, 1, post.Sum(), 1e-15)

	ok, err := post.Update([]float64{0.2, 0.1, 0.1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, post.Probs[0], 1e-12)
	assert.InDelta(t, 0.25, post.Probs[1], 1e-12)
	assert.InDelta(t, 1, post.Sum(), 1e-12)

	t.Run("zero_likelihood_model_drops_out", func(t *testing.T) {
		p := post.Clone()
		ok, err := p.Update([]float64{0.3, 0, 0.3})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, p.Probs[1])
		assert.InDelta(t, 1, p.Sum(), 1e-12)
	})

	t.Run("all_zero_skipped", func(t *testing.T) {
		p := post.Clone()
		ok, err := p.Update([]float64{0, 0, 0})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, post.Probs, p.Probs)
	})

	t.Run("invalid", func(t *testing.T) {
		p := post.Clone()
		_, err := p.Update([]float64{0.1})
		assert.ErrorIs(t, err, ErrInvalidLikelihood)
		_, err = p.Update([]float64{0.1, math.NaN(), 0.1})
		assert.ErrorIs(t, err, ErrInvalidLikelihood)
		_, err = p.Update([]float64{0.1, -0.1, 0.1})
		assert.ErrorIs(t, err, ErrInvalidLikelihood)
	})

	m, prob := post.MAP()
	assert.Equal(t, models[0], m)
	assert.InDelta(t, 0.5, prob, 1e-12)
}

func TestRunPosterior(t *testing.T) {
	trials := testTrials()
	trials = append(trials, ddm.Trial{
		Subject:   "s3",
		ID:        1,
		Choice:    ddm.ChoiceRight,
		Fixations: []ddm.Fixation{{Item: ddm.ItemOther, Duration: 40}},
	})
	ev := newTestEvaluator(t, 4, trials, EvalOptions{})
	models := []ddm.Params{
		{D: 0.001, Theta: 0.5, Std: 0.1},
		{D: 0.004, Theta: 0.5, Std: 0.1},
		{D: 0.008, Theta: 0.5, Std: 0.1},
	}

	var sums []float64
	post, stats, err := RunPosterior(context.Background(), ev, models, func(i int, _ ddm.Trial, p *Posterior, _ bool) error {
		sums = append(sums, p.Sum())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(trials), stats.Updated+stats.Skipped)
	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, sums, len(trials))
	for i, s := range sums {
		assert.InDelta(t, 1, s, 1e-9, "after trial %d", i)
	}
	for _, p := range post.Probs {
		assert.GreaterOrEqual(t, p, 0.0)
	}

	stop := fmt.Errorf("stop")
	_, _, err = RunPosterior(context.Background(), ev, models, func(int, ddm.Trial, *Posterior, bool) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}
