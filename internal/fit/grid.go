package fit

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/ddmfit/internal/ddm"
)

const (
	// singleValueMarginRatio is the fraction of a value used as margin when
	// every top result agrees on that value.
	singleValueMarginRatio = 0.1

	// minMargin is the minimum absolute margin around a single value.
	minMargin = 1e-4

	// defaultMarginSteps is the number of grid steps added on each side
	// when narrowing.
	defaultMarginSteps = 1.0
)

// GridSearch evaluates every point of a parameter space and optionally
// refines the space around the best results over further rounds.
type GridSearch struct {
	Evaluator *Evaluator
	Space     ParamSpace

	// Rounds is the number of coarse-to-fine rounds. Defaults to 1.
	Rounds int
	// ValuesPerParam is the number of values per free dimension in rounds
	// after the first. Defaults to 5.
	ValuesPerParam int
	// TopK is the number of best points that define the next round's bounds.
	// Defaults to 5.
	TopK int

	// OnRound, if set, is called after each round completes.
	OnRound func(RoundSummary) error

	Logf func(format string, v ...interface{})
}

// RoundSummary records one round of a search.
type RoundSummary struct {
	Round  int                   `json:"round"`
	Bounds map[string][2]float64 `json:"bounds"`
	Space  ParamSpace            `json:"-"`
	// Ranked holds every evaluated point, best first.
	Ranked []Scored `json:"ranked"`
}

// Best returns the round's top point.
func (r RoundSummary) Best() Scored {
	return r.Ranked[0]
}

// GridResult is the outcome of a search.
type GridResult struct {
	Best   Scored         `json:"best"`
	Rounds []RoundSummary `json:"rounds"`
}

func (gs *GridSearch) withDefaults() GridSearch {
	out := *gs
	if out.Rounds <= 0 {
		out.Rounds = 1
	}
	if out.ValuesPerParam <= 0 {
		out.ValuesPerParam = 5
	}
	if out.TopK <= 0 {
		out.TopK = 5
	}
	if out.Logf == nil {
		out.Logf = func(string, ...interface{}) {}
	}
	return out
}

// Run executes the search. The best point across all rounds is chosen as
// in Rank; ties go to the point evaluated first.
func (gs *GridSearch) Run(ctx context.Context) (*GridResult, error) {
	cfg := gs.withDefaults()
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("grid search: nil evaluator")
	}

	space := cfg.Space
	result := &GridResult{}
	for round := 1; round <= cfg.Rounds; round++ {
		points, err := space.Points()
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		cfg.Logf("[fit] round %d/%d: %d points over %d trials", round, cfg.Rounds, len(points), len(cfg.Evaluator.Trials()))

		models := make([]ddm.Params, len(points))
		for i, p := range points {
			models[i] = p.Params
		}
		evals, err := cfg.Evaluator.EvaluateAll(ctx, models)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}

		scored := make([]Scored, len(points))
		for i := range points {
			scored[i] = Scored{Coords: points[i].Coords, Evaluation: evals[i], Order: i}
		}
		summary := RoundSummary{
			Round:  round,
			Bounds: spaceBounds(space),
			Space:  space,
			Ranked: Rank(scored),
		}
		result.Rounds = append(result.Rounds, summary)

		best := summary.Best()
		if round == 1 || better(best, result.Best) {
			result.Best = best
		}
		cfg.Logf("[fit] round %d best: %v nll=%.6f (%d trials, %d zero)", round, best.Params, best.NLL, best.Trials, best.ZeroLikelihood)

		if cfg.OnRound != nil {
			if err := cfg.OnRound(summary); err != nil {
				return nil, fmt.Errorf("round %d callback: %w", round, err)
			}
		}

		if round < cfg.Rounds {
			topK := summary.Ranked
			if len(topK) > cfg.TopK {
				topK = topK[:cfg.TopK]
			}
			space = narrowSpace(space, topK, cfg.ValuesPerParam)
		}
	}
	return result, nil
}

// narrowSpace builds the next round's space from the top results. Fixed
// dimensions are carried through unchanged.
func narrowSpace(space ParamSpace, topK []Scored, valuesPerParam int) ParamSpace {
	next := ParamSpace{Base: space.Base, Dimensions: make([]Dimension, len(space.Dimensions))}
	hasRatio := space.index(DimStdRatio) >= 0
	for i, d := range space.Dimensions {
		if d.Fixed() {
			next.Dimensions[i] = d
			continue
		}
		start, end := narrowBounds(topK, i, valuesPerParam)
		lo := d.Min
		if d.Name == DimD && hasRatio {
			lo = math.Max(lo, minPositive)
		}
		start = math.Max(start, lo)
		end = math.Min(end, d.Max)
		values := dedupe(generateGrid(start, end, valuesPerParam))
		next.Dimensions[i] = Dimension{Name: d.Name, Values: values, Min: d.Min, Max: d.Max}
	}
	return next
}

// narrowBounds finds the range of dimension dim across the top results and
// pads it by one step of a valuesPerParam grid over that range.
func narrowBounds(topK []Scored, dim int, valuesPerParam int) (start, end float64) {
	if len(topK) == 0 {
		return 0, 0
	}
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, r := range topK {
		v := r.Coords[dim]
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	if minVal == maxVal {
		margin := math.Abs(minVal) * singleValueMarginRatio
		if margin < minMargin {
			margin = minMargin
		}
		return minVal - margin, maxVal + margin
	}

	if valuesPerParam < 2 {
		valuesPerParam = 2
	}
	step := (maxVal - minVal) / float64(valuesPerParam-1)
	return minVal - step*defaultMarginSteps, maxVal + step*defaultMarginSteps
}

// generateGrid creates n evenly-spaced values between start and end
// inclusive.
func generateGrid(start, end float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{(start + end) / 2.0}
	}
	if n > maxValuesPerParam {
		n = maxValuesPerParam
	}
	grid := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := 0; i < n; i++ {
		grid[i] = start + step*float64(i)
	}
	return grid
}

// dedupe drops repeated values, which appear when a range collapses onto a
// domain edge.
func dedupe(values []float64) []float64 {
	out := values[:0]
	for i, v := range values {
		if i > 0 && v == out[len(out)-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}

func spaceBounds(space ParamSpace) map[string][2]float64 {
	bounds := make(map[string][2]float64, len(space.Dimensions))
	for _, d := range space.Dimensions {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range d.Values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		bounds[d.Name] = [2]float64{lo, hi}
	}
	return bounds
}
