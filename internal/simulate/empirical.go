// Package simulate generates synthetic choice trials from the attentional
// drift-diffusion model, using fixation statistics measured on real data.
package simulate

import (
	"errors"
	"fmt"

	"github.com/banshee-data/ddmfit/internal/ddm"
)

// ErrNoFixations is returned when the input has no item fixations to learn
// from.
var ErrNoFixations = errors.New("no item fixations")

// Fixations holds empirical fixation statistics. Durations are in
// milliseconds and are sampled uniformly with replacement.
type Fixations struct {
	// ProbLeftFirst is the fraction of trials whose first item fixation is
	// on the left item.
	ProbLeftFirst float64 `json:"prob_left_first"`
	// Latencies are the non-item durations before the first item fixation.
	Latencies []int `json:"latencies"`
	// Transitions are the non-item gaps between consecutive item fixations.
	Transitions []int `json:"transitions"`
	// First holds first item fixations that did not end the trial.
	First []int `json:"first"`
	// Middle holds item fixations that were neither first nor last.
	Middle []int `json:"middle"`
}

// Empirical extracts fixation statistics. The last item fixation of each
// trial is excluded from the duration samples because it is cut short by the
// decision.
func Empirical(trials []ddm.Trial) (*Fixations, error) {
	f := &Fixations{}
	var withItems, leftFirst int

	for _, t := range trials {
		var items []int
		for i, fx := range t.Fixations {
			if fx.Item != ddm.ItemOther {
				items = append(items, i)
			}
		}
		if len(items) == 0 {
			continue
		}
		withItems++
		if t.Fixations[items[0]].Item == ddm.ItemLeft {
			leftFirst++
		}

		latency := 0
		for _, fx := range t.Fixations[:items[0]] {
			latency += fx.Duration
		}
		f.Latencies = append(f.Latencies, latency)

		for n, idx := range items {
			if n > 0 {
				gap := 0
				for _, fx := range t.Fixations[items[n-1]+1 : idx] {
					gap += fx.Duration
				}
				f.Transitions = append(f.Transitions, gap)
			}
			if n == len(items)-1 {
				break
			}
			d := t.Fixations[idx].Duration
			if n == 0 {
				f.First = append(f.First, d)
			} else {
				f.Middle = append(f.Middle, d)
			}
		}
	}

	if withItems == 0 {
		return nil, fmt.Errorf("%w in %d trials", ErrNoFixations, len(trials))
	}
	f.ProbLeftFirst = float64(leftFirst) / float64(withItems)
	if len(f.First) == 0 {
		return nil, fmt.Errorf("%w: every trial ended during its first item fixation", ErrNoFixations)
	}
	if len(f.Middle) == 0 {
		f.Middle = append([]int(nil), f.First...)
	}
	if len(f.Transitions) == 0 {
		f.Transitions = []int{0}
	}
	return f, nil
}
