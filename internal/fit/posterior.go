package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/ddmfit/internal/ddm"
)

// ErrInvalidLikelihood is returned when a posterior update receives a
// negative, NaN or mis-sized likelihood vector.
var ErrInvalidLikelihood = errors.New("invalid likelihood vector")

// Posterior is a discrete distribution over candidate models, updated one
// trial at a time.
type Posterior struct {
	Models []ddm.Params `json:"models"`
	Probs  []float64    `json:"probs"`
}

// NewPosterior returns a uniform prior over models.
func NewPosterior(models []ddm.Params) (*Posterior, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: no models", ErrInvalidSpace)
	}
	probs := make([]float64, len(models))
	for i := range probs {
		probs[i] = 1 / float64(len(models))
	}
	return &Posterior{Models: append([]ddm.Params(nil), models...), Probs: probs}, nil
}

// Update applies Bayes' rule with one trial's likelihood per model and
// renormalizes. If every model gives the trial zero probability the trial
// carries no information: the posterior is left unchanged and Update
// returns false.
func (p *Posterior) Update(likelihoods []float64) (bool, error) {
	if len(likelihoods) != len(p.Probs) {
		return false, fmt.Errorf("%w: got %d values for %d models", ErrInvalidLikelihood, len(likelihoods), len(p.Probs))
	}
	for i, l := range likelihoods {
		if l < 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			return false, fmt.Errorf("%w: model %d has likelihood %v", ErrInvalidLikelihood, i, l)
		}
	}
	denom := floats.Dot(p.Probs, likelihoods)
	if denom <= 0 {
		return false, nil
	}
	for i, l := range likelihoods {
		p.Probs[i] = p.Probs[i] * l / denom
	}
	return true, nil
}

// Sum returns the total probability mass, which stays 1 up to rounding.
func (p *Posterior) Sum() float64 {
	return floats.Sum(p.Probs)
}

// MAP returns the most probable model. Ties go to the earlier model.
func (p *Posterior) MAP() (ddm.Params, float64) {
	best := floats.MaxIdx(p.Probs)
	return p.Models[best], p.Probs[best]
}

// Clone returns a deep copy.
func (p *Posterior) Clone() *Posterior {
	return &Posterior{
		Models: append([]ddm.Params(nil), p.Models...),
		Probs:  append([]float64(nil), p.Probs...),
	}
}

// PosteriorStats counts how trials were used by RunPosterior.
type PosteriorStats struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// TrialFunc observes the posterior after each trial.
type TrialFunc func(index int, trial ddm.Trial, post *Posterior, updated bool) error

// RunPosterior folds every selected trial of the evaluator into a uniform
// prior over models. Trials are applied sequentially in selection order;
// the models of each trial are evaluated in parallel.
func RunPosterior(ctx context.Context, ev *Evaluator, models []ddm.Params, onTrial TrialFunc) (*Posterior, PosteriorStats, error) {
	var stats PosteriorStats
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, stats, fmt.Errorf("params %v: %w", m, err)
		}
	}
	post, err := NewPosterior(models)
	if err != nil {
		return nil, stats, err
	}

	for i, trial := range ev.Trials() {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		liks, err := ev.Likelihoods(ctx, trial, post.Models)
		if err != nil {
			return nil, stats, err
		}
		updated, err := post.Update(liks)
		if err != nil {
			return nil, stats, fmt.Errorf("subject %s trial %d: %w", trial.Subject, trial.ID, err)
		}
		if updated {
			stats.Updated++
		} else {
			stats.Skipped++
		}
		if onTrial != nil {
			if err := onTrial(i, trial, post, updated); err != nil {
				return nil, stats, err
			}
		}
	}
	return post, stats, nil
}
