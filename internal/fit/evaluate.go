package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/ddmfit/internal/ddm"
)

// ErrNoTrials is returned when trial selection leaves nothing to evaluate.
var ErrNoTrials = errors.New("no trials selected")

// Parity restricts evaluation to odd or even trial IDs, which is how the
// data is split for held-out validation.
type Parity int

const (
	ParityAll Parity = iota
	ParityOdd
	ParityEven
)

// ParseParity maps "all", "odd" or "even" to a Parity.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "all":
		return ParityAll, nil
	case "odd":
		return ParityOdd, nil
	case "even":
		return ParityEven, nil
	}
	return ParityAll, fmt.Errorf("invalid parity %q: expected all, odd or even", s)
}

func (p Parity) keep(id int) bool {
	switch p {
	case ParityOdd:
		return id%2 != 0
	case ParityEven:
		return id%2 == 0
	default:
		return true
	}
}

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "all"
	}
}

// EvalOptions controls which trials feed the objective.
type EvalOptions struct {
	// TrialsPerSubject caps the number of trials sampled per subject. Zero,
	// or a value above a subject's trial count, uses every trial.
	TrialsPerSubject int    `json:"trials_per_subject"`
	Parity           Parity `json:"parity"`
	Seed             uint64 `json:"seed"`
}

// SelectTrials samples trials per subject without replacement and then
// applies the parity filter, in that order. Subjects are visited in order of
// first appearance and a single seeded generator is used throughout, so the
// selection depends only on the input order and the seed.
func SelectTrials(trials []ddm.Trial, opts EvalOptions) []ddm.Trial {
	var subjects []string
	bySubject := make(map[string][]ddm.Trial)
	for _, t := range trials {
		if _, ok := bySubject[t.Subject]; !ok {
			subjects = append(subjects, t.Subject)
		}
		bySubject[t.Subject] = append(bySubject[t.Subject], t)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var out []ddm.Trial
	for _, subject := range subjects {
		st := bySubject[subject]
		sample := st
		if opts.TrialsPerSubject > 0 && opts.TrialsPerSubject < len(st) {
			perm := rng.Perm(len(st))[:opts.TrialsPerSubject]
			sample = make([]ddm.Trial, len(perm))
			for i, idx := range perm {
				sample[i] = st[idx]
			}
		}
		for _, t := range sample {
			if opts.Parity.keep(t.ID) {
				out = append(out, t)
			}
		}
	}
	return out
}

// Evaluation is the aggregate objective for one parameter tuple.
type Evaluation struct {
	Params ddm.Params `json:"params"`
	// NLL is the negative sum of log-likelihoods over informative trials.
	NLL float64 `json:"nll"`
	// Trials counts trials with a positive likelihood.
	Trials int `json:"trials"`
	// ZeroLikelihood counts trials excluded because their likelihood was 0.
	ZeroLikelihood int `json:"zero_likelihood"`
}

// Evaluator computes the aggregate objective over a fixed trial selection.
// The selection is made once at construction, so every parameter tuple is
// scored against the same trials.
type Evaluator struct {
	engine *ddm.Engine
	pool   *Pool
	trials []ddm.Trial
}

// NewEvaluator validates the trials, applies the selection options and
// returns an evaluator. Malformed trials fail here, before any propagation.
func NewEvaluator(engine *ddm.Engine, pool *Pool, trials []ddm.Trial, opts EvalOptions) (*Evaluator, error) {
	if engine == nil {
		return nil, fmt.Errorf("nil engine")
	}
	for _, t := range trials {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	selected := SelectTrials(trials, opts)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %d input trials, options %+v", ErrNoTrials, len(trials), opts)
	}
	if pool == nil {
		pool = NewPool(0)
	}
	return &Evaluator{engine: engine, pool: pool, trials: selected}, nil
}

// Trials returns the selected trials.
func (ev *Evaluator) Trials() []ddm.Trial {
	return ev.trials
}

// Engine returns the likelihood engine.
func (ev *Evaluator) Engine() *ddm.Engine {
	return ev.engine
}

// Pool returns the worker pool.
func (ev *Evaluator) Pool() *Pool {
	return ev.pool
}

type task struct {
	model int
	trial int
}

// EvaluateAll scores every parameter tuple. All (tuple, trial) pairs are
// dispatched as one batch; per-tuple sums are then folded in trial order so
// the result does not depend on the number of workers.
func (ev *Evaluator) EvaluateAll(ctx context.Context, models []ddm.Params) ([]Evaluation, error) {
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("params %v: %w", m, err)
		}
	}

	tasks := make([]task, 0, len(models)*len(ev.trials))
	for mi := range models {
		for ti := range ev.trials {
			tasks = append(tasks, task{model: mi, trial: ti})
		}
	}

	liks, err := Map(ctx, ev.pool, tasks, func(_ context.Context, tk task) (float64, error) {
		return ev.engine.TrialLikelihood(ev.trials[tk.trial], models[tk.model])
	})
	if err != nil {
		return nil, err
	}

	out := make([]Evaluation, len(models))
	n := len(ev.trials)
	for mi, m := range models {
		out[mi] = aggregate(m, liks[mi*n:(mi+1)*n])
	}
	return out, nil
}

// Evaluate scores a single parameter tuple.
func (ev *Evaluator) Evaluate(ctx context.Context, params ddm.Params) (Evaluation, error) {
	res, err := ev.EvaluateAll(ctx, []ddm.Params{params})
	if err != nil {
		return Evaluation{}, err
	}
	return res[0], nil
}

// Likelihoods returns the per-model likelihoods of one trial, evaluated in
// parallel.
func (ev *Evaluator) Likelihoods(ctx context.Context, trial ddm.Trial, models []ddm.Params) ([]float64, error) {
	return Map(ctx, ev.pool, models, func(_ context.Context, m ddm.Params) (float64, error) {
		return ev.engine.TrialLikelihood(trial, m)
	})
}

// aggregate folds per-trial likelihoods into the negative log-likelihood.
// Zero likelihoods carry no information and are skipped so the objective
// stays finite and comparable across tuples.
func aggregate(params ddm.Params, liks []float64) Evaluation {
	ev := Evaluation{Params: params}
	var logLik float64
	for _, l := range liks {
		if l > 0 {
			logLik += math.Log(l)
			ev.Trials++
		} else {
			ev.ZeroLikelihood++
		}
	}
	ev.NLL = -logLik
	return ev
}
