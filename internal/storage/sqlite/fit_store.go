package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/ddmfit/internal/ddm"
	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/timeutil"
)

// Run kinds.
const (
	KindGrid      = "grid"
	KindPosterior = "posterior"
	KindNLL       = "nll"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is a persisted fit invocation.
type Run struct {
	RunID      string          `json:"run_id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	FinishedAt *int64          `json:"finished_at,omitempty"`
}

// ScoreRow is one persisted grid evaluation.
type ScoreRow struct {
	RunID          string     `json:"run_id"`
	Round          int        `json:"round"`
	Order          int        `json:"order"`
	Params         ddm.Params `json:"params"`
	NLL            float64    `json:"nll"`
	Trials         int        `json:"trials"`
	ZeroLikelihood int        `json:"zero_likelihood"`
}

// FitStore persists fit runs and their results.
type FitStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewFitStore creates a FitStore over an open, migrated database.
func NewFitStore(db *sql.DB) *FitStore {
	return NewFitStoreWithClock(db, timeutil.RealClock{})
}

// NewFitStoreWithClock creates a FitStore that stamps runs with clock.
func NewFitStoreWithClock(db *sql.DB, clock timeutil.Clock) *FitStore {
	return &FitStore{db: db, clock: clock}
}

// CreateRun records a new running invocation and returns it with a fresh
// UUID.
func (s *FitStore) CreateRun(kind string, config json.RawMessage) (*Run, error) {
	run := &Run{
		RunID:      uuid.New().String(),
		Kind:       kind,
		Status:     StatusRunning,
		ConfigJSON: config,
		CreatedAt:  s.clock.Now().UnixNano(),
	}

	var configStr interface{}
	if len(config) > 0 {
		configStr = string(config)
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO fit_runs (run_id, kind, status, config_json, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			run.RunID, run.Kind, run.Status, configStr, run.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun sets the final status of a run.
func (s *FitStore) FinishRun(runID, status string) error {
	now := s.clock.Now().UnixNano()
	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`UPDATE fit_runs SET status = ?, finished_at = ? WHERE run_id = ?`, status, now, runID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *FitStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, kind, status, config_json, created_at, finished_at
		FROM fit_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *FitStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, status, config_json, created_at, finished_at
		FROM fit_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var config sql.NullString
	var finished sql.NullInt64
	if err := sc.Scan(&run.RunID, &run.Kind, &run.Status, &config, &run.CreatedAt, &finished); err != nil {
		return nil, err
	}
	if config.Valid {
		run.ConfigJSON = json.RawMessage(config.String)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Int64
	}
	return &run, nil
}

// InsertScores stores one round of grid evaluations in a single
// transaction.
func (s *FitStore) InsertScores(runID string, round int, scores []fit.Scored) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO fit_scores (run_id, round, ord, d, theta, std, bias, nll, trials, zero_likelihood)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, sc := range scores {
			p := sc.Params
			if _, err := stmt.Exec(runID, round, sc.Order, p.D, p.Theta, p.Std, p.Bias, sc.NLL, sc.Trials, sc.ZeroLikelihood); err != nil {
				return fmt.Errorf("insert score %d of round %d: %w", sc.Order, round, err)
			}
		}
		return tx.Commit()
	})
}

// ListScores returns the scores of a run, best first. Ties keep round and
// evaluation order.
func (s *FitStore) ListScores(runID string) ([]ScoreRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, round, ord, d, theta, std, bias, nll, trials, zero_likelihood
		FROM fit_scores WHERE run_id = ?
		ORDER BY zero_likelihood ASC, nll ASC, round ASC, ord ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var r ScoreRow
		if err := rows.Scan(&r.RunID, &r.Round, &r.Order, &r.Params.D, &r.Params.Theta, &r.Params.Std, &r.Params.Bias,
			&r.NLL, &r.Trials, &r.ZeroLikelihood); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertPosterior stores a posterior, replacing any earlier one for the run.
func (s *FitStore) InsertPosterior(runID string, post *fit.Posterior) error {
	if len(post.Models) != len(post.Probs) {
		return fmt.Errorf("posterior has %d models and %d probabilities", len(post.Models), len(post.Probs))
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM fit_posteriors WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("clear posterior: %w", err)
		}
		for i, m := range post.Models {
			if _, err := tx.Exec(`
				INSERT INTO fit_posteriors (run_id, model_idx, d, theta, std, bias, prob)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				runID, i, m.D, m.Theta, m.Std, m.Bias, post.Probs[i]); err != nil {
				return fmt.Errorf("insert model %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

// GetPosterior loads the posterior of a run in model order.
func (s *FitStore) GetPosterior(runID string) (*fit.Posterior, error) {
	rows, err := s.db.Query(`
		SELECT d, theta, std, bias, prob FROM fit_posteriors
		WHERE run_id = ? ORDER BY model_idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query posterior: %w", err)
	}
	defer rows.Close()

	post := &fit.Posterior{}
	for rows.Next() {
		var m ddm.Params
		var p float64
		if err := rows.Scan(&m.D, &m.Theta, &m.Std, &m.Bias, &p); err != nil {
			return nil, fmt.Errorf("scan posterior: %w", err)
		}
		post.Models = append(post.Models, m)
		post.Probs = append(post.Probs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(post.Models) == 0 {
		return nil, fmt.Errorf("posterior for run %s: %w", runID, ErrNotFound)
	}
	return post, nil
}
