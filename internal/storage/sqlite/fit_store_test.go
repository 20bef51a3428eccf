package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ddmfit/internal/ddm"
	"github.com/banshee-data/ddmfit/internal/fit"
	"github.com/banshee-data/ddmfit/internal/monitoring"
	"github.com/banshee-data/ddmfit/internal/timeutil"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	db, err := Open(filepath.Join(t.TempDir(), "fit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_MigratesToLatest(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, MigrateUp(db))

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrateDown(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, MigrateDown(db))

	version, _, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fit_posteriors'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFitStore_Runs(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	store := NewFitStoreWithClock(setupTestDB(t), clock)

	cfg := json.RawMessage(`{"rounds":2}`)
	run, err := store.CreateRun(KindGrid, cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, start.UnixNano(), run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, KindGrid, got.Kind)
	assert.JSONEq(t, string(cfg), string(got.ConfigJSON))
	assert.Nil(t, got.FinishedAt)

	clock.Advance(time.Minute)
	require.NoError(t, store.FinishRun(run.RunID, StatusComplete))
	got, err = store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, start.Add(time.Minute).UnixNano(), *got.FinishedAt)

	_, err = store.GetRun("missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.True(t, errors.Is(store.FinishRun("missing", StatusFailed), ErrNotFound))

	clock.Advance(time.Second)
	second, err := store.CreateRun(KindPosterior, nil)
	require.NoError(t, err)
	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Nil(t, runs[0].ConfigJSON)
}

func TestFitStore_Scores(t *testing.T) {
	store := NewFitStore(setupTestDB(t))
	run, err := store.CreateRun(KindGrid, nil)
	require.NoError(t, err)

	scored := []fit.Scored{
		{Evaluation: fit.Evaluation{Params: ddm.Params{D: 0.001, Theta: 0.5, Std: 0.1}, NLL: 12.5, Trials: 10}, Order: 0},
		{Evaluation: fit.Evaluation{Params: ddm.Params{D: 0.002, Theta: 0.5, Std: 0.1}, NLL: 10.25, Trials: 9, ZeroLikelihood: 1}, Order: 1},
	}
	require.NoError(t, store.InsertScores(run.RunID, 1, scored))
	require.NoError(t, store.InsertScores(run.RunID, 2, []fit.Scored{
		{Evaluation: fit.Evaluation{Params: ddm.Params{D: 0.0018, Theta: 0.45, Std: 0.1, Bias: 0.01}, NLL: 12.5, Trials: 10}, Order: 0},
	}))

	rows, err := store.ListScores(run.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[0].Round, "ties keep the earlier round first")
	assert.Equal(t, 0.001, rows[0].Params.D)
	assert.Equal(t, 2, rows[1].Round)
	assert.Equal(t, 0.01, rows[1].Params.Bias)
	// A lower NLL over fewer trials still ranks last.
	assert.Equal(t, 10.25, rows[2].NLL)
	assert.Equal(t, 1, rows[2].ZeroLikelihood)

	// Duplicate keys roll back the whole batch.
	err = store.InsertScores(run.RunID, 1, scored)
	assert.Error(t, err)
	rows, err = store.ListScores(run.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// Scores must belong to an existing run.
	assert.Error(t, store.InsertScores("missing", 1, scored))
}

func TestFitStore_Posterior(t *testing.T) {
	store := NewFitStore(setupTestDB(t))
	run, err := store.CreateRun(KindPosterior, nil)
	require.NoError(t, err)

	post, err := fit.NewPosterior([]ddm.Params{
		{D: 0.001, Theta: 0.3, Std: 0.05},
		{D: 0.002, Theta: 0.3, Std: 0.05},
		{D: 0.003, Theta: 0.3, Std: 0.05},
	})
	require.NoError(t, err)
	_, err = post.Update([]float64{0.1, 0.2, 0.7})
	require.NoError(t, err)

	require.NoError(t, store.InsertPosterior(run.RunID, post))
	got, err := store.GetPosterior(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, post.Models, got.Models)
	assert.Equal(t, post.Probs, got.Probs)

	// Re-inserting replaces.
	require.NoError(t, store.InsertPosterior(run.RunID, post))
	got, err = store.GetPosterior(run.RunID)
	require.NoError(t, err)
	assert.Len(t, got.Models, 3)

	_, err = store.GetPosterior("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
