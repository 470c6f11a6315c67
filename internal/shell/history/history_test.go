package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciereq/memstack/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func finishedRun(id string, startedAt time.Time) *domain.DeploymentRun {
	run := domain.NewRun(id, startedAt)
	run.EnterStage(0)
	run.RecordStage(domain.StageResult{
		Service: "postgres", Stage: 0, Outcome: domain.OutcomeHealthy, Attempts: 2, Elapsed: 11 * time.Second,
	})
	run.EnterValidation()
	run.RecordCheck(domain.CheckResult{Name: "store-memory", Outcome: domain.CheckPassed})
	run.Complete(startedAt.Add(90 * time.Second))
	return run
}

// =============================================================================
// Tests
// =============================================================================

func TestOpen_CreatesSchema(t *testing.T) {
	store := openTestStore(t)

	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecord_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	started := time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC)
	run := finishedRun("run-a1b2c3", started)

	require.NoError(t, store.Record(context.Background(), run))

	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, "run-a1b2c3", got.ID)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.True(t, got.StartedAt.Equal(started))
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "postgres", got.Stages[0].Service)
	assert.Equal(t, domain.OutcomeHealthy, got.Stages[0].Outcome)
	require.Len(t, got.Checks, 1)
	assert.Equal(t, domain.CheckPassed, got.Checks[0].Outcome)
}

func TestRecord_FatalRunKeepsReason(t *testing.T) {
	store := openTestStore(t)
	started := time.Now().UTC()
	run := domain.NewRun("run-dead", started)
	run.EnterStage(0)
	run.Fail("postgres timed_out", started.Add(5*time.Minute))

	require.NoError(t, store.Record(context.Background(), run))

	runs, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.StatusFatal, runs[0].Status)
	assert.Equal(t, "postgres timed_out", runs[0].FailureReason)
}

func TestRecord_RefusesNonTerminalRun(t *testing.T) {
	store := openTestStore(t)
	run := domain.NewRun("run-live", time.Now())

	err := store.Record(context.Background(), run)

	assert.Error(t, err)
}

func TestRecent_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		run := finishedRun(id, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Record(context.Background(), run))
	}

	runs, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-mid", runs[1].ID)
}

func TestRecord_DuplicateIDFails(t *testing.T) {
	store := openTestStore(t)
	run := finishedRun("run-dup", time.Now().UTC())

	require.NoError(t, store.Record(context.Background(), run))
	err := store.Record(context.Background(), run)

	assert.Error(t, err)
}
