package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/stagehand/internal/runmodel"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func resultFixture(id string, status runmodel.RunStatus) *runmodel.Result {
	now := time.Now().UTC().Truncate(time.Second)
	return &runmodel.Result{
		RunID:      id,
		Pipeline:   "relay",
		Trigger:    "push main",
		Status:     status,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
		Jobs: []runmodel.JobResult{
			{Name: "build", Stage: "build", Status: runmodel.StatusSucceeded, StartedAt: now.Add(-time.Minute), FinishedAt: now.Add(-30 * time.Second)},
			{Name: "check", Stage: "test", Status: runmodel.StatusFailed, Error: "step 0 failed: exit status 1"},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveResult(ctx, resultFixture("run-1", runmodel.RunFailed)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "relay", got.Pipeline)
	require.Equal(t, runmodel.RunFailed, got.Status)
	require.Len(t, got.Jobs, 2)
	require.Equal(t, "build", got.Jobs[0].Name, "job order is preserved")
	require.Equal(t, runmodel.StatusFailed, got.Jobs[1].Status)
	require.Contains(t, got.Jobs[1].Error, "exit status 1")
	require.True(t, got.Jobs[1].StartedAt.IsZero(), "never-started jobs keep zero timestamps")
}

func TestGetRun_NotFound(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	ctx := context.Background()

	older := resultFixture("run-old", runmodel.RunSucceeded)
	older.StartedAt = older.StartedAt.Add(-time.Hour)
	older.FinishedAt = older.FinishedAt.Add(-time.Hour)
	require.NoError(t, s.SaveResult(ctx, older))
	require.NoError(t, s.SaveResult(ctx, resultFixture("run-new", runmodel.RunSucceeded)))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-new", runs[0].RunID)
	require.Equal(t, "run-old", runs[1].RunID)
}
