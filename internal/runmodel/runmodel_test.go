package runmodel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/stagehand/internal/config"
	"github.com/vk/stagehand/internal/graph"
	"github.com/vk/stagehand/internal/trigger"
)

func buildRun(t *testing.T, allowFailure bool) *Run {
	t.Helper()
	g, err := graph.Build(&config.Pipeline{
		Name:   "demo",
		Stages: []string{"build", "test"},
		Jobs: []*config.Job{
			{Name: "compile", Stage: "build", Script: []string{"true"}},
			{Name: "unit", Stage: "test", Script: []string{"true"}, AllowFailure: allowFailure},
		},
	})
	require.NoError(t, err)
	tc, err := trigger.New(trigger.Push, "main", "main")
	require.NoError(t, err)
	return NewRun(g, tc)
}

func TestNewRun_ArenaInStageOrder(t *testing.T) {
	t.Parallel()
	run := buildRun(t, false)

	execs := run.Executions()
	require.Len(t, execs, 2)
	require.Equal(t, "compile", execs[0].Node.Name())
	require.Equal(t, "unit", execs[1].Node.Name())
	for _, e := range execs {
		require.Equal(t, StatusPending, e.Status())
	}
	require.NotEmpty(t, run.ID)
}

func TestJobExecution_TerminalStateIsFinal(t *testing.T) {
	t.Parallel()
	run := buildRun(t, false)
	exec := run.Execution("compile")

	exec.Start()
	require.Equal(t, StatusRunning, exec.Status())

	failure := errors.New("step 1 failed")
	exec.Finish(failure)
	require.Equal(t, StatusFailed, exec.Status())
	require.ErrorIs(t, exec.Err(), failure)

	// Neither a later success nor a skip can overwrite a terminal state.
	exec.Finish(nil)
	exec.Skip(errors.New("too late"))
	require.Equal(t, StatusFailed, exec.Status())
	require.ErrorIs(t, exec.Err(), failure)
}

func TestEnd_FailedJobFailsRun(t *testing.T) {
	t.Parallel()
	run := buildRun(t, false)
	run.Begin()
	run.Execution("compile").Finish(nil)
	run.Execution("unit").Finish(errors.New("boom"))

	require.Equal(t, RunFailed, run.End(false))
}

func TestEnd_AllowFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()
	run := buildRun(t, true)
	run.Begin()
	run.Execution("compile").Finish(nil)
	run.Execution("unit").Finish(errors.New("boom"))

	require.Equal(t, RunSucceeded, run.End(false))
}

func TestEnd_AbortedRunAlwaysFails(t *testing.T) {
	t.Parallel()
	run := buildRun(t, false)
	run.Begin()
	run.Execution("compile").Skip(nil)
	run.Execution("unit").Skip(nil)

	require.Equal(t, RunFailed, run.End(true))
}

func TestResult_SnapshotAndExitCode(t *testing.T) {
	t.Parallel()
	run := buildRun(t, false)
	run.Begin()
	run.Execution("compile").Start()
	run.Execution("compile").Finish(nil)
	run.Execution("unit").Start()
	run.Execution("unit").SetLogPath("/tmp/unit.log")
	run.Execution("unit").Finish(errors.New("boom"))
	run.End(false)

	res := run.Result()
	require.Equal(t, run.ID, res.RunID)
	require.Equal(t, "demo", res.Pipeline)
	require.Equal(t, RunFailed, res.Status)
	require.Equal(t, 1, res.ExitCode())
	require.Len(t, res.Jobs, 2)
	require.Equal(t, StatusSucceeded, res.Jobs[0].Status)
	require.Equal(t, "boom", res.Jobs[1].Error)
	require.Equal(t, "/tmp/unit.log", res.Jobs[1].LogPath)
}
