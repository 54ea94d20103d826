// Package scheduler walks a validated pipeline graph in stage order,
// dispatching the jobs of each stage for parallel execution and blocking at
// the stage barrier until every one of them reaches a terminal state. A job
// in stage N+1 never begins before all of stage N has resolved.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/vk/stagehand/internal/artifact"
	"github.com/vk/stagehand/internal/cache"
	"github.com/vk/stagehand/internal/config"
	"github.com/vk/stagehand/internal/ctxlog"
	"github.com/vk/stagehand/internal/graph"
	"github.com/vk/stagehand/internal/runmodel"
	"github.com/vk/stagehand/internal/trigger"
)

var errEarlierStageFailed = errors.New("skipped due to failure in an earlier stage")

// CacheManager is the cache boundary the scheduler materializes inputs
// through. *cache.Manager implements it.
type CacheManager interface {
	Restore(ctx context.Context, key cache.Key, dest string) error
	Persist(ctx context.Context, key cache.Key, workdir string, paths []string) error
}

// ArtifactStore is the artifact boundary. *artifact.Store implements it.
type ArtifactStore interface {
	Publish(ctx context.Context, runID, job, workdir string, spec *config.ArtifactSpec) (*artifact.Handle, error)
	Fetch(ctx context.Context, runID, job, dest string) (*artifact.Handle, error)
}

// Executor runs one job execution's steps. *driver.Driver implements it.
type Executor interface {
	Execute(ctx context.Context, runID string, exec *runmodel.JobExecution, workdir string) error
}

// Options tune a Scheduler.
type Options struct {
	// ContinueOnFailure disables the default fail-fast policy: later stages
	// still run after a failure, though the run itself is reported failed.
	ContinueOnFailure bool
	// WorkRoot is where per-job scratch directories are created. Empty means
	// the system temporary directory.
	WorkRoot string
}

// Scheduler coordinates one pipeline graph's runs.
type Scheduler struct {
	graph     *graph.Graph
	caches    CacheManager
	artifacts ArtifactStore
	executor  Executor
	opts      Options
}

// New wires a Scheduler for the given graph.
func New(g *graph.Graph, caches CacheManager, artifacts ArtifactStore, executor Executor, opts Options) *Scheduler {
	return &Scheduler{graph: g, caches: caches, artifacts: artifacts, executor: executor, opts: opts}
}

// Execute performs one run of the graph for the given trigger context. The
// returned result always carries a full per-job breakdown, including on
// abort or cancellation.
func (s *Scheduler) Execute(ctx context.Context, tc trigger.Context) *runmodel.Result {
	logger := ctxlog.FromContext(ctx)
	run := runmodel.NewRun(s.graph, tc)
	run.Begin()
	logger.Info("Run started.", "run", run.ID, "pipeline", run.Pipeline, "trigger", tc.String())

	abort := false
	for _, st := range s.graph.Stages {
		if abort || ctx.Err() != nil {
			reason := errEarlierStageFailed
			if ctx.Err() != nil {
				reason = context.Cause(ctx)
			}
			for _, node := range st.Jobs {
				exec := run.Execution(node.Name())
				// Failure propagates transitively: a job whose declared
				// upstream is already terminal-unsuccessful fails with the
				// missing artifact error instead of being quietly skipped.
				if dep, ok := unavailableUpstream(run, node); ok {
					exec.Finish(fmt.Errorf("dependency %q: %w", dep, artifact.ErrMissingArtifact))
					continue
				}
				exec.Skip(reason)
			}
			continue
		}

		logger.Info("Stage started.", "stage", st.Name, "jobs", len(st.Jobs))
		var eg errgroup.Group
		dispatched := 0
		for _, node := range st.Jobs {
			exec := run.Execution(node.Name())
			if !node.Cond.Eligible(tc) {
				logger.Info("Job skipped by condition.", "job", node.Name(), "pattern", node.Cond.Pattern())
				exec.Skip(nil)
				continue
			}
			dispatched++
			eg.Go(func() error {
				return s.runJob(ctx, run, exec)
			})
		}

		// Stage barrier: wait for every dispatched sibling, even after one
		// of them has already failed.
		err := eg.Wait()
		if err != nil && !s.opts.ContinueOnFailure {
			logger.Warn("Stage failed, aborting remaining stages.", "stage", st.Name, "error", err)
			abort = true
			continue
		}
		logger.Info("Stage finished.", "stage", st.Name, "dispatched", dispatched)
	}

	status := run.End(ctx.Err() != nil)
	logger.Info("Run finished.", "run", run.ID, "status", status)
	return run.Result()
}

// runJob carries one job execution through its full lifecycle: scratch
// directory, cache restore, artifact materialization, step execution,
// artifact publication. It returns a non-nil error only for failures that
// should count against the run (allow_failure jobs swallow theirs).
func (s *Scheduler) runJob(ctx context.Context, run *runmodel.Run, exec *runmodel.JobExecution) error {
	node := exec.Node
	job := node.Job
	logger := ctxlog.FromContext(ctx).With("run", run.ID, "job", job.Name)
	exec.Start()

	workdir, err := os.MkdirTemp(s.opts.WorkRoot, "job-"+job.Name+"-")
	if err != nil {
		exec.Finish(err)
		return s.jobFailure(logger, exec, err)
	}
	defer os.RemoveAll(workdir)

	if job.Cache != nil {
		key := cache.Key{Pipeline: run.Pipeline, Variant: job.Cache.Variant}
		if err := s.caches.Restore(ctx, key, workdir); err != nil {
			logger.Warn("Cache restore failed, starting with empty cache.", "error", err)
		}
		// Persist runs exactly once per dispatched execution, on every
		// outcome, including aborts. Caching is an optimization, so a
		// persist failure never fails the job.
		defer func() {
			if err := s.caches.Persist(context.WithoutCancel(ctx), key, workdir, job.Cache.Paths); err != nil {
				logger.Warn("Cache persist failed.", "error", err)
			}
		}()
	}

	if err := s.materializeArtifacts(ctx, run, exec, workdir); err != nil {
		logger.Error("Artifact materialization failed.", "error", err)
		exec.Finish(err)
		return s.jobFailure(logger, exec, err)
	}

	if err := s.executor.Execute(ctx, run.ID, exec, workdir); err != nil {
		exec.Finish(err)
		return s.jobFailure(logger, exec, err)
	}

	if job.Artifacts != nil {
		if _, err := s.artifacts.Publish(ctx, run.ID, job.Name, workdir, job.Artifacts); err != nil {
			logger.Error("Artifact publication failed.", "error", err)
			exec.Finish(err)
			return s.jobFailure(logger, exec, err)
		}
	}

	exec.Finish(nil)
	logger.Info("Job succeeded.")
	return nil
}

// materializeArtifacts restores upstream artifacts into the working
// directory. Declared dependencies are strict: a missing bundle fails the
// job. Without a declaration, artifacts of every earlier-stage job are
// restored when present. The explicit empty declaration opts out entirely.
func (s *Scheduler) materializeArtifacts(ctx context.Context, run *runmodel.Run, exec *runmodel.JobExecution, workdir string) error {
	node := exec.Node
	switch {
	case node.Job.HasDependencyMarker():
		return nil
	case len(node.Upstream) > 0:
		for _, dep := range node.Upstream {
			if _, err := s.artifacts.Fetch(ctx, run.ID, dep.Name(), workdir); err != nil {
				return fmt.Errorf("dependency %q: %w", dep.Name(), err)
			}
		}
		return nil
	default:
		for _, st := range s.graph.Stages {
			if st.Ordinal >= node.Stage.Ordinal {
				break
			}
			for _, upstream := range st.Jobs {
				_, err := s.artifacts.Fetch(ctx, run.ID, upstream.Name(), workdir)
				if err != nil && !errors.Is(err, artifact.ErrMissingArtifact) {
					return err
				}
			}
		}
		return nil
	}
}

// unavailableUpstream returns the name of a declared dependency that reached
// a terminal state other than success, if any. Stages are marked in order, so
// upstream executions are always terminal by the time dependents are checked.
func unavailableUpstream(run *runmodel.Run, node *graph.JobNode) (string, bool) {
	for _, dep := range node.Upstream {
		switch run.Execution(dep.Name()).Status() {
		case runmodel.StatusFailed, runmodel.StatusSkipped:
			return dep.Name(), true
		}
	}
	return "", false
}

func (s *Scheduler) jobFailure(logger *slog.Logger, exec *runmodel.JobExecution, err error) error {
	if exec.Node.Job.AllowFailure {
		logger.Warn("Job failed but is allowed to fail.", "error", err)
		return nil
	}
	logger.Error("Job failed.", "error", err)
	return fmt.Errorf("job %q failed: %w", exec.Node.Name(), err)
}
