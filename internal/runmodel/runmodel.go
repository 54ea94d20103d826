// Package runmodel holds the runtime records of a run: one JobExecution per
// job in the graph, owned exclusively by their Run. Downstream consumers
// reference executions by job name rather than embedding results inline.
package runmodel

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/stagehand/internal/graph"
	"github.com/vk/stagehand/internal/trigger"
)

// Status is the state of a single job execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSkipped   Status = "skipped"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSkipped || s == StatusSucceeded || s == StatusFailed
}

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// JobExecution is the runtime instance of one job within a run. Transitions:
// pending → skipped, or pending → running → succeeded|failed. Terminal states
// are final; re-triggering a job means a new run.
type JobExecution struct {
	Node *graph.JobNode

	mu         sync.Mutex
	status     Status
	err        error
	startedAt  time.Time
	finishedAt time.Time
	logPath    string
	once       sync.Once
}

// Start marks the execution running and records its start time.
func (e *JobExecution) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusRunning
	e.startedAt = time.Now()
}

// Finish records a terminal outcome. A nil err means success. Finish is
// effective only once; later calls are ignored.
func (e *JobExecution) Finish(err error) {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.finishedAt = time.Now()
		if err != nil {
			e.status = StatusFailed
			e.err = err
			return
		}
		e.status = StatusSucceeded
	})
}

// Skip marks a never-dispatched execution terminal without running it. The
// reason, if any, is retained for reporting. Skip is effective only once.
func (e *JobExecution) Skip(reason error) {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.status = StatusSkipped
		e.err = reason
	})
}

// SetLogPath records where the execution's captured log stream lives.
func (e *JobExecution) SetLogPath(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logPath = path
}

// Status returns the execution's current status.
func (e *JobExecution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Err returns the failure or skip reason, if any.
func (e *JobExecution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Run is one end-to-end execution of the graph.
type Run struct {
	ID       string
	Pipeline string
	Trigger  trigger.Context

	mu         sync.Mutex
	status     RunStatus
	startedAt  time.Time
	finishedAt time.Time

	executions map[string]*JobExecution
	order      []*JobExecution
}

// NewRun allocates the execution arena for every job in the graph, in stage
// order, all pending.
func NewRun(g *graph.Graph, tc trigger.Context) *Run {
	r := &Run{
		ID:         uuid.NewString(),
		Pipeline:   g.Pipeline.Name,
		Trigger:    tc,
		status:     RunPending,
		executions: make(map[string]*JobExecution, g.JobCount()),
	}
	for _, st := range g.Stages {
		for _, node := range st.Jobs {
			exec := &JobExecution{Node: node, status: StatusPending}
			r.executions[node.Name()] = exec
			r.order = append(r.order, exec)
		}
	}
	return r
}

// Execution returns the execution record for a job name.
func (r *Run) Execution(job string) *JobExecution {
	return r.executions[job]
}

// Executions returns every execution in stage order.
func (r *Run) Executions() []*JobExecution {
	return r.order
}

// Begin marks the run started.
func (r *Run) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunRunning
	r.startedAt = time.Now()
}

// End derives and records the run's terminal status: failed if the run was
// aborted or any job without allow_failure failed, succeeded otherwise.
func (r *Run) End(aborted bool) RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = time.Now()
	r.status = RunSucceeded
	if aborted {
		r.status = RunFailed
		return r.status
	}
	for _, e := range r.order {
		if e.Status() == StatusFailed && !e.Node.Job.AllowFailure {
			r.status = RunFailed
			break
		}
	}
	return r.status
}

// Status returns the run's current status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result is the externally visible outcome of a run.
type Result struct {
	RunID      string      `json:"run_id"`
	Pipeline   string      `json:"pipeline"`
	Trigger    string      `json:"trigger"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Jobs       []JobResult `json:"jobs"`
}

// JobResult is the per-job breakdown within a Result.
type JobResult struct {
	Name       string    `json:"name"`
	Stage      string    `json:"stage"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	LogPath    string    `json:"log_path,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ExitCode maps a result onto a process exit indicator.
func (r *Result) ExitCode() int {
	if r.Status == RunSucceeded {
		return 0
	}
	return 1
}

// Result snapshots the run into its externally visible form.
func (r *Run) Result() *Result {
	r.mu.Lock()
	res := &Result{
		RunID:      r.ID,
		Pipeline:   r.Pipeline,
		Trigger:    r.Trigger.String(),
		Status:     r.status,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
	r.mu.Unlock()

	for _, e := range r.order {
		e.mu.Lock()
		jr := JobResult{
			Name:       e.Node.Name(),
			Stage:      e.Node.Stage.Name,
			Status:     e.status,
			StartedAt:  e.startedAt,
			FinishedAt: e.finishedAt,
			LogPath:    e.logPath,
		}
		if e.err != nil {
			jr.Error = e.err.Error()
		}
		e.mu.Unlock()
		res.Jobs = append(res.Jobs, jr)
	}
	return res
}
