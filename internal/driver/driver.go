// Package driver executes a job's ordered shell steps inside an isolated
// environment obtained from a Provisioner. The driver is ignorant of stages,
// conditions and artifacts; it runs steps, captures their combined output,
// and stops at the first failure.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vk/stagehand/internal/ctxlog"
	"github.com/vk/stagehand/internal/runmodel"
)

// ErrProvision marks a failure to create the execution environment. It is
// propagated like a step failure for run-status purposes.
var ErrProvision = errors.New("environment provisioning failed")

// Provisioner creates isolated execution environments matching a job's
// environment descriptor. Container runtimes and equivalents implement this
// boundary; the engine only observes step exit status.
type Provisioner interface {
	// Provision returns a sandbox rooted at workdir for the given image
	// descriptor. Failures wrap ErrProvision.
	Provision(ctx context.Context, image, workdir string) (Sandbox, error)
}

// Sandbox is one provisioned environment.
type Sandbox interface {
	// RunStep executes a single shell step with the given variable bindings,
	// writing combined output to out. A non-zero exit status is an error.
	RunStep(ctx context.Context, script string, vars map[string]string, out io.Writer) error
	// Close releases the environment.
	Close() error
}

// Driver runs job executions.
type Driver struct {
	prov   Provisioner
	logDir string
}

// New creates a Driver that provisions environments through prov and writes
// captured logs under logDir.
func New(prov Provisioner, logDir string) *Driver {
	return &Driver{prov: prov, logDir: logDir}
}

// Execute runs every step of the job execution in declared order inside a
// freshly provisioned environment, stopping at the first failing step. The
// job's timeout, when set, bounds the whole step sequence. The captured log
// stream is attached to the execution.
func (d *Driver) Execute(ctx context.Context, runID string, exec *runmodel.JobExecution, workdir string) error {
	job := exec.Node.Job
	logger := ctxlog.FromContext(ctx).With("job", job.Name)

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	logFile, err := d.openLog(runID, job.Name)
	if err != nil {
		return err
	}
	defer logFile.Close()
	exec.SetLogPath(logFile.Name())

	sandbox, err := d.prov.Provision(ctx, job.Image, workdir)
	if err != nil {
		logger.Error("Provisioning failed.", "image", job.Image, "error", err)
		return fmt.Errorf("%w: %v", ErrProvision, err)
	}
	defer sandbox.Close()

	vars := builtinVars(runID, exec)
	for k, v := range exec.Node.Variables {
		vars[k] = v
	}

	for i, script := range job.Script {
		logger.Debug("Running step.", "index", i)
		fmt.Fprintf(logFile, "$ %s\n", script)
		if err := sandbox.RunStep(ctx, script, vars, logFile); err != nil {
			if ctxErr := context.Cause(ctx); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
				err = fmt.Errorf("step %d timed out after %s: %w", i, job.Timeout, err)
			}
			logger.Error("Step failed.", "index", i, "error", err)
			return fmt.Errorf("step %d failed: %w", i, err)
		}
	}

	logger.Debug("All steps succeeded.", "steps", len(job.Script))
	return nil
}

func (d *Driver) openLog(runID, job string) (*os.File, error) {
	dir := filepath.Join(d.logDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, job+".log"))
}

func builtinVars(runID string, exec *runmodel.JobExecution) map[string]string {
	return map[string]string{
		"PIPELINE_RUN_ID": runID,
		"JOB_NAME":        exec.Node.Name(),
		"JOB_STAGE":       exec.Node.Stage.Name,
	}
}
