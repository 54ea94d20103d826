package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/vk/stagehand/internal/ctxlog"
)

// LocalProvisioner implements the provisioning boundary with plain host
// shells: each step runs as `sh -c` inside the job's working directory. The
// image descriptor is recorded for the log stream but provides no isolation
// beyond the per-job scratch directory.
type LocalProvisioner struct {
	// Shell overrides the shell binary. Empty means "sh".
	Shell string
}

// Provision checks the working directory exists and returns a shell sandbox.
func (p *LocalProvisioner) Provision(ctx context.Context, image, workdir string) (Sandbox, error) {
	info, err := os.Stat(workdir)
	if err != nil {
		return nil, fmt.Errorf("working directory %s: %w", workdir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", workdir)
	}
	shell := p.Shell
	if shell == "" {
		shell = "sh"
	}
	if _, err := exec.LookPath(shell); err != nil {
		return nil, fmt.Errorf("shell %q: %w", shell, err)
	}
	ctxlog.FromContext(ctx).Debug("Provisioned local sandbox.", "image", image, "workdir", workdir)
	return &localSandbox{shell: shell, image: image, workdir: workdir}, nil
}

type localSandbox struct {
	shell   string
	image   string
	workdir string
}

func (s *localSandbox) RunStep(ctx context.Context, script string, vars map[string]string, out io.Writer) error {
	cmd := exec.CommandContext(ctx, s.shell, "-c", script)
	cmd.Dir = s.workdir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = os.Environ()
	for k, v := range vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd.Run()
}

func (s *localSandbox) Close() error { return nil }
