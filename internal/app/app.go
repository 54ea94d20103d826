// Package app wires the engine together: it loads the pipeline definition,
// builds the staged graph, constructs the stores and the execution driver,
// and hands the run to the scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/stagehand/internal/api"
	"github.com/vk/stagehand/internal/artifact"
	"github.com/vk/stagehand/internal/cache"
	"github.com/vk/stagehand/internal/config"
	"github.com/vk/stagehand/internal/ctxlog"
	"github.com/vk/stagehand/internal/driver"
	"github.com/vk/stagehand/internal/fsutil"
	"github.com/vk/stagehand/internal/graph"
	hclloader "github.com/vk/stagehand/internal/hcl"
	"github.com/vk/stagehand/internal/history"
	"github.com/vk/stagehand/internal/runmodel"
	"github.com/vk/stagehand/internal/scheduler"
	"github.com/vk/stagehand/internal/settings"
	"github.com/vk/stagehand/internal/trigger"
	yamlloader "github.com/vk/stagehand/internal/yaml"
)

// Config holds the validated, application-level configuration derived from
// the command line.
type Config struct {
	PipelinePath      string
	SettingsPath      string
	Event             trigger.Kind
	Ref               string
	LogFormat         string
	LogLevel          string
	ContinueOnFailure bool
	// StatusPort overrides the settings file when >= 0.
	StatusPort int
}

// App is the root application object.
type App struct {
	config *Config
	logger *slog.Logger
	out    io.Writer
}

// New constructs the application and its logger.
func New(cfg *Config, out io.Writer) *App {
	return &App{
		config: cfg,
		logger: newLogger(cfg, os.Stderr),
		out:    out,
	}
}

// newLogger builds the process logger from the CLI configuration.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loaderFor selects a pipeline loader from the file extension.
func loaderFor(path string) (config.Loader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return hclloader.NewLoader(), nil
	case ".yml", ".yaml":
		return yamlloader.NewLoader(), nil
	default:
		return nil, fmt.Errorf("unsupported pipeline format %q: expected .hcl, .yml or .yaml", filepath.Ext(path))
	}
}

// resolvePipelinePath accepts either a definition file or a directory. For a
// directory it discovers the definition inside, requiring exactly one.
func resolvePipelinePath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("pipeline path: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}

	var found []string
	for _, ext := range []string{".hcl", ".yml", ".yaml"} {
		matches, err := fsutil.FindFilesByExtension(path, ext)
		if err != nil {
			return "", fmt.Errorf("discovering pipeline definition: %w", err)
		}
		found = append(found, matches...)
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no pipeline definition found under %s", path)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("multiple pipeline definitions found under %s: %s", path, strings.Join(found, ", "))
	}
}

// Run executes one pipeline run end to end and returns a non-nil error when
// the run did not succeed.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	engineCfg, err := settings.Load(a.config.SettingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if a.config.StatusPort >= 0 {
		engineCfg.StatusPort = a.config.StatusPort
	}

	pipelinePath, err := resolvePipelinePath(a.config.PipelinePath)
	if err != nil {
		return err
	}
	loader, err := loaderFor(pipelinePath)
	if err != nil {
		return err
	}
	pipeline, err := loader.Load(ctx, pipelinePath)
	if err != nil {
		return fmt.Errorf("loading pipeline: %w", err)
	}

	g, err := graph.Build(pipeline)
	if err != nil {
		return fmt.Errorf("building pipeline graph: %w", err)
	}

	tc, err := trigger.New(a.config.Event, a.config.Ref, engineCfg.DefaultBranch)
	if err != nil {
		return err
	}
	a.logger.Info("Pipeline loaded.",
		"pipeline", pipeline.Name,
		"stages", len(g.Stages),
		"jobs", g.JobCount(),
		"trigger", tc.String())

	for _, dir := range []string{engineCfg.CacheDir, engineCfg.ArtifactDir, engineCfg.LogDir, filepath.Dir(engineCfg.HistoryDB)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("preparing data directory: %w", err)
		}
	}

	defaultExpiry, err := artifactExpiry(engineCfg)
	if err != nil {
		return err
	}

	caches := cache.NewManager(engineCfg.CacheDir)
	artifacts := artifact.NewStore(engineCfg.ArtifactDir, defaultExpiry)
	if n := artifacts.Sweep(ctx, time.Now()); n > 0 {
		a.logger.Info("Swept expired artifact bundles.", "count", n)
	}
	exec := driver.New(&driver.LocalProvisioner{}, engineCfg.LogDir)

	hist, err := history.Open(engineCfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer hist.Close()

	stopStatus, err := a.startStatusServer(ctx, engineCfg.StatusPort, hist)
	if err != nil {
		return err
	}
	defer stopStatus()

	sched := scheduler.New(g, caches, artifacts, exec, scheduler.Options{
		ContinueOnFailure: a.config.ContinueOnFailure,
	})
	result := sched.Execute(ctx, tc)

	if err := hist.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		a.logger.Warn("Failed to record run history.", "error", err)
	}

	a.printSummary(result)

	if result.Status != runmodel.RunSucceeded {
		return fmt.Errorf("pipeline %q %s", result.Pipeline, result.Status)
	}
	return nil
}

// artifactExpiry parses the configured default artifact retention.
func artifactExpiry(cfg *settings.Settings) (time.Duration, error) {
	if cfg.ArtifactExpiry == "" {
		return 0, nil
	}
	d, err := config.ParseDuration(cfg.ArtifactExpiry)
	if err != nil {
		return 0, fmt.Errorf("invalid artifact_expiry: %w", err)
	}
	return d, nil
}

// startStatusServer serves the run status API on the configured port. It
// returns a stop function; when the port is 0 the server is disabled and the
// stop function is a no-op.
func (a *App) startStatusServer(ctx context.Context, port int, hist *history.Store) (func(), error) {
	if port <= 0 {
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("status API listen: %w", err)
	}

	server := &http.Server{Handler: api.NewServer(hist).Router()}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("Status API server stopped.", "error", err)
		}
	}()
	a.logger.Info("Status API listening.", "addr", listener.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Status API shutdown failed.", "error", err)
		}
	}, nil
}

// printSummary writes the per-job breakdown of a finished run.
func (a *App) printSummary(res *runmodel.Result) {
	fmt.Fprintf(a.out, "\nRun %s (%s) %s\n", res.RunID, res.Pipeline, res.Status)
	for _, job := range res.Jobs {
		line := fmt.Sprintf("  [%s] %-20s %s", job.Stage, job.Name, job.Status)
		if job.Status == runmodel.StatusSucceeded || job.Status == runmodel.StatusFailed {
			line += fmt.Sprintf(" (%s)", job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond))
		}
		if job.Error != "" {
			line += ": " + job.Error
		}
		fmt.Fprintln(a.out, line)
	}
}
