package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/stagehand/internal/trigger"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// testConfig returns an app configuration with its data directory rooted in a
// temp dir and the status API disabled.
func testConfig(t *testing.T, pipelinePath string) *Config {
	t.Helper()
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.yml")
	writeFile(t, settingsPath, "data_dir: "+filepath.Join(dir, "data")+"\n")
	return &Config{
		PipelinePath: pipelinePath,
		SettingsPath: settingsPath,
		Event:        trigger.Push,
		Ref:          "main",
		LogFormat:    "text",
		LogLevel:     "error",
		StatusPort:   0,
	}
}

func TestRun_SucceedingPipeline(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "ci.yml")
	writeFile(t, pipelinePath, `
name: demo
stages: [build, test]
jobs:
  - name: compile
    stage: build
    script:
      - echo compiling
  - name: unit
    stage: test
    script:
      - echo testing
`)

	var out bytes.Buffer
	app := New(testConfig(t, pipelinePath), &out)

	err := app.Run(context.Background())

	require.NoError(t, err)
	require.Contains(t, out.String(), "demo")
	require.Contains(t, out.String(), "compile")
	require.Contains(t, out.String(), "unit")
	require.Contains(t, out.String(), "succeeded")
}

func TestRun_FailingPipelineReturnsError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "ci.yml")
	writeFile(t, pipelinePath, `
name: demo
stages: [build]
jobs:
  - name: compile
    stage: build
    script:
      - exit 3
`)

	var out bytes.Buffer
	app := New(testConfig(t, pipelinePath), &out)

	err := app.Run(context.Background())

	require.Error(t, err)
	require.Contains(t, err.Error(), "demo")
	require.Contains(t, out.String(), "failed")
}

func TestRun_InvalidDefinitionFailsBeforeExecution(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "ci.yml")
	writeFile(t, pipelinePath, `
name: demo
stages: [build]
jobs:
  - name: compile
    stage: nonexistent
    script:
      - echo hi
`)

	var out bytes.Buffer
	app := New(testConfig(t, pipelinePath), &out)

	err := app.Run(context.Background())

	require.Error(t, err)
	require.Contains(t, err.Error(), "building pipeline graph")
}

func TestRun_RecordsHistory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "ci.yml")
	writeFile(t, pipelinePath, `
name: demo
stages: [build]
jobs:
  - name: compile
    stage: build
    script:
      - echo hi
`)

	cfg := testConfig(t, pipelinePath)
	var out bytes.Buffer
	app := New(cfg, &out)

	require.NoError(t, app.Run(context.Background()))

	// The history database lives under the configured data directory.
	settingsDir := filepath.Dir(cfg.SettingsPath)
	_, err := os.Stat(filepath.Join(settingsDir, "data", "history.db"))
	require.NoError(t, err)
}

func TestRun_DiscoversDefinitionInDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pipelineDir := filepath.Join(dir, "ci")
	require.NoError(t, os.Mkdir(pipelineDir, 0o755))
	writeFile(t, filepath.Join(pipelineDir, "pipeline.yml"), `
name: demo
stages: [build]
jobs:
  - name: compile
    stage: build
    script:
      - echo hi
`)

	var out bytes.Buffer
	app := New(testConfig(t, pipelineDir), &out)

	require.NoError(t, app.Run(context.Background()))
	require.Contains(t, out.String(), "succeeded")
}

func TestResolvePipelinePath_RejectsAmbiguousDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yml"), "name: a\n")
	writeFile(t, filepath.Join(dir, "b.hcl"), "")

	_, err := resolvePipelinePath(dir)

	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple pipeline definitions")
}

func TestLoaderFor_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := loaderFor("pipeline.toml")

	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported pipeline format")
}
