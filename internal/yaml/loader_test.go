package yaml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const pipelineYAML = `
name: relay
stages: [build, test, release]
variables:
  CARGO_TERM_COLOR: always
jobs:
  - name: build-gnu
    stage: build
    image: rust:1.79
    script:
      - cargo build --release
    timeout: 45m
    artifacts:
      paths: [target/release/relay]
      expire_in: 7d
    cache:
      variant: gnu
      paths: [target, .cargo]
  - name: test
    stage: test
    script: [cargo test --release]
    dependencies: [build-gnu]
  - name: publish
    stage: release
    script: ["./scripts/publish.sh"]
    only_tags: "v*.*.*"
    dependencies: []
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullPipeline(t *testing.T) {
	t.Parallel()

	p, err := NewLoader().Load(context.Background(), writeDefinition(t, pipelineYAML))
	require.NoError(t, err)

	require.Equal(t, "relay", p.Name)
	require.Equal(t, []string{"build", "test", "release"}, p.Stages)
	require.Len(t, p.Jobs, 3)

	build := p.Jobs[0]
	require.Equal(t, "rust:1.79", build.Image)
	require.Equal(t, 45*time.Minute, build.Timeout)
	require.Equal(t, 7*24*time.Hour, build.Artifacts.ExpireIn)
	require.Equal(t, "gnu", build.Cache.Variant)
	require.Nil(t, build.Dependencies)

	require.Equal(t, []string{"build-gnu"}, p.Jobs[1].Dependencies)
	require.True(t, p.Jobs[2].HasDependencyMarker())
}

func TestLoad_ParseError(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().Load(context.Background(), writeDefinition(t, "stages: ["))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}
