package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ".stagehand", cfg.DataDir)
	require.Equal(t, filepath.Join(".stagehand", "cache"), cfg.CacheDir)
	require.Equal(t, filepath.Join(".stagehand", "artifacts"), cfg.ArtifactDir)
	require.Equal(t, filepath.Join(".stagehand", "history.db"), cfg.HistoryDB)
	require.Equal(t, "main", cfg.DefaultBranch)
	require.Zero(t, cfg.StatusPort)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/stagehand
default_branch: trunk
status_port: 9090
artifact_expiry: 30d
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/stagehand", cfg.DataDir)
	require.Equal(t, "trunk", cfg.DefaultBranch)
	require.Equal(t, 9090, cfg.StatusPort)
	require.Equal(t, "30d", cfg.ArtifactExpiry)
	require.Equal(t, filepath.Join("/var/lib/stagehand", "cache"), cfg.CacheDir, "derived dirs follow data_dir")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte("default_branch: trunk\n"), 0o600))
	t.Setenv("STAGEHAND_DEFAULT_BRANCH", "develop")
	t.Setenv("STAGEHAND_CACHE_DIR", "/tmp/shared-cache")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "develop", cfg.DefaultBranch)
	require.Equal(t, "/tmp/shared-cache", cfg.CacheDir)
}
