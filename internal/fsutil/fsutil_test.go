package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyTree_Directory(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "deep.txt"), []byte("deep"), 0o644))

	require.NoError(t, CopyTree(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "nested", "deep.txt"))
	require.NoError(t, err)
	require.Equal(t, "deep", string(got))
}

func TestCopyTree_SingleFile(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "a.bin")
	dst := filepath.Join(t.TempDir(), "sub", "b.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, CopyTree(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "build-musl", SanitizeName("build-musl"))
	require.Equal(t, "a_b", SanitizeName("a/b"))
	require.NotEqual(t, "..", SanitizeName(".."))
	require.NotEmpty(t, SanitizeName(""))
}
