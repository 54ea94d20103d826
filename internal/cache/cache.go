// Package cache maintains keyed, reusable filesystem regions shared across
// runs. Caches are an acceleration, not a correctness mechanism: restoring a
// missing entry yields an empty region, and persistence is best-effort.
package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vk/stagehand/internal/ctxlog"
	"github.com/vk/stagehand/internal/fsutil"
)

// Key identifies one cache region. It is a composite rather than a joined
// string so distinct pipeline/variant pairs can never collide.
type Key struct {
	// Pipeline is the owning pipeline's logical identity.
	Pipeline string
	// Variant discriminates caches of the same pipeline, e.g. a build target.
	Variant string
}

// Manager owns cache regions under a root directory. Restore and Persist for
// the same key serialize against each other; concurrent writers follow
// last-writer-wins semantics.
type Manager struct {
	root string

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{root: dir, locks: make(map[Key]*sync.Mutex)}
}

func (m *Manager) keyLock(key Key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *Manager) dir(key Key) string {
	return filepath.Join(m.root, fsutil.SanitizeName(key.Pipeline), fsutil.SanitizeName(key.Variant))
}

// Restore copies the cache region for key into dest. A missing region is not
// an error: the job simply starts with an empty cache.
func (m *Manager) Restore(ctx context.Context, key Key, dest string) error {
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	src := m.dir(key)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		ctxlog.FromContext(ctx).Debug("No prior cache entry, starting empty.", "pipeline", key.Pipeline, "variant", key.Variant)
		return nil
	} else if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Restoring cache.", "pipeline", key.Pipeline, "variant", key.Variant, "dest", dest)
	return fsutil.CopyTree(src, dest)
}

// Persist copies the declared paths from a job's working directory into the
// region for key, superseding the previous content. Paths missing from the
// working directory are skipped: a failed job's partial cache is still worth
// keeping.
func (m *Manager) Persist(ctx context.Context, key Key, workdir string, paths []string) error {
	l := m.keyLock(key)
	l.Lock()
	defer l.Unlock()

	logger := ctxlog.FromContext(ctx)
	dst := m.dir(key)
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, p := range paths {
		src := filepath.Join(workdir, p)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("Cache path absent from working directory, skipping.", "path", p)
			continue
		} else if err != nil {
			return err
		}
		if err := fsutil.CopyTree(src, filepath.Join(dst, p)); err != nil {
			return err
		}
	}
	logger.Debug("Cache persisted.", "pipeline", key.Pipeline, "variant", key.Variant, "paths", len(paths))
	return nil
}
