// Package artifact stores the named output bundles jobs publish on success.
// Artifacts are immutable once published and scoped to a single run: two
// concurrent runs never see each other's bundles, even for the same job name.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vk/stagehand/internal/config"
	"github.com/vk/stagehand/internal/ctxlog"
	"github.com/vk/stagehand/internal/fsutil"
)

// ErrMissingArtifact is returned by Fetch when no artifact exists for the
// requested job, typically because the producing job was skipped or failed.
var ErrMissingArtifact = errors.New("missing required artifact")

// Handle describes one published artifact bundle.
type Handle struct {
	RunID     string
	Job       string
	Paths     []string
	CreatedAt time.Time
	ExpiresAt time.Time

	dir string
}

// Store is a synchronized, filesystem-backed artifact store.
type Store struct {
	root          string
	defaultExpiry time.Duration

	mu   sync.RWMutex
	runs map[string]map[string]*Handle
}

// NewStore creates a Store rooted at dir. Artifacts published without an
// explicit expiry expire after defaultExpiry; zero means they never expire.
func NewStore(dir string, defaultExpiry time.Duration) *Store {
	return &Store{
		root:          dir,
		defaultExpiry: defaultExpiry,
		runs:          make(map[string]map[string]*Handle),
	}
}

// Publish copies a successful job's declared paths out of its working
// directory into the store. Declared paths missing from the working directory
// are an error: the job promised an output it did not produce.
func (s *Store) Publish(ctx context.Context, runID, job, workdir string, spec *config.ArtifactSpec) (*Handle, error) {
	dir := filepath.Join(s.root, fsutil.SanitizeName(runID), fsutil.SanitizeName(job))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for _, p := range spec.Paths {
		src := filepath.Join(workdir, p)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("job %q declared artifact path %q but did not produce it", job, p)
		} else if err != nil {
			return nil, err
		}
		if err := fsutil.CopyTree(src, filepath.Join(dir, p)); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	expiry := spec.ExpireIn
	if expiry == 0 {
		expiry = s.defaultExpiry
	}
	h := &Handle{
		RunID:     runID,
		Job:       job,
		Paths:     spec.Paths,
		CreatedAt: now,
		dir:       dir,
	}
	if expiry > 0 {
		h.ExpiresAt = now.Add(expiry)
	}

	s.mu.Lock()
	if s.runs[runID] == nil {
		s.runs[runID] = make(map[string]*Handle)
	}
	s.runs[runID][job] = h
	s.mu.Unlock()

	ctxlog.FromContext(ctx).Debug("Artifact published.", "run", runID, "job", job, "paths", len(spec.Paths))
	return h, nil
}

// Fetch materializes the named job's artifact bundle into dest. It returns
// ErrMissingArtifact when the job published nothing in this run.
func (s *Store) Fetch(ctx context.Context, runID, job, dest string) (*Handle, error) {
	s.mu.RLock()
	h := s.runs[runID][job]
	s.mu.RUnlock()

	if h == nil {
		return nil, fmt.Errorf("%w: job %q published no artifact in this run", ErrMissingArtifact, job)
	}
	for _, p := range h.Paths {
		if err := fsutil.CopyTree(filepath.Join(h.dir, p), filepath.Join(dest, p)); err != nil {
			return nil, err
		}
	}
	ctxlog.FromContext(ctx).Debug("Artifact fetched.", "run", runID, "job", job, "dest", dest)
	return h, nil
}

// Sweep removes expired artifact bundles and returns how many were removed.
func (s *Store) Sweep(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for runID, jobs := range s.runs {
		for job, h := range jobs {
			if h.ExpiresAt.IsZero() || h.ExpiresAt.After(now) {
				continue
			}
			if err := os.RemoveAll(h.dir); err != nil {
				ctxlog.FromContext(ctx).Warn("Failed to remove expired artifact.", "run", runID, "job", job, "error", err)
				continue
			}
			delete(jobs, job)
			removed++
		}
		if len(jobs) == 0 {
			delete(s.runs, runID)
		}
	}
	return removed
}
