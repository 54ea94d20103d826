package config

import (
	"context"
	"time"
)

// Pipeline is the unified, format-agnostic representation of a pipeline
// definition. Loaders for the concrete on-disk formats (HCL, YAML) all
// translate into this model; the engine never sees format-specific types.
type Pipeline struct {
	// Name is the pipeline's logical identity. It participates in cache key
	// composition, so two pipelines with different names never share caches.
	Name string
	// Stages lists the stage names in declared order. The declared order is
	// the execution order.
	Stages []string
	// Variables are pipeline-wide defaults, overridable per job.
	Variables map[string]string
	Jobs      []*Job
}

// Job is the format-agnostic representation of a `job` block.
type Job struct {
	Name  string
	Stage string
	// Image identifies the execution environment the job's steps run in.
	Image string
	// Script is the ordered list of shell steps.
	Script []string
	// Variables override pipeline-level variables for this job only.
	Variables map[string]string
	// Dependencies names upstream jobs whose artifacts this job requires.
	// A nil slice means no dependencies were declared; an empty non-nil
	// slice is the explicit "no dependencies" marker, which skips artifact
	// restoration entirely.
	Dependencies []string
	// OnlyTags holds a tag pattern. When set, the job runs only for tag
	// triggers whose tag matches the pattern.
	OnlyTags string
	// AllowFailure lets the job fail without failing the run.
	AllowFailure bool
	// Timeout bounds the job's total step execution time. Zero means no limit.
	Timeout   time.Duration
	Artifacts *ArtifactSpec
	Cache     *CacheSpec
}

// HasDependencyMarker reports whether the job carries the explicit
// "no dependencies" declaration (dependencies = []).
func (j *Job) HasDependencyMarker() bool {
	return j.Dependencies != nil && len(j.Dependencies) == 0
}

// ArtifactSpec declares the files a job publishes on success.
type ArtifactSpec struct {
	Paths []string
	// ExpireIn bounds the artifact's retention. Zero means the store default.
	ExpireIn time.Duration
}

// CacheSpec declares the job's cache participation.
type CacheSpec struct {
	// Variant discriminates caches of the same pipeline, e.g. a toolchain
	// target, so differing variants never corrupt each other.
	Variant string
	Paths   []string
}

// Loader turns an on-disk pipeline definition into the unified model.
// Implementations handle exactly one textual format.
type Loader interface {
	Load(ctx context.Context, path string) (*Pipeline, error)
}
