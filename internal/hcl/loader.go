// Package hcl loads pipeline definitions written in HCL and translates them
// into the format-agnostic config model.
package hcl

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/stagehand/internal/config"
	"github.com/vk/stagehand/internal/ctxlog"
)

// Loader is the HCL implementation of config.Loader.
type Loader struct{}

// NewLoader creates an HCL loader.
func NewLoader() *Loader {
	return &Loader{}
}

// schemaRoot mirrors the top-level structure of a .hcl pipeline file.
type schemaRoot struct {
	Pipeline *schemaPipeline `hcl:"pipeline,block"`
	Jobs     []*schemaJob    `hcl:"job,block"`
}

type schemaPipeline struct {
	Name      string            `hcl:"name,label"`
	Stages    []string          `hcl:"stages"`
	Variables map[string]string `hcl:"variables,optional"`
}

type schemaJob struct {
	Name         string            `hcl:"name,label"`
	Stage        string            `hcl:"stage"`
	Image        string            `hcl:"image,optional"`
	Script       []string          `hcl:"script"`
	Variables    map[string]string `hcl:"variables,optional"`
	Dependencies []string          `hcl:"dependencies,optional"`
	OnlyTags     string            `hcl:"only_tags,optional"`
	AllowFailure bool              `hcl:"allow_failure,optional"`
	Timeout      string            `hcl:"timeout,optional"`
	Artifacts    *schemaArtifacts  `hcl:"artifacts,block"`
	Cache        *schemaCache      `hcl:"cache,block"`
}

type schemaArtifacts struct {
	Paths    []string `hcl:"paths"`
	ExpireIn string   `hcl:"expire_in,optional"`
}

type schemaCache struct {
	Variant string   `hcl:"variant,optional"`
	Paths   []string `hcl:"paths"`
}

// Load parses and translates a single .hcl pipeline file.
func (l *Loader) Load(ctx context.Context, path string) (*config.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading HCL pipeline definition.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", path, diags)
	}

	var root schemaRoot
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", path, diags)
	}
	if root.Pipeline == nil {
		return nil, fmt.Errorf("%s: missing pipeline block", path)
	}

	p := &config.Pipeline{
		Name:      root.Pipeline.Name,
		Stages:    root.Pipeline.Stages,
		Variables: root.Pipeline.Variables,
	}
	for _, j := range root.Jobs {
		job, err := translateJob(j)
		if err != nil {
			return nil, fmt.Errorf("%s: job %q: %w", path, j.Name, err)
		}
		p.Jobs = append(p.Jobs, job)
	}
	logger.Debug("Pipeline definition loaded.", "pipeline", p.Name, "stages", len(p.Stages), "jobs", len(p.Jobs))
	return p, nil
}

// evalContext exposes the process environment to HCL expressions, so
// definitions can write e.g. `variables = { REGISTRY = env.REGISTRY }`.
func evalContext() *hcl.EvalContext {
	environ := os.Environ()
	vals := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vals[name] = cty.StringVal(value)
	}
	env := cty.MapValEmpty(cty.String)
	if len(vals) > 0 {
		env = cty.MapVal(vals)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func translateJob(j *schemaJob) (*config.Job, error) {
	timeout, err := config.ParseDuration(j.Timeout)
	if err != nil {
		return nil, err
	}
	job := &config.Job{
		Name:         j.Name,
		Stage:        j.Stage,
		Image:        j.Image,
		Script:       j.Script,
		Variables:    j.Variables,
		Dependencies: j.Dependencies,
		OnlyTags:     j.OnlyTags,
		AllowFailure: j.AllowFailure,
		Timeout:      timeout,
	}
	if j.Artifacts != nil {
		expiry, err := config.ParseDuration(j.Artifacts.ExpireIn)
		if err != nil {
			return nil, err
		}
		job.Artifacts = &config.ArtifactSpec{Paths: j.Artifacts.Paths, ExpireIn: expiry}
	}
	if j.Cache != nil {
		variant := j.Cache.Variant
		if variant == "" {
			variant = "default"
		}
		job.Cache = &config.CacheSpec{Variant: variant, Paths: j.Cache.Paths}
	}
	return job, nil
}
