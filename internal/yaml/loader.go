// Package yaml loads pipeline definitions written in YAML, the conventional
// CI definition format, and translates them into the config model.
package yaml

import (
	"context"
	"fmt"
	"os"

	goyaml "gopkg.in/yaml.v3"

	"github.com/vk/stagehand/internal/config"
	"github.com/vk/stagehand/internal/ctxlog"
)

// Loader is the YAML implementation of config.Loader.
type Loader struct{}

// NewLoader creates a YAML loader.
func NewLoader() *Loader {
	return &Loader{}
}

type yamlFile struct {
	Name      string            `yaml:"name"`
	Stages    []string          `yaml:"stages"`
	Variables map[string]string `yaml:"variables"`
	Jobs      []yamlJob         `yaml:"jobs"`
}

type yamlJob struct {
	Name         string            `yaml:"name"`
	Stage        string            `yaml:"stage"`
	Image        string            `yaml:"image"`
	Script       []string          `yaml:"script"`
	Variables    map[string]string `yaml:"variables"`
	Dependencies []string          `yaml:"dependencies"`
	OnlyTags     string            `yaml:"only_tags"`
	AllowFailure bool              `yaml:"allow_failure"`
	Timeout      string            `yaml:"timeout"`
	Artifacts    *yamlArtifacts    `yaml:"artifacts"`
	Cache        *yamlCache        `yaml:"cache"`
}

type yamlArtifacts struct {
	Paths    []string `yaml:"paths"`
	ExpireIn string   `yaml:"expire_in"`
}

type yamlCache struct {
	Variant string   `yaml:"variant"`
	Paths   []string `yaml:"paths"`
}

// Load parses and translates a single .yml/.yaml pipeline file.
func (l *Loader) Load(ctx context.Context, path string) (*config.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading YAML pipeline definition.", "path", path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file yamlFile
	if err := goyaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	p := &config.Pipeline{
		Name:      file.Name,
		Stages:    file.Stages,
		Variables: file.Variables,
	}
	for _, j := range file.Jobs {
		job, err := translateJob(j)
		if err != nil {
			return nil, fmt.Errorf("%s: job %q: %w", path, j.Name, err)
		}
		p.Jobs = append(p.Jobs, job)
	}
	logger.Debug("Pipeline definition loaded.", "pipeline", p.Name, "stages", len(p.Stages), "jobs", len(p.Jobs))
	return p, nil
}

func translateJob(j yamlJob) (*config.Job, error) {
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
