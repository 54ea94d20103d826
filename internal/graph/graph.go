// Package graph turns a parsed pipeline definition into a validated, staged
// execution graph. Structural errors (unknown stages, duplicate job names,
// dependencies on same-stage or later-stage jobs) are caught here, before
// anything runs.
package graph

import (
	"fmt"

	"github.com/vk/stagehand/internal/condition"
	"github.com/vk/stagehand/internal/config"
)

// DefinitionError reports an invalid pipeline definition. It always names the
// offending job or stage so the operator can find it.
type DefinitionError struct {
	Subject string
	Reason  string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid pipeline definition: %s: %s", e.Subject, e.Reason)
}

// Graph is a validated pipeline graph. Stages appear in execution order;
// jobs within a stage are mutually independent.
type Graph struct {
	Pipeline *config.Pipeline
	Stages   []*Stage

	jobs map[string]*JobNode
}

// Stage groups the jobs that run concurrently between two barriers.
type Stage struct {
	Name    string
	Ordinal int
	Jobs    []*JobNode
}

// JobNode is one job bound into the graph, with its dependency references
// resolved and its trigger condition compiled.
type JobNode struct {
	Job   *config.Job
	Stage *Stage
	Cond  *condition.Condition
	// Upstream holds the resolved dependency nodes, all in strictly earlier
	// stages.
	Upstream []*JobNode
	// Variables is the effective variable set: pipeline defaults overlaid
	// with the job's own bindings.
	Variables map[string]string
}

// Name returns the job's declared name.
func (n *JobNode) Name() string { return n.Job.Name }

// Build validates the definition and constructs the staged graph.
func Build(p *config.Pipeline) (*Graph, error) {
	if p.Name == "" {
		return nil, &DefinitionError{Subject: "pipeline", Reason: "missing name"}
	}
	if len(p.Stages) == 0 {
		return nil, &DefinitionError{Subject: p.Name, Reason: "no stages declared"}
	}

	g := &Graph{Pipeline: p, jobs: make(map[string]*JobNode, len(p.Jobs))}
	stageIndex := make(map[string]*Stage, len(p.Stages))
	for i, name := range p.Stages {
		if _, dup := stageIndex[name]; dup {
			return nil, &DefinitionError{Subject: name, Reason: "stage declared twice"}
		}
		st := &Stage{Name: name, Ordinal: i}
		stageIndex[name] = st
		g.Stages = append(g.Stages, st)
	}

	for _, job := range p.Jobs {
		if job.Name == "" {
			return nil, &DefinitionError{Subject: job.Stage, Reason: "job without a name"}
		}
		st, ok := stageIndex[job.Stage]
		if !ok {
			return nil, &DefinitionError{Subject: job.Name, Reason: fmt.Sprintf("references unknown stage %q", job.Stage)}
		}
		if _, dup := g.jobs[job.Name]; dup {
			return nil, &DefinitionError{Subject: job.Name, Reason: "duplicate job name"}
		}
		if len(job.Script) == 0 {
			return nil, &DefinitionError{Subject: job.Name, Reason: "no script steps declared"}
		}

		cond := condition.Always
		if job.OnlyTags != "" {
			var err error
			cond, err = condition.Compile(job.OnlyTags)
			if err != nil {
				return nil, &DefinitionError{Subject: job.Name, Reason: err.Error()}
			}
		}

		node := &JobNode{
			Job:       job,
			Stage:     st,
			Cond:      cond,
			Variables: mergeVariables(p.Variables, job.Variables),
		}
		g.jobs[job.Name] = node
		st.Jobs = append(st.Jobs, node)
	}

	// Dependencies can only be resolved once every job is registered.
	for _, node := range g.jobs {
		for _, depName := range node.Job.Dependencies {
			dep, ok := g.jobs[depName]
			if !ok {
				return nil, &DefinitionError{Subject: node.Name(), Reason: fmt.Sprintf("depends on unknown job %q", depName)}
			}
			if dep.Stage.Ordinal == node.Stage.Ordinal {
				return nil, &DefinitionError{Subject: node.Name(), Reason: fmt.Sprintf("depends on %q in the same stage", depName)}
			}
			if dep.Stage.Ordinal > node.Stage.Ordinal {
				return nil, &DefinitionError{Subject: node.Name(), Reason: fmt.Sprintf("depends on %q in a later stage", depName)}
			}
			node.Upstream = append(node.Upstream, dep)
		}
	}

	return g, nil
}

// Job looks up a job node by name.
func (g *Graph) Job(name string) (*JobNode, bool) {
	n, ok := g.jobs[name]
	return n, ok
}

// JobCount returns the number of jobs bound into the graph.
func (g *Graph) JobCount() int { return len(g.jobs) }

func mergeVariables(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
