// Package router maps project names to their compiled conversation
// pipelines.
package router

import (
	"sort"

	"github.com/robbu/chatbot-core/server/internal/agent/graph"
	"github.com/robbu/chatbot-core/server/internal/core/errx"
)

// Router is the pure project-name to pipeline mapping. An unmatched project
// is an explicit error, never a silent no-op.
type Router struct {
	pipelines map[string]graph.Runner
}

func New() *Router {
	return &Router{pipelines: make(map[string]graph.Runner)}
}

// Register binds a compiled pipeline to a project name. Registering the same
// name twice replaces the earlier pipeline.
func (r *Router) Register(project string, p graph.Runner) {
	r.pipelines[project] = p
}

// Pipeline returns the runner for the project or an errx unknown-project
// error.
func (r *Router) Pipeline(project string) (graph.Runner, error) {
	p, ok := r.pipelines[project]
	if !ok {
		return nil, errx.UnknownProject(project)
	}
	return p, nil
}

// Projects lists the registered project names, sorted for stable logs.
func (r *Router) Projects() []string {
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
