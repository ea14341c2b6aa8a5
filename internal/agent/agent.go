// Package agent defines the uniform agent contract and the static,
// hierarchically-named registry agents are looked up by (C5), grounded
// on the teacher's scrape.Scraper interface generalized to a
// domain-neutral shape.
package agent

import (
	"context"

	"github.com/originpath/assocpipeline/internal/model"
)

// Capability names a permission an agent needs from the Policy
// Middleware, e.g. "network" or "secret:CLEARBIT_API_KEY".
type Capability string

const (
	CapabilityNetwork Capability = "network"
)

// Agent is a named, stateless unit that transforms a typed input into a
// typed output. Agents have no access to PipelineState beyond the
// payload they receive; their only side channels are logging and
// metrics.
type Agent interface {
	Name() string
	InputSchemaID() string
	OutputSchemaID() string
	RequiredCapabilities() []Capability
	Execute(ctx context.Context, task model.AgentTask) (model.AgentResult, error)
}

// Constructor builds a fresh Agent instance. Registries hold
// constructors, not instances, so every invocation gets an
// independently-stateless agent.
type Constructor func() Agent

// Registry maps hierarchical agent names ("discovery.site_mapper") to
// constructors. Lookup failure is a fatal configuration error - callers
// should treat a missing name as ConfigError, not something to retry.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry builds a registry from a static table. Passing the table
// in rather than building it via repeated Register calls keeps the
// startup wiring in one place, matching the teacher's registry pattern.
func NewRegistry(table map[string]Constructor) *Registry {
	constructors := make(map[string]Constructor, len(table))
	for name, ctor := range table {
		constructors[name] = ctor
	}
	return &Registry{constructors: constructors}
}

// Lookup returns a fresh Agent instance for name, or false if unknown.
func (r *Registry) Lookup(name string) (Agent, bool) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Names returns every registered agent name, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		out = append(out, name)
	}
	return out
}
