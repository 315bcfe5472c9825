package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// Registry holds the fixed agent set and tracks which agents are disabled
// for subsequent cycles. Disabling is the CLI's `stop <agent-name>`
// operation; it never stops the loop itself.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]Agent
	disabled map[string]bool
}

// NewRegistry constructs the standard five-agent registry. The security
// agent is omitted entirely when the security scan is disabled in config.
func NewRegistry(runner task.Runner, state DeployState, cfg *config.Config) *Registry {
	r := &Registry{
		agents:   make(map[string]Agent),
		disabled: make(map[string]bool),
	}

	if cfg.SecurityScanEnabled {
		r.register(NewSecurityAgent(runner, cfg.Commands))
	}
	r.register(NewPerformanceAgent(runner, cfg.Commands))
	r.register(NewTestingAgent(runner, cfg.Commands, cfg.CoverageThreshold))
	r.register(NewDocumentationAgent(runner, cfg.Commands))
	r.register(NewDeploymentAgent(runner, state, cfg))

	return r
}

func (r *Registry) register(a Agent) {
	r.agents[a.Name()] = a
}

// Get returns the named agent, or an error if the name is unknown.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return a, nil
}

// Deployment returns the deployment agent, or nil if absent (tests may
// build partial registries).
func (r *Registry) Deployment() *DeploymentAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[NameDeployment].(*DeploymentAgent); ok {
		return a
	}
	return nil
}

// ValidationAgents returns the enabled analysis/validation agents
// (everything except deployment), sorted by name for deterministic
// dispatch order.
func (r *Registry) ValidationAgents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Agent
	for name, a := range r.agents {
		if name == NameDeployment || r.disabled[name] {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// SetEnabled enables or disables one agent for subsequent cycles.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("unknown agent %q", name)
	}
	r.disabled[name] = !enabled
	return nil
}

// Enabled reports whether the named agent is enabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok && !r.disabled[name]
}

// Names lists all registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
