// Package dispatcher invokes external agent collaborators with retry and a
// circuit breaker per agent domain.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PManghan91/boardroom/internal/domain"
)

// RoundContext is what an agent is shown when asked to contribute.
type RoundContext struct {
	RoomID    string
	SessionID string
	Topic     string
	Round     int
	Agent     domain.Agent
	Prior     []domain.Contribution
}

// Capability produces one agent's contribution for a round.
type Capability interface {
	Invoke(ctx context.Context, rc RoundContext) (string, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, rc RoundContext) (string, error)

// Invoke calls f.
func (f CapabilityFunc) Invoke(ctx context.Context, rc RoundContext) (string, error) {
	return f(ctx, rc)
}

// Registry stores capabilities keyed by agent domain.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		caps: make(map[string]Capability),
	}
}

// Register binds a capability to a domain.
func (r *Registry) Register(agentDomain string, c Capability) error {
	if agentDomain == "" {
		return fmt.Errorf("domain is required")
	}
	if c == nil {
		return fmt.Errorf("capability is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[agentDomain]; exists {
		return fmt.Errorf("capability already registered for %s", agentDomain)
	}
	r.caps[agentDomain] = c
	return nil
}

// MustRegister binds a capability or panics.
func (r *Registry) MustRegister(agentDomain string, c Capability) {
	if err := r.Register(agentDomain, c); err != nil {
		panic(err)
	}
}

// Lookup returns the capability bound to a domain.
func (r *Registry) Lookup(agentDomain string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[agentDomain]
	return c, ok
}

// Domains lists registered domains in sorted order.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.caps))
	for d := range r.caps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
