// Package roster loads the agent roster and binds agent domains to
// capabilities.
package roster

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PManghan91/boardroom/internal/adapter/agentclient"
	"github.com/PManghan91/boardroom/internal/adapter/llm"
	"github.com/PManghan91/boardroom/internal/dispatcher"
	"github.com/PManghan91/boardroom/internal/domain"
)

// Capability kinds.
const (
	KindHTTP   = "http"
	KindLLM    = "llm"
	KindStatic = "static"
)

// Roster is the parsed roster file.
type Roster struct {
	Agents       []domain.Agent               `yaml:"agents"`
	Capabilities map[string]CapabilityBinding `yaml:"capabilities"`
}

// CapabilityBinding describes how one domain is invoked.
type CapabilityBinding struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Persona  string `yaml:"persona,omitempty"`
	Text     string `yaml:"text,omitempty"`
}

// Parse decodes and validates a roster payload.
func Parse(data []byte) (*Roster, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Roster{}, nil
	}
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("roster: decode: %w", err)
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads a roster file. An empty path yields an empty roster.
func Load(path string) (*Roster, error) {
	if strings.TrimSpace(path) == "" {
		return &Roster{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("roster: %s: %w", path, err)
	}
	return r, nil
}

func (r *Roster) normalize() {
	for i := range r.Agents {
		r.Agents[i].ID = strings.TrimSpace(r.Agents[i].ID)
		r.Agents[i].Domain = strings.ToLower(strings.TrimSpace(r.Agents[i].Domain))
	}
	if len(r.Capabilities) > 0 {
		caps := make(map[string]CapabilityBinding, len(r.Capabilities))
		for d, b := range r.Capabilities {
			b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
			caps[strings.ToLower(strings.TrimSpace(d))] = b
		}
		r.Capabilities = caps
	}
}

// Validate checks agent ids are unique and every binding is usable.
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Agents))
	for _, a := range r.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent id is required")
		}
		if a.Domain == "" {
			return fmt.Errorf("agent %s: domain is required", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %s", a.ID)
		}
		seen[a.ID] = true
	}
	for d, b := range r.Capabilities {
		switch b.Kind {
		case KindHTTP:
			if b.Endpoint == "" {
				return fmt.Errorf("capability %s: endpoint is required", d)
			}
		case KindLLM, KindStatic:
		default:
			return fmt.Errorf("capability %s: unknown kind %q", d, b.Kind)
		}
	}
	return nil
}

// Deps are the clients capabilities are built from.
type Deps struct {
	Agents       *agentclient.Client
	Chat         llm.Completer
	DefaultModel string
}

// Bind registers a capability per configured domain, in sorted order.
func (r *Roster) Bind(reg *dispatcher.Registry, deps Deps) error {
	domains := make([]string, 0, len(r.Capabilities))
	for d := range r.Capabilities {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	for _, d := range domains {
		b := r.Capabilities[d]
		var c dispatcher.Capability
		switch b.Kind {
		case KindHTTP:
			if deps.Agents == nil {
				return fmt.Errorf("capability %s: no agent client", d)
			}
			c = dispatcher.HTTPAgent(deps.Agents, b.Endpoint)
		case KindLLM:
			if deps.Chat == nil {
				return fmt.Errorf("capability %s: no llm client", d)
			}
			model := b.Model
			if model == "" {
				model = deps.DefaultModel
			}
			c = dispatcher.LLMAgent(deps.Chat, model, b.Persona)
		case KindStatic:
			c = dispatcher.Static(b.Text)
		}
		if err := reg.Register(d, c); err != nil {
			return err
		}
	}
	return nil
}
