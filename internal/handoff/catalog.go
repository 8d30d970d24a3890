package handoff

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// AgentProfile describes what a specialized agent can do.
type AgentProfile struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// Catalog is a static lookup of agents and the intents they own.
type Catalog struct {
	mu      sync.RWMutex
	agents  map[string]AgentProfile
	intents map[string]string
}

type catalogFile struct {
	Agents  []AgentProfile    `yaml:"agents"`
	Intents map[string]string `yaml:"intents"`
}

// DefaultCatalog returns the built-in agent table.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		agents:  map[string]AgentProfile{},
		intents: map[string]string{},
	}
	c.addAgent(AgentProfile{
		Name:         AgentOrderSupport,
		Description:  "Order status, refunds, cancellations, exchanges and shipping",
		Capabilities: []string{"order_lookup", "refund_processing", "order_cancellation", "exchange_processing", "shipment_tracking"},
	})
	c.addAgent(AgentProfile{
		Name:         AgentProductQA,
		Description:  "Product details, availability and recommendations",
		Capabilities: []string{"product_info", "inventory_check", "recommendations", "sizing_guidance"},
	})
	c.addAgent(AgentProfile{
		Name:         AgentGeneralSupport,
		Description:  "Account help and everything else",
		Capabilities: []string{"faq", "account_help", "general_inquiry"},
	})
	for intent := range orderIntents {
		c.intents[intent] = AgentOrderSupport
	}
	for intent := range productIntents {
		c.intents[intent] = AgentProductQA
	}
	for _, intent := range []string{"general_inquiry", "account_help", "store_policy", "greeting"} {
		c.intents[intent] = AgentGeneralSupport
	}
	return c
}

// LoadCatalog reads a YAML overlay on top of DefaultCatalog. Agents listed in
// the file replace built-in agents of the same name.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("handoff: read catalog: %w", err)
	}
	if err := c.Merge(raw); err != nil {
		return nil, err
	}
	return c, nil
}

// Merge applies a YAML document to the catalog.
func (c *Catalog) Merge(raw []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("handoff: parse catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, agent := range file.Agents {
		if strings.TrimSpace(agent.Name) == "" {
			return errors.New("handoff: catalog agent without a name")
		}
		c.addAgent(agent)
	}
	for intent, agent := range file.Intents {
		if _, ok := c.agents[agent]; !ok {
			return fmt.Errorf("handoff: intent %q maps to unknown agent %q", intent, agent)
		}
		c.intents[normalizeIntent(intent)] = agent
	}
	return nil
}

// RecommendedAgent looks up the owner of an intent.
func (c *Catalog) RecommendedAgent(intent string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agent, ok := c.intents[normalizeIntent(intent)]
	return agent, ok
}

// HasCapability is false for unknown agents.
func (c *Catalog) HasCapability(agent, capability string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	profile, ok := c.agents[agent]
	if !ok {
		return false
	}
	for _, have := range profile.Capabilities {
		if have == capability {
			return true
		}
	}
	return false
}

// Agents lists the known agents sorted by name.
func (c *Catalog) Agents() []AgentProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentProfile, 0, len(c.agents))
	for _, a := range c.agents {
		a.Capabilities = append([]string(nil), a.Capabilities...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) addAgent(a AgentProfile) {
	a.Capabilities = append([]string(nil), a.Capabilities...)
	c.agents[a.Name] = a
}
