package nodes

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind selects a node execution variant. The variant set is closed: every
// specialist is one of these, configured rather than subclassed.
type Kind string

const (
	// KindToolLoop runs the iterative think/act/observe loop against the
	// node's permitted remote tools.
	KindToolLoop Kind = "tool_loop"
	// KindPlanner emits an ordered assistant-call plan via structured output
	// without touching any tool.
	KindPlanner Kind = "planner"
	// KindPreheat is the entry step: a tool loop whose final answer is
	// decoded into question metadata for downstream specialists.
	KindPreheat Kind = "preheat"
)

// Spec declares one specialist node. The YAML file holding these is the
// single auditable home of the routing table and the variant set.
type Spec struct {
	Name        string   `yaml:"name"`
	Kind        Kind     `yaml:"kind"`
	Description string   `yaml:"description"`
	Model       string   `yaml:"model"`
	Prompt      string   `yaml:"prompt"`
	Tools       []string `yaml:"tools"`

	// LanguageDetect enables the classification pre-step: a structured call
	// resolves the target programming language, which keys the prompt
	// variant "<Prompt>.<language>". An unresolved language short-circuits
	// the node with a fixed diagnostic.
	LanguageDetect bool     `yaml:"language_detect"`
	DetectPrompt   string   `yaml:"detect_prompt"`
	Languages      []string `yaml:"languages"`
}

// DispatcherSpec configures the routing hub.
type DispatcherSpec struct {
	Model  string `yaml:"model"`
	Prompt string `yaml:"prompt"`
}

// Config is the declarative graph layout: the entry node, the dispatcher,
// and every specialist.
type Config struct {
	Entry             string         `yaml:"entry"`
	Dispatcher        DispatcherSpec `yaml:"dispatcher"`
	Nodes             []Spec         `yaml:"nodes"`
	MaxToolRounds     int            `yaml:"max_tool_rounds"`
	MaxDispatchRounds int            `yaml:"max_dispatch_rounds"`
}

// LoadConfig reads and validates the node configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nodes config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse nodes config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants of the layout.
func (c *Config) Validate() error {
	if c.Entry == "" {
		return fmt.Errorf("nodes config: entry node is required")
	}
	if c.Dispatcher.Model == "" || c.Dispatcher.Prompt == "" {
		return fmt.Errorf("nodes config: dispatcher model and prompt are required")
	}
	seen := make(map[string]bool, len(c.Nodes))
	var entry *Spec
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.Name == "" {
			return fmt.Errorf("nodes config: node %d has no name", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("nodes config: duplicate node %q", n.Name)
		}
		seen[n.Name] = true
		if n.Name == NodeDispatcher {
			return fmt.Errorf("nodes config: %q is reserved", NodeDispatcher)
		}
		switch n.Kind {
		case KindToolLoop, KindPlanner, KindPreheat:
		default:
			return fmt.Errorf("nodes config: node %q has unknown kind %q", n.Name, n.Kind)
		}
		if n.Model == "" || n.Prompt == "" {
			return fmt.Errorf("nodes config: node %q needs model and prompt", n.Name)
		}
		if n.LanguageDetect && (n.DetectPrompt == "" || len(n.Languages) == 0) {
			return fmt.Errorf("nodes config: node %q enables language detection without detect_prompt/languages", n.Name)
		}
		if n.Name == c.Entry {
			entry = n
		}
	}
	if entry == nil {
		return fmt.Errorf("nodes config: entry node %q not declared", c.Entry)
	}
	if entry.Kind != KindPreheat {
		return fmt.Errorf("nodes config: entry node %q must have kind %q", c.Entry, KindPreheat)
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.MaxDispatchRounds <= 0 {
		c.MaxDispatchRounds = DefaultMaxDispatchRounds
	}
	return nil
}

// RoutingTable returns the set of node names the dispatcher may target. The
// entry node runs exactly once before the dispatcher and is not routable.
func (c *Config) RoutingTable() map[string]bool {
	table := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == c.Entry {
			continue
		}
		table[n.Name] = true
	}
	return table
}

// Specialists returns the non-entry node specs.
func (c *Config) Specialists() []Spec {
	out := make([]Spec, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == c.Entry {
			continue
		}
		out = append(out, n)
	}
	return out
}

// EntrySpec returns the entry node spec.
func (c *Config) EntrySpec() Spec {
	for _, n := range c.Nodes {
		if n.Name == c.Entry {
			return n
		}
	}
	return Spec{}
}

// ModelNames lists every distinct model the layout references.
func (c *Config) ModelNames() []string {
	seen := map[string]bool{c.Dispatcher.Model: true}
	names := []string{c.Dispatcher.Model}
	for _, n := range c.Nodes {
		if !seen[n.Model] {
			seen[n.Model] = true
			names = append(names, n.Model)
		}
	}
	return names
}

// EffectiveTools returns the spec's permitted tool names as a set.
func (s *Spec) EffectiveTools() map[string]bool {
	set := make(map[string]bool, len(s.Tools))
	for _, t := range s.Tools {
		set[t] = true
	}
	return set
}
