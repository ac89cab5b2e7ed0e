// Package config loads and validates the router configuration.
//
// The configuration is a YAML document with a top-level list of routing
// policies. Each policy pairs a classifier inference endpoint with an
// ordered list of candidate LLMs; the order is load-bearing because the
// classifier output vector indexes into it. Configuration is loaded once
// at startup and never mutated afterwards; a restart is the supported
// update path.
package config

import "strings"

// RouterConfig is the root configuration structure. It is immutable after
// Load returns; handlers share it by reference.
type RouterConfig struct {
	// Policies is the ordered list of named routing policies.
	Policies []Policy `yaml:"policies" json:"policies"`

	// Server holds optional service-level settings. Absent fields fall
	// back to defaults (see ApplyDefaults).
	Server ServerConfig `yaml:"server" json:"-"`
}

// Policy pairs a classifier endpoint with an ordered list of candidate LLMs.
type Policy struct {
	// Name uniquely identifies the policy within the configuration.
	Name string `yaml:"name" json:"name"`

	// URL is the classifier inference endpoint, taken verbatim.
	URL string `yaml:"url" json:"url"`

	// LLMs is the ordered candidate list. Index i corresponds to the i-th
	// element of the classifier output vector.
	LLMs []LLM `yaml:"llms" json:"llms"`
}

// LLM describes one upstream chat-completions backend.
type LLM struct {
	// Name is the logical label, e.g. "Code Generation".
	Name string `yaml:"name" json:"name"`

	// APIBase is the upstream base URL; requests go to
	// APIBase + "/v1/chat/completions".
	APIBase string `yaml:"api_base" json:"api_base"`

	// APIKey is the bearer credential. Empty means no Authorization header.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Model is the upstream model identifier written into the forwarded
	// request body.
	Model string `yaml:"model" json:"model"`
}

// ServerConfig holds service-level settings outside the policy list.
type ServerConfig struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string `yaml:"listen_address"`

	// ClassifierTimeout bounds a single classifier call, e.g. "5s".
	ClassifierTimeout Duration `yaml:"classifier_timeout"`

	// ShutdownTimeout bounds graceful shutdown, e.g. "10s".
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// ProbeSchedule is the cron schedule for the classifier reachability
	// probe. Empty falls back to DefaultProbeSchedule; "off" disables
	// probing.
	ProbeSchedule string `yaml:"probe_schedule"`
}

// PolicyByName returns the policy with the given name. Surrounding
// whitespace is ignored on both sides of the comparison.
func (c *RouterConfig) PolicyByName(name string) (Policy, bool) {
	name = strings.TrimSpace(name)
	for _, p := range c.Policies {
		if strings.TrimSpace(p.Name) == name {
			return p, true
		}
	}
	return Policy{}, false
}

// LLMByName returns the LLM entry with the given logical name.
func (p *Policy) LLMByName(name string) (LLM, bool) {
	name = strings.TrimSpace(name)
	for _, llm := range p.LLMs {
		if strings.TrimSpace(llm.Name) == name {
			return llm, true
		}
	}
	return LLM{}, false
}

// LLMIndexByName returns the position of the named LLM entry, or -1.
func (p *Policy) LLMIndexByName(name string) int {
	name = strings.TrimSpace(name)
	for i, llm := range p.LLMs {
		if strings.TrimSpace(llm.Name) == name {
			return i
		}
	}
	return -1
}

// Sanitized returns a deep copy with every api_key blanked. The /config
// endpoint serves this copy; the live configuration is never aliased.
func (c *RouterConfig) Sanitized() *RouterConfig {
	out := &RouterConfig{
		Policies: make([]Policy, len(c.Policies)),
		Server:   c.Server,
	}
	for i, p := range c.Policies {
		llms := make([]LLM, len(p.LLMs))
		for j, llm := range p.LLMs {
			llm.APIKey = ""
			llms[j] = llm
		}
		out.Policies[i] = Policy{Name: p.Name, URL: p.URL, LLMs: llms}
	}
	return out
}
