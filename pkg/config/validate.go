package config

import "fmt"

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	// Policy is the name of the policy the error occurred in.
	Policy string

	// LLM is the logical name of the LLM entry, empty for policy-level errors.
	LLM string

	// Field is the offending field name.
	Field string

	// Message describes what is wrong.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.LLM != "" {
		return fmt.Sprintf("policy %q, llm %q: field %q %s", e.Policy, e.LLM, e.Field, e.Message)
	}
	if e.Policy != "" {
		return fmt.Sprintf("policy %q: field %q %s", e.Policy, e.Field, e.Message)
	}
	return fmt.Sprintf("field %q %s", e.Field, e.Message)
}

// Validate checks structural invariants of the loaded configuration:
// policy names are unique and non-empty, every policy has at least one
// LLM, and every LLM entry carries a name, api_base, and model. An empty
// api_key is allowed and means no Authorization header is sent.
func Validate(cfg *RouterConfig) error {
	if len(cfg.Policies) == 0 {
		return &ValidationError{Field: "policies", Message: "must contain at least one policy"}
	}

	seen := make(map[string]struct{}, len(cfg.Policies))
	for _, policy := range cfg.Policies {
		if policy.Name == "" {
			return &ValidationError{Policy: policy.Name, Field: "name", Message: "must not be empty"}
		}
		if _, dup := seen[policy.Name]; dup {
			return &ValidationError{Policy: policy.Name, Field: "name", Message: "is not unique"}
		}
		seen[policy.Name] = struct{}{}

		if policy.URL == "" {
			return &ValidationError{Policy: policy.Name, Field: "url", Message: "must not be empty"}
		}
		if len(policy.LLMs) == 0 {
			return &ValidationError{Policy: policy.Name, Field: "llms", Message: "must contain at least one entry"}
		}

		for _, llm := range policy.LLMs {
			if llm.Name == "" {
				return &ValidationError{Policy: policy.Name, LLM: llm.Name, Field: "name", Message: "must not be empty"}
			}
			if llm.APIBase == "" {
				return &ValidationError{Policy: policy.Name, LLM: llm.Name, Field: "api_base", Message: "must not be empty"}
			}
			if llm.Model == "" {
				return &ValidationError{Policy: policy.Name, LLM: llm.Name, Field: "model", Message: "must not be empty"}
			}
		}
	}

	return nil
}
