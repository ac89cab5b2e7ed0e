package routing

import "fmt"

// PolicyNotFoundError means the request named a policy that does not
// exist in the loaded configuration.
type PolicyNotFoundError struct {
	// Policy is the requested policy name.
	Policy string
}

// Error implements the error interface.
func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("policy %q not found", e.Policy)
}

// MissingPromptError means the triton strategy was requested but the
// message list contains no user message to classify.
type MissingPromptError struct{}

// Error implements the error interface.
func (e *MissingPromptError) Error() string {
	return "no user message found to classify"
}

// MissingModelError means the manual strategy was requested without a
// model name.
type MissingModelError struct {
	// Policy is the policy the request resolved to.
	Policy string
}

// Error implements the error interface.
func (e *MissingModelError) Error() string {
	return fmt.Sprintf("no model specified for manual routing under policy %q", e.Policy)
}

// ModelNotFoundError means the manual strategy named an LLM entry the
// policy does not contain.
type ModelNotFoundError struct {
	// Policy is the policy the request resolved to.
	Policy string

	// Model is the requested LLM entry name.
	Model string
}

// Error implements the error interface.
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found in policy %q", e.Model, e.Policy)
}

// ShapeMismatchError means the classifier vector length disagrees with
// the policy's LLM list. This is a configuration error, never silently
// truncated.
type ShapeMismatchError struct {
	// Policy is the policy whose LLM list was indexed.
	Policy string

	// VectorLen is the classifier vector length.
	VectorLen int

	// LLMCount is the number of LLM entries the policy holds.
	LLMCount int
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("classifier returned %d scores but policy %q has %d llms",
		e.VectorLen, e.Policy, e.LLMCount)
}
