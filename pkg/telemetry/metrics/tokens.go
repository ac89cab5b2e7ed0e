package metrics

import "encoding/json"

// usageEnvelope matches the usage object of an OpenAI chat-completions
// response or final stream chunk.
type usageEnvelope struct {
	Usage *Usage `json:"usage"`
}

// Usage is the OpenAI token accounting object.
type Usage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
	TotalTokens      uint64 `json:"total_tokens"`
}

// TrackTokenUsage parses an upstream response body (or stream chunk) and,
// if it carries a usage object, adds the counts to the token usage series
// for the named LLM. Bodies without a usage object are ignored; malformed
// JSON is ignored here because callers forward bodies verbatim regardless.
func (c *Collector) TrackTokenUsage(body []byte, llm string) {
	var envelope usageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Usage == nil {
		return
	}
	c.RecordUsage(llm, envelope.Usage)
}

// RecordUsage adds an already-parsed usage object to the token counters.
func (c *Collector) RecordUsage(llm string, usage *Usage) {
	if usage == nil {
		return
	}
	c.AddTokens(llm, TokenCategoryPrompt, usage.PromptTokens)
	c.AddTokens(llm, TokenCategoryCompletion, usage.CompletionTokens)
	c.AddTokens(llm, TokenCategoryTotal, usage.TotalTokens)
}
