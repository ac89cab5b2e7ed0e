package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// RouterParamsField is the request-body field carrying routing
	// metadata. It is consumed by the router and stripped before the
	// request is forwarded upstream.
	RouterParamsField = "nim-llm-router"

	// MaxRequestBodySize is the maximum allowed request body size (10MB).
	MaxRequestBodySize = 10 * 1024 * 1024
)

// RouterParams is the routing metadata object clients attach to a
// completions request.
type RouterParams struct {
	// Policy names the routing policy (required).
	Policy string `json:"policy"`

	// RoutingStrategy is "triton" or "manual".
	RoutingStrategy string `json:"routing_strategy"`

	// Model names an LLM entry; required under manual routing, ignored
	// otherwise.
	Model string `json:"model"`

	// Threshold is accepted for wire compatibility and unused: selection
	// is argmax over the full score vector.
	Threshold *float64 `json:"threshold,omitempty"`
}

// message is the slice of a chat message the router inspects.
type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ChatRequest is a parsed chat-completions payload. The raw body is kept
// as a field map so every field the router does not touch is forwarded
// to the upstream byte-for-byte.
type ChatRequest struct {
	fields map[string]json.RawMessage
	params *RouterParams
}

// ParseChatRequest parses a request body. It fails on anything that is
// not a JSON object; the routing metadata is validated separately via
// RouterParams.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if fields == nil {
		return nil, &RequestError{Message: "request body must be a JSON object"}
	}

	req := &ChatRequest{fields: fields}

	if raw, ok := fields[RouterParamsField]; ok {
		var params RouterParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &RequestError{Message: fmt.Sprintf("invalid %q object: %v", RouterParamsField, err)}
		}
		req.params = &params
	}

	return req, nil
}

// RouterParams returns the routing metadata, or an error if the request
// did not carry any or it is incomplete.
func (r *ChatRequest) RouterParams() (*RouterParams, error) {
	if r.params == nil {
		return nil, &RequestError{Message: fmt.Sprintf(
			"missing required %q parameters in request body; expected { %q: { \"policy\": \"<name>\", \"routing_strategy\": \"manual|triton\", \"model\": \"<name>\" (manual only) } }",
			RouterParamsField, RouterParamsField,
		)}
	}
	if r.params.Policy == "" {
		return nil, &RequestError{Message: fmt.Sprintf("no policy specified in %q parameters", RouterParamsField)}
	}
	return r.params, nil
}

// Stream reports whether the client requested a streamed response.
func (r *ChatRequest) Stream() bool {
	raw, ok := r.fields["stream"]
	if !ok {
		return false
	}
	var stream bool
	if err := json.Unmarshal(raw, &stream); err != nil {
		return false
	}
	return stream
}

// IncludeUsage reports whether stream_options.include_usage is set, i.e.
// whether the upstream will emit a usage chunk before [DONE].
func (r *ChatRequest) IncludeUsage() bool {
	raw, ok := r.fields["stream_options"]
	if !ok {
		return false
	}
	var opts struct {
		IncludeUsage bool `json:"include_usage"`
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return false
	}
	return opts.IncludeUsage
}

// LastUserMessage returns the content of the last message whose role is
// "user". String content is returned as-is; multimodal content arrays
// contribute their text parts joined by spaces. The second return is
// false when no user message exists.
func (r *ChatRequest) LastUserMessage() (string, bool) {
	raw, ok := r.fields["messages"]
	if !ok {
		return "", false
	}
	var messages []message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return "", false
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		return contentText(messages[i].Content), true
	}
	return "", false
}

// contentText extracts the text of a message content value.
func contentText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	// Multimodal content: an array of typed parts.
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	out := ""
	for _, part := range parts {
		if part.Type != "text" || part.Text == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += part.Text
	}
	return out
}

// RewriteForUpstream produces the outbound body: the model field is set
// to the selected LLM's model, the routing metadata is stripped, and
// every other field is carried over unchanged.
func (r *ChatRequest) RewriteForUpstream(model string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.fields))
	for k, v := range r.fields {
		if k == RouterParamsField {
			continue
		}
		out[k] = v
	}

	modelValue, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	out["model"] = modelValue

	// json.Marshal would compact the raw values; write the object by hand
	// so untouched fields keep their original bytes.
	var buf bytes.Buffer
	buf.WriteByte('{')
	for k, v := range out {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
