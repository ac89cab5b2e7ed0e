// Package proxy implements the request-processing core of the router.
//
// A completions request flows through four steps: parse the payload and
// its routing metadata, resolve a policy and LLM entry (possibly via the
// remote classifier), forward the rewritten request upstream, and relay
// the response back to the client. Streaming responses are relayed
// byte-identically; the stream is observed, never rewritten.
//
// Errors terminate in a canonical JSON envelope
//
//	{"error": {"message": "...", "type": "...", "status": 503}}
//
// with one exception: a non-2xx response from the upstream LLM is passed
// through to the client verbatim (status and body), because LLM-layer
// errors such as 429 or 402 belong to the caller's contract with the
// backend, not to the router.
package proxy
