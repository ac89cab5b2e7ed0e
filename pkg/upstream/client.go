// Package upstream forwards chat-completions requests to the selected
// backend LLM.
//
// The client applies no retries and no overall timeout: completions can
// legitimately run for minutes, and the caller's context (tied to the
// client connection) is the cancellation mechanism. Non-2xx upstream
// statuses are not errors here; the pipeline passes them through to the
// client verbatim.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mercator-hq/hermes/pkg/config"
)

// completionsPath is appended to every LLM's api_base. Both inbound
// completion endpoints forward here.
const completionsPath = "/v1/chat/completions"

// Client issues outbound chat-completions requests. Connections are
// pooled per upstream host and shared across requests.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an upstream client with a pooled transport.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        128,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
			// No Timeout: streamed completions are long-lived and the
			// request context carries cancellation.
		},
	}
}

// Forward sends the rewritten request body to the LLM and returns the
// raw response. The response body is not read here; the caller owns it
// (and its Close) so streaming starts without buffering.
func (c *Client) Forward(ctx context.Context, llm config.LLM, body []byte, stream bool) (*http.Response, error) {
	url := strings.TrimRight(llm.APIBase, "/") + completionsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if llm.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+llm.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	slog.Debug("forwarding request to llm",
		"llm", llm.Name,
		"url", url,
		"model", llm.Model,
		"stream", stream,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Client went away; surface the cancellation rather than a
			// synthetic availability error.
			return nil, ctx.Err()
		}
		slog.Error("failed to reach llm", "llm", llm.Name, "url", url, "error", err)
		return nil, &UnavailableError{LLM: llm.Name, Cause: err}
	}

	return resp, nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
