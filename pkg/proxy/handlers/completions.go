// Package handlers wires the router pipeline to its HTTP endpoints.
package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/hermes/pkg/proxy"
	"mercator-hq/hermes/pkg/routing"
	"mercator-hq/hermes/pkg/telemetry/metrics"
	"mercator-hq/hermes/pkg/upstream"
)

// ChosenClassifierHeader names the response header carrying the selected
// LLM entry's logical name.
const ChosenClassifierHeader = "X-Chosen-Classifier"

// CompletionsHandler is the chat-completions pipeline: parse, resolve,
// forward, relay. It owns all terminal metric accounting: every request
// ends with exactly one increment of request_success_total or
// request_failure_total. Stream chunks that fail to parse are counted
// separately under request_failure_total{other} by the stream rewriter.
type CompletionsHandler struct {
	resolver  *routing.Resolver
	upstream  *upstream.Client
	collector *metrics.Collector
}

// NewCompletionsHandler creates the pipeline handler.
func NewCompletionsHandler(resolver *routing.Resolver, up *upstream.Client, collector *metrics.Collector) *CompletionsHandler {
	return &CompletionsHandler{resolver: resolver, upstream: up, collector: collector}
}

// ServeHTTP implements http.Handler.
func (h *CompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overallStart := time.Now()
	h.collector.IncRequests()

	var timings pipelineTimings
	status, err := h.handle(w, r, &timings)

	overall := time.Since(overallStart).Seconds()
	h.collector.ObserveRequestLatency(overall)
	h.collector.ObserveProxyOverhead(overall - timings.selection - timings.llmResponse)

	switch {
	case err != nil:
		h.collector.IncFailure(proxy.MetricClass(err))
	case status >= 200 && status < 300:
		h.collector.IncSuccess()
	default:
		h.collector.IncFailure(proxy.MetricClassForStatus(status))
	}
}

// pipelineTimings accumulates the two legs subtracted from the overall
// latency to compute proxy overhead.
type pipelineTimings struct {
	selection   float64
	llmResponse float64
}

// handle runs the pipeline for one request. It returns the terminal HTTP
// status and, for error terminations, the causal error used for failure
// classification. When err is non-nil and no bytes were sent yet, the
// canonical envelope has already been written.
func (h *CompletionsHandler) handle(w http.ResponseWriter, r *http.Request, timings *pipelineTimings) (int, error) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		routerErr := &proxy.RouterError{
			Status:  http.StatusMethodNotAllowed,
			Kind:    proxy.KindInvalidRequest,
			Message: fmt.Sprintf("method %s not allowed; use POST", r.Method),
		}
		proxy.WriteError(w, routerErr)
		return routerErr.Status, routerErr
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, proxy.MaxRequestBodySize))
	if err != nil {
		return h.fail(ctx, w, fmt.Errorf("failed to read request body: %w", err))
	}

	req, err := proxy.ParseChatRequest(body)
	if err != nil {
		return h.fail(ctx, w, err)
	}

	params, err := req.RouterParams()
	if err != nil {
		return h.fail(ctx, w, err)
	}

	strategy, err := routing.ParseStrategy(params.RoutingStrategy)
	if err != nil {
		return h.fail(ctx, w, &proxy.RequestError{Message: err.Error()})
	}

	routeReq := routing.Request{
		Policy:   params.Policy,
		Strategy: strategy,
		Model:    params.Model,
	}
	if strategy == routing.StrategyTriton {
		routeReq.Prompt, routeReq.HasPrompt = req.LastUserMessage()
	}

	selectionStart := time.Now()
	result, err := h.resolver.Resolve(ctx, routeReq)
	timings.selection = time.Since(selectionStart).Seconds()
	if err != nil {
		return h.fail(ctx, w, err)
	}
	h.collector.IncModel(result.LLM.Model)

	outBody, err := req.RewriteForUpstream(result.LLM.Model)
	if err != nil {
		return h.fail(ctx, w, err)
	}

	isStream := req.Stream()
	llmStart := time.Now()
	resp, err := h.upstream.Forward(ctx, result.LLM, outBody, isStream)
	if err != nil {
		return h.fail(ctx, w, err)
	}
	defer resp.Body.Close()

	copyResponseHeaders(w, resp)
	w.Header().Set(ChosenClassifierHeader, result.LLM.Name)
	w.WriteHeader(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// LLM-layer errors pass through verbatim.
		_, copyErr := io.Copy(w, resp.Body)
		timings.llmResponse = time.Since(llmStart).Seconds()
		h.collector.ObserveLLMResponseTime(result.LLM.Name, timings.llmResponse)
		slog.Error("upstream llm returned error status",
			"llm", result.LLM.Name,
			"status", resp.StatusCode,
		)
		if copyErr != nil {
			return resp.StatusCode, relayError(ctx, result.LLM.Name, copyErr)
		}
		return resp.StatusCode, nil
	}

	if isStream {
		rewriter := proxy.NewStreamRewriter(h.collector, result.LLM.Name)
		_, copyErr := rewriter.Copy(w, resp.Body)
		timings.llmResponse = time.Since(llmStart).Seconds()
		h.collector.ObserveLLMResponseTime(result.LLM.Name, timings.llmResponse)
		rewriter.Finish()
		if copyErr != nil {
			return resp.StatusCode, relayError(ctx, result.LLM.Name, copyErr)
		}
		slog.Debug("stream completed",
			"llm", result.LLM.Name,
			"finish_reason", rewriter.FinishReason(),
		)
		return resp.StatusCode, nil
	}

	respBody, readErr := io.ReadAll(resp.Body)
	timings.llmResponse = time.Since(llmStart).Seconds()
	h.collector.ObserveLLMResponseTime(result.LLM.Name, timings.llmResponse)
	if readErr != nil {
		return resp.StatusCode, relayError(ctx, result.LLM.Name, readErr)
	}

	h.collector.TrackTokenUsage(respBody, result.LLM.Name)
	if _, err := w.Write(respBody); err != nil {
		return resp.StatusCode, relayError(ctx, result.LLM.Name, err)
	}
	return resp.StatusCode, nil
}

// fail writes the canonical envelope for a pipeline error and returns
// its terminal status. Cancelled requests skip the write; the client is
// gone.
func (h *CompletionsHandler) fail(ctx context.Context, w http.ResponseWriter, err error) (int, error) {
	if ctx.Err() != nil {
		return 0, context.Canceled
	}
	routerErr := proxy.HandleError(err)
	slog.Error("request failed",
		"kind", routerErr.Kind,
		"status", routerErr.Status,
		"error", err,
	)
	proxy.WriteError(w, routerErr)
	return routerErr.Status, err
}

// relayError classifies an error that occurred while relaying the
// response body. Client disconnects surface as cancellation; upstream
// transport faults keep the LLM attribution.
func relayError(ctx context.Context, llm string, err error) error {
	if ctx.Err() != nil {
		return context.Canceled
	}
	return &upstream.UnavailableError{LLM: llm, Cause: err}
}

// copyResponseHeaders copies upstream headers relevant to body delivery
// onto the client response, dropping hop-by-hop headers.
func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

// isHopByHop reports whether a header is connection-scoped and must not
// be forwarded.
func isHopByHop(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Content-Length":
		return true
	}
	return false
}
