// Package metrics owns the process-wide Prometheus registry for the
// router. Series names and label sets are part of the external contract
// (dashboards and alerting are built against them) and carry no
// namespace prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Error type label values for the request_failure_total counter.
const (
	ErrorType4xx    = "4xx"
	ErrorType5xx    = "5xx"
	ErrorTypeSystem = "system"
	ErrorTypeOther  = "other"
)

// Token usage category label values for the llm_token_usage counter.
const (
	TokenCategoryPrompt     = "prompt"
	TokenCategoryCompletion = "completion"
	TokenCategoryTotal      = "total"
)

// Collector owns every metric series the router exposes. All updates are
// atomic per series; there are no locks on the request path.
type Collector struct {
	registry *prometheus.Registry

	numRequests       prometheus.Counter
	requestsPerPolicy *prometheus.CounterVec
	requestsPerModel  *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	requestSuccess    prometheus.Counter
	requestFailure    *prometheus.CounterVec
	routingUsage      *prometheus.CounterVec
	selectionTime     prometheus.Histogram
	llmResponseTime   *prometheus.HistogramVec
	tokenUsage        *prometheus.CounterVec
	proxyOverhead     prometheus.Histogram
	classifierUp      *prometheus.GaugeVec
}

// NewCollector creates the collector and registers every series with the
// given registry. If registry is nil a fresh one is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		numRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "num_requests",
			Help: "Total number of requests",
		}),

		requestsPerPolicy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_per_policy",
			Help: "Total number of requests per policy",
		}, []string{"policy"}),

		requestsPerModel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_per_model",
			Help: "Total number of requests per model",
		}, []string{"model"}),

		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "request_latency_seconds",
			Help: "Latency of processing requests in seconds",
		}),

		requestSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_success_total",
			Help: "Total successful requests",
		}),

		requestFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "request_failure_total",
			Help: "Total failed requests, broken down by error type (4xx, 5xx, system, other)",
		}, []string{"error_type"}),

		routingUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_policy_usage",
			Help: "Number of times each routing strategy was used",
		}, []string{"routing_policy"}),

		selectionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "model_selection_time_seconds",
			Help: "Time (in seconds) taken for model selection (e.g., by the classifier)",
		}),

		llmResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "llm_response_time_seconds",
			Help: "Response time (in seconds) for each LLM",
		}, []string{"llm"}),

		tokenUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_token_usage",
			Help: "Token usage per LLM and category",
		}, []string{"llm", "category"}),

		proxyOverhead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "proxy_overhead_latency_seconds",
			Help: "Overhead latency of the proxy: overall latency minus model selection and LLM response time",
		}),

		classifierUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classifier_up",
			Help: "Whether the classifier endpoint for a policy is reachable (1) or not (0)",
		}, []string{"policy"}),
	}

	registry.MustRegister(
		c.numRequests,
		c.requestsPerPolicy,
		c.requestsPerModel,
		c.requestLatency,
		c.requestSuccess,
		c.requestFailure,
		c.routingUsage,
		c.selectionTime,
		c.llmResponseTime,
		c.tokenUsage,
		c.proxyOverhead,
		c.classifierUp,
	)

	return c
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncRequests counts an incoming completions request.
func (c *Collector) IncRequests() {
	c.numRequests.Inc()
}

// IncPolicy counts a request resolved against the named policy.
func (c *Collector) IncPolicy(policy string) {
	c.requestsPerPolicy.WithLabelValues(policy).Inc()
}

// IncModel counts a request forwarded to the named model.
func (c *Collector) IncModel(model string) {
	c.requestsPerModel.WithLabelValues(model).Inc()
}

// IncRoutingStrategy counts one use of a routing strategy (triton or manual).
func (c *Collector) IncRoutingStrategy(strategy string) {
	c.routingUsage.WithLabelValues(strategy).Inc()
}

// ObserveRequestLatency records end-to-end request latency in seconds.
func (c *Collector) ObserveRequestLatency(seconds float64) {
	c.requestLatency.Observe(seconds)
}

// ObserveSelectionTime records the time spent selecting an LLM entry.
func (c *Collector) ObserveSelectionTime(seconds float64) {
	c.selectionTime.Observe(seconds)
}

// ObserveLLMResponseTime records the upstream response time for one LLM.
func (c *Collector) ObserveLLMResponseTime(llm string, seconds float64) {
	c.llmResponseTime.WithLabelValues(llm).Observe(seconds)
}

// ObserveProxyOverhead records latency attributable to the proxy itself.
func (c *Collector) ObserveProxyOverhead(seconds float64) {
	// Clock skew between the three timers can push the difference
	// slightly negative; clamp so the histogram stays well-formed.
	if seconds < 0 {
		seconds = 0
	}
	c.proxyOverhead.Observe(seconds)
}

// IncSuccess counts a request that terminated with a 2xx response.
func (c *Collector) IncSuccess() {
	c.requestSuccess.Inc()
}

// IncFailure counts a failed request under one of the error type labels.
func (c *Collector) IncFailure(errorType string) {
	c.requestFailure.WithLabelValues(errorType).Inc()
}

// AddTokens adds to the token usage counter for one LLM and category.
func (c *Collector) AddTokens(llm, category string, n uint64) {
	if n == 0 {
		return
	}
	c.tokenUsage.WithLabelValues(llm, category).Add(float64(n))
}

// SetClassifierUp records classifier endpoint reachability for a policy.
func (c *Collector) SetClassifierUp(policy string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	c.classifierUp.WithLabelValues(policy).Set(v)
}
