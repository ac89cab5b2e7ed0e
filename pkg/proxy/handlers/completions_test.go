package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/hermes/pkg/classifier"
	"mercator-hq/hermes/pkg/config"
	"mercator-hq/hermes/pkg/routing"
	"mercator-hq/hermes/pkg/telemetry/metrics"
	"mercator-hq/hermes/pkg/upstream"
)

// taskRouterLLMs mirrors the documented task_router policy layout: the
// classifier vector indexes this order.
var taskRouterLLMs = []string{
	"Brainstorming",
	"Chatbot",
	"Classification",
	"Closed QA",
	"Code Generation",
	"Extraction",
	"Open QA",
	"Other",
	"Rewrite",
	"Summarization",
	"Text Generation",
	"Unknown",
}

type testEnv struct {
	handler    *CompletionsHandler
	registry   *prometheus.Registry
	collector  *metrics.Collector
	cfg        *config.RouterConfig
	llmCalls   *int
	gotBody    *[]byte
	gotHeaders *http.Header
}

// newTestEnv builds a pipeline whose policy points at the given
// classifier and LLM handlers.
func newTestEnv(t *testing.T, classifierHandler, llmHandler http.HandlerFunc) *testEnv {
	t.Helper()

	llmCalls := 0
	var gotBody []byte
	var gotHeaders http.Header
	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llmCalls++
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		llmHandler(w, r)
	}))
	t.Cleanup(llmServer.Close)

	classifierURL := "http://127.0.0.1:1" // unreachable unless a handler is given
	if classifierHandler != nil {
		classifierServer := httptest.NewServer(classifierHandler)
		t.Cleanup(classifierServer.Close)
		classifierURL = classifierServer.URL
	}

	llms := make([]config.LLM, len(taskRouterLLMs))
	for i, name := range taskRouterLLMs {
		model := fmt.Sprintf("model-%d", i)
		if name == "Text Generation" {
			model = "mistralai/mixtral-8x22b-instruct-v0.1"
		}
		llms[i] = config.LLM{Name: name, APIBase: llmServer.URL, APIKey: "nvapi-test", Model: model}
	}

	cfg := &config.RouterConfig{
		Policies: []config.Policy{
			{Name: "task_router", URL: classifierURL, LLMs: llms},
		},
	}
	config.ApplyDefaults(cfg)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	resolver := routing.NewResolver(cfg, classifier.NewClient(2*time.Second), collector)
	up := upstream.NewClient()
	t.Cleanup(up.Close)

	return &testEnv{
		handler:    NewCompletionsHandler(resolver, up, collector),
		registry:   registry,
		collector:  collector,
		cfg:        cfg,
		llmCalls:   &llmCalls,
		gotBody:    &gotBody,
		gotHeaders: &gotHeaders,
	}
}

// oneHotClassifier answers every inference call with a one-hot vector.
func oneHotClassifier(t *testing.T, hot, size int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		data := make([]float64, size)
		data[hot] = 1.0
		json.NewEncoder(w).Encode(map[string]any{
			"outputs": []map[string]any{
				{"name": "OUTPUT", "datatype": "FP32", "shape": []int{size}, "data": data},
			},
		})
	}
}

func postCompletions(env *testEnv, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.handler.ServeHTTP(rec, req)
	return rec
}

// counterValue reads a counter with optional labels from the registry.
func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for wantKey, wantVal := range labels {
				found := false
				for _, label := range m.GetLabel() {
					if label.GetName() == wantKey && label.GetValue() == wantVal {
						found = true
					}
				}
				if !found {
					match = false
				}
			}
			if match {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPipeline_TritonRoutesToTextGeneration(t *testing.T) {
	env := newTestEnv(t,
		oneHotClassifier(t, 10, 12),
		func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"la la la"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":9,"total_tokens":14}}`)
		},
	)

	rec := postCompletions(env, `{
		"model": "ignored",
		"messages": [{"role": "user", "content": "Write me a song about the sea"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "triton"}
	}`)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(ChosenClassifierHeader); got != "Text Generation" {
		t.Errorf("%s = %q, want %q", ChosenClassifierHeader, got, "Text Generation")
	}

	var forwarded map[string]json.RawMessage
	if err := json.Unmarshal(*env.gotBody, &forwarded); err != nil {
		t.Fatalf("forwarded body not JSON: %v", err)
	}
	if string(forwarded["model"]) != `"mistralai/mixtral-8x22b-instruct-v0.1"` {
		t.Errorf("model not rewritten: %s", forwarded["model"])
	}
	if _, present := forwarded["nim-llm-router"]; present {
		t.Error("nim-llm-router leaked to upstream")
	}
	if auth := env.gotHeaders.Get("Authorization"); auth != "Bearer nvapi-test" {
		t.Errorf("Authorization = %q", auth)
	}

	if got := counterValue(t, env.registry, "request_success_total", nil); got != 1 {
		t.Errorf("request_success_total = %v, want 1", got)
	}
	if got := counterValue(t, env.registry, "requests_per_policy", map[string]string{"policy": "task_router"}); got != 1 {
		t.Errorf("requests_per_policy = %v, want 1", got)
	}
	if got := counterValue(t, env.registry, "requests_per_model", map[string]string{"model": "mistralai/mixtral-8x22b-instruct-v0.1"}); got != 1 {
		t.Errorf("requests_per_model = %v, want 1", got)
	}
	if got := counterValue(t, env.registry, "routing_policy_usage", map[string]string{"routing_policy": "triton"}); got != 1 {
		t.Errorf("routing_policy_usage{triton} = %v, want 1", got)
	}
	if got := counterValue(t, env.registry, "llm_token_usage", map[string]string{"llm": "Text Generation", "category": "total"}); got != 14 {
		t.Errorf("llm_token_usage{total} = %v, want 14", got)
	}
}

func TestPipeline_ManualOverride(t *testing.T) {
	classifierCalled := false
	env := newTestEnv(t,
		func(w http.ResponseWriter, r *http.Request) { classifierCalled = true },
		func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"id":"chatcmpl-2","choices":[]}`)
		},
	)

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "manual", "model": "Chatbot"}
	}`)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if classifierCalled {
		t.Error("manual routing must not call the classifier")
	}
	if got := rec.Header().Get(ChosenClassifierHeader); got != "Chatbot" {
		t.Errorf("%s = %q, want Chatbot", ChosenClassifierHeader, got)
	}
	if got := counterValue(t, env.registry, "routing_policy_usage", map[string]string{"routing_policy": "manual"}); got != 1 {
		t.Errorf("routing_policy_usage{manual} = %v, want 1", got)
	}
}

func TestPipeline_UnknownManualModel(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {})

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "manual", "model": "Nope"}
	}`)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var envlp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Status  int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envlp); err != nil {
		t.Fatalf("error envelope not JSON: %v", err)
	}
	if envlp.Error.Type != "ModelNotFound" || envlp.Error.Status != 404 {
		t.Errorf("unexpected envelope: %+v", envlp)
	}
	if *env.llmCalls != 0 {
		t.Error("no upstream call expected for unknown model")
	}
	if got := counterValue(t, env.registry, "request_failure_total", map[string]string{"error_type": "4xx"}); got != 1 {
		t.Errorf("request_failure_total{4xx} = %v, want 1", got)
	}
}

func TestPipeline_ClassifierUnavailable(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {}) // classifier URL unreachable

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "triton"}
	}`)

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}
	var envlp struct {
		Error struct {
			Type   string `json:"type"`
			Status int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envlp); err != nil {
		t.Fatalf("error envelope not JSON: %v", err)
	}
	if envlp.Error.Type != "ClassifierUnavailable" {
		t.Errorf("type = %q, want ClassifierUnavailable", envlp.Error.Type)
	}
	if *env.llmCalls != 0 {
		t.Error("no upstream LLM call may happen when classification fails")
	}
	if got := counterValue(t, env.registry, "request_failure_total", map[string]string{"error_type": "5xx"}); got != 1 {
		t.Errorf("request_failure_total{5xx} = %v, want 1", got)
	}
}

func TestPipeline_ShapeMismatch(t *testing.T) {
	env := newTestEnv(t,
		oneHotClassifier(t, 0, 3), // policy has 12 llms
		func(w http.ResponseWriter, r *http.Request) {},
	)

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "triton"}
	}`)

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ClassifierShapeMismatch") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if *env.llmCalls != 0 {
		t.Error("no upstream call on shape mismatch")
	}
}

func TestPipeline_StreamingPassThroughWithUsage(t *testing.T) {
	sse := "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":4,\"total_tokens\":7}}\n\n" +
		"data: [DONE]\n\n"

	env := newTestEnv(t,
		oneHotClassifier(t, 1, 12),
		func(w http.ResponseWriter, r *http.Request) {
			if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
				t.Errorf("Accept = %q, want text/event-stream", accept)
			}
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, sse)
		},
	)

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"stream": true,
		"stream_options": {"include_usage": true},
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "triton"}
	}`)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != sse {
		t.Errorf("stream not byte-identical\ngot:  %q\nwant: %q", rec.Body.String(), sse)
	}
	if got := rec.Header().Get(ChosenClassifierHeader); got != "Chatbot" {
		t.Errorf("%s = %q, want Chatbot", ChosenClassifierHeader, got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}

	for category, want := range map[string]float64{"prompt": 3, "completion": 4, "total": 7} {
		got := counterValue(t, env.registry, "llm_token_usage", map[string]string{"llm": "Chatbot", "category": category})
		if got != want {
			t.Errorf("llm_token_usage{%s} = %v, want %v", category, got, want)
		}
	}
	if got := counterValue(t, env.registry, "request_success_total", nil); got != 1 {
		t.Errorf("request_success_total = %v, want 1", got)
	}
}

func TestPipeline_LLM429PassThrough(t *testing.T) {
	errorBody := `{"error":{"message":"Too many requests","type":"rate_limit_exceeded"}}`
	env := newTestEnv(t,
		oneHotClassifier(t, 0, 12),
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, errorBody)
		},
	)

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "triton"}
	}`)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Body.String() != errorBody {
		t.Errorf("upstream error body altered:\ngot:  %s\nwant: %s", rec.Body.String(), errorBody)
	}
	if got := rec.Header().Get(ChosenClassifierHeader); got != "Brainstorming" {
		t.Errorf("%s = %q", ChosenClassifierHeader, got)
	}
	if got := counterValue(t, env.registry, "request_failure_total", map[string]string{"error_type": "4xx"}); got != 1 {
		t.Errorf("request_failure_total{4xx} = %v, want 1", got)
	}
	if got := counterValue(t, env.registry, "request_success_total", nil); got != 0 {
		t.Errorf("request_success_total = %v, want 0", got)
	}
}

func TestPipeline_MissingRouterParams(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {})

	rec := postCompletions(env, `{"messages": [{"role": "user", "content": "hi"}]}`)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nim-llm-router") {
		t.Errorf("error should name the missing field, body = %s", rec.Body.String())
	}
}

func TestPipeline_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {})

	rec := postCompletions(env, `{"messages": [`)
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPipeline_MissingPrompt(t *testing.T) {
	env := newTestEnv(t, oneHotClassifier(t, 0, 12), func(w http.ResponseWriter, r *http.Request) {})

	rec := postCompletions(env, `{
		"messages": [{"role": "system", "content": "be nice"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "triton"}
	}`)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "MissingPrompt") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPipeline_UnknownPolicy(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {})

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"nim-llm-router": {"policy": "nope", "routing_strategy": "triton"}
	}`)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "PolicyNotFound") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPipeline_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestPipeline_UpstreamUnavailable(t *testing.T) {
	env := newTestEnv(t, oneHotClassifier(t, 0, 12), func(w http.ResponseWriter, r *http.Request) {})
	// Point every LLM at a closed port.
	for i := range env.cfg.Policies[0].LLMs {
		env.cfg.Policies[0].LLMs[i].APIBase = "http://127.0.0.1:1"
	}

	rec := postCompletions(env, `{
		"messages": [{"role": "user", "content": "hi"}],
		"nim-llm-router": {"policy": "task_router", "routing_strategy": "triton"}
	}`)

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "UpstreamUnavailable") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if got := counterValue(t, env.registry, "request_failure_total", map[string]string{"error_type": "system"}); got != 1 {
		t.Errorf("request_failure_total{system} = %v, want 1", got)
	}
}
