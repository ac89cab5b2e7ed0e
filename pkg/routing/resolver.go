package routing

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/hermes/pkg/config"
	"mercator-hq/hermes/pkg/telemetry/metrics"
)

// Classifier is the remote scoring dependency. Satisfied by
// *classifier.Client.
type Classifier interface {
	Classify(ctx context.Context, url, prompt string) ([]float64, error)
}

// Request carries the routing-relevant slice of a parsed completions
// request.
type Request struct {
	// Policy is the requested policy name (required).
	Policy string

	// Strategy is the parsed routing strategy.
	Strategy Strategy

	// Model is the LLM entry name for manual routing.
	Model string

	// Prompt is the text to classify under the triton strategy.
	Prompt string

	// HasPrompt reports whether a user message was present at all.
	HasPrompt bool
}

// Result is a completed routing decision.
type Result struct {
	// Policy is the resolved policy.
	Policy config.Policy

	// LLM is the selected entry of Policy.LLMs.
	LLM config.LLM

	// Index is the position of LLM within Policy.LLMs.
	Index int

	// Vector is the classifier score vector, nil under manual routing.
	Vector []float64
}

// Resolver maps parsed requests onto LLM entries.
type Resolver struct {
	cfg        *config.RouterConfig
	classifier Classifier
	collector  *metrics.Collector
}

// NewResolver creates a resolver over the loaded configuration.
func NewResolver(cfg *config.RouterConfig, cls Classifier, collector *metrics.Collector) *Resolver {
	return &Resolver{cfg: cfg, classifier: cls, collector: collector}
}

// Resolve runs the selection algorithm: policy lookup, strategy branch,
// LLM selection. It records requests_per_policy, routing_policy_usage,
// and model_selection_time_seconds as side effects.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	policy, ok := r.cfg.PolicyByName(req.Policy)
	if !ok {
		return nil, &PolicyNotFoundError{Policy: req.Policy}
	}
	r.collector.IncPolicy(policy.Name)
	r.collector.IncRoutingStrategy(string(req.Strategy))

	var (
		idx    int
		vector []float64
	)

	switch req.Strategy {
	case StrategyManual:
		if req.Model == "" {
			return nil, &MissingModelError{Policy: policy.Name}
		}
		idx = policy.LLMIndexByName(req.Model)
		if idx < 0 {
			return nil, &ModelNotFoundError{Policy: policy.Name, Model: req.Model}
		}

	case StrategyTriton:
		if !req.HasPrompt {
			return nil, &MissingPromptError{}
		}
		var err error
		vector, err = r.classifier.Classify(ctx, policy.URL, req.Prompt)
		if err != nil {
			return nil, err
		}
		if len(vector) != len(policy.LLMs) {
			return nil, &ShapeMismatchError{
				Policy:    policy.Name,
				VectorLen: len(vector),
				LLMCount:  len(policy.LLMs),
			}
		}
		idx = argmax(vector)
	}

	selection := time.Since(start).Seconds()
	r.collector.ObserveSelectionTime(selection)

	llm := policy.LLMs[idx]
	slog.Debug("llm selected",
		"policy", policy.Name,
		"strategy", string(req.Strategy),
		"llm", llm.Name,
		"index", idx,
	)

	return &Result{Policy: policy, LLM: llm, Index: idx, Vector: vector}, nil
}

// argmax returns the index of the largest score; ties break to the
// lowest index. The vector is arbitrary floats, not necessarily one-hot
// or normalized.
func argmax(vector []float64) int {
	best := 0
	for i := 1; i < len(vector); i++ {
		if vector[i] > vector[best] {
			best = i
		}
	}
	return best
}
