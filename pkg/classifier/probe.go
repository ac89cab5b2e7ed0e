package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/hermes/pkg/config"
	"mercator-hq/hermes/pkg/telemetry/metrics"
)

// Prober periodically checks that each policy's classifier endpoint
// accepts connections and exports the result as the classifier_up gauge.
// It never blocks or influences the request path.
type Prober struct {
	client    *Client
	cfg       *config.RouterConfig
	collector *metrics.Collector
	cron      *cron.Cron
	schedule  string
}

// NewProber creates a prober over the loaded configuration. schedule is
// a cron expression (robfig/cron v3 syntax, @every shorthands allowed).
func NewProber(client *Client, cfg *config.RouterConfig, collector *metrics.Collector, schedule string) *Prober {
	return &Prober{
		client:    client,
		cfg:       cfg,
		collector: collector,
		cron:      cron.New(),
		schedule:  schedule,
	}
}

// Start runs one immediate probe and schedules recurring ones. It
// returns an error only when the schedule expression is invalid.
func (p *Prober) Start() error {
	p.ProbeAll(context.Background())

	if _, err := p.cron.AddFunc(p.schedule, func() {
		p.ProbeAll(context.Background())
	}); err != nil {
		return err
	}
	p.cron.Start()

	slog.Info("classifier prober started", "schedule", p.schedule, "policies", len(p.cfg.Policies))
	return nil
}

// Stop cancels the recurring probes and waits for a running one.
func (p *Prober) Stop() {
	ctx := p.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		slog.Warn("classifier prober did not stop in time")
	}
}

// ProbeAll checks every policy's classifier endpoint once.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, policy := range p.cfg.Policies {
		err := p.client.Ping(ctx, policy.URL)
		up := err == nil
		p.collector.SetClassifierUp(policy.Name, up)
		if !up {
			slog.Warn("classifier endpoint unreachable",
				"policy", policy.Name,
				"url", policy.URL,
				"error", err,
			)
		}
	}
}
