package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/hermes/pkg/classifier"
	"mercator-hq/hermes/pkg/cli"
	"mercator-hq/hermes/pkg/config"
	"mercator-hq/hermes/pkg/routing"
	"mercator-hq/hermes/pkg/server"
	"mercator-hq/hermes/pkg/telemetry/logging"
	"mercator-hq/hermes/pkg/telemetry/metrics"
	"mercator-hq/hermes/pkg/upstream"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes - classifying LLM router gateway",
	Long: `Hermes is an OpenAI-compatible chat-completions proxy that classifies
each incoming prompt and forwards it to the best-fit backend LLM.

Requests carry a "nim-llm-router" object naming a routing policy. Under
the triton strategy the last user message is scored by a remote
classifier and the winning index selects an LLM from the policy's
ordered list; under the manual strategy the request names the LLM entry
directly. Responses, including SSE streams, are relayed byte-identically
while Prometheus metrics capture latency, routing, and token usage.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "/app/config.yaml", "path to the router configuration file")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, err := logging.Setup(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	slog.Info("configuration loaded",
		"path", configPath,
		"policies", len(cfg.Policies),
	)

	collector := metrics.NewCollector(nil)
	classifierClient := classifier.NewClient(cfg.Server.ClassifierTimeout.Std())
	resolver := routing.NewResolver(cfg, classifierClient, collector)
	upstreamClient := upstream.NewClient()
	defer upstreamClient.Close()

	ctx := cli.SetupSignalHandler()

	if cfg.Server.ProbeSchedule != config.ProbeScheduleOff {
		prober := classifier.NewProber(classifierClient, cfg, collector, cfg.Server.ProbeSchedule)
		if err := prober.Start(); err != nil {
			return fmt.Errorf("failed to start classifier prober: %w", err)
		}
		defer prober.Stop()
	}

	go func() {
		if err := config.Watch(ctx, configPath); err != nil {
			slog.Warn("configuration watcher unavailable", "error", err)
		}
	}()

	srv := server.NewServer(cfg, resolver, upstreamClient, collector)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	return nil
}
