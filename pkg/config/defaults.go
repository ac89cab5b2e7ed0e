package config

import "time"

const (
	// DefaultListenAddress is the address the server binds to when the
	// configuration does not specify one.
	DefaultListenAddress = "0.0.0.0:8084"

	// DefaultClassifierTimeout bounds a single classifier call. Upstream
	// LLM calls deliberately carry no hard timeout; completions can be
	// long and client disconnection cancels them instead.
	DefaultClassifierTimeout = 5 * time.Second

	// DefaultShutdownTimeout bounds graceful server shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultLogLevel is used when neither config nor environment set one.
	DefaultLogLevel = "info"

	// DefaultProbeSchedule drives the classifier reachability probe.
	// Set probe_schedule: "off" to disable it.
	DefaultProbeSchedule = "@every 30s"

	// ProbeScheduleOff disables the classifier reachability probe.
	ProbeScheduleOff = "off"
)

// ApplyDefaults fills in zero-valued server settings.
func ApplyDefaults(cfg *RouterConfig) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ClassifierTimeout == 0 {
		cfg.Server.ClassifierTimeout = Duration(DefaultClassifierTimeout)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.ProbeSchedule == "" {
		cfg.Server.ProbeSchedule = DefaultProbeSchedule
	}
}
