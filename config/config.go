// Package config loads per-process Node configuration the way the
// teacher's root config.go loads its server Config: env-tagged struct,
// optional .env seeding, explicit validation, and both a human-readable
// Print and a structured LogConfig. These fields cover what is NOT part
// of a service's persisted StaticConfig (spec §6) — process-local
// concerns like the node name, log level/format, the metrics
// listen address, and the default publisher/subscriber tuning the demo
// binaries fall back to when no explicit builder options are given.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// NodeConfig holds one process's zcbus configuration.
type NodeConfig struct {
	// Identity and ambient endpoints.
	NodeName      string `env:"ZCBUS_NODE_NAME" envDefault:"zcbus-node"`
	MetricsAddr   string `env:"ZCBUS_METRICS_ADDR" envDefault:":9102"`
	Environment   string `env:"ZCBUS_ENVIRONMENT" envDefault:"development"`
	LogLevel      string `env:"ZCBUS_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"ZCBUS_LOG_FORMAT" envDefault:"json"`

	// Default service sizing, used by cmd/pub and cmd/sub when a
	// service is created without explicit builder overrides.
	DefaultNumberOfPublishers  int `env:"ZCBUS_DEFAULT_MAX_PUBLISHERS" envDefault:"8"`
	DefaultNumberOfSubscribers int `env:"ZCBUS_DEFAULT_MAX_SUBSCRIBERS" envDefault:"16"`
	DefaultNumberOfSamples     int `env:"ZCBUS_DEFAULT_NUMBER_OF_SAMPLES" envDefault:"32"`
	DefaultSubscriberBuffer    int `env:"ZCBUS_DEFAULT_SUBSCRIBER_BUFFER" envDefault:"16"`
	DefaultMaxLoanedSamples    int `env:"ZCBUS_DEFAULT_MAX_LOANED_SAMPLES" envDefault:"4"`
	DefaultSafeOverflow        bool `env:"ZCBUS_DEFAULT_SAFE_OVERFLOW" envDefault:"false"`
	DefaultUnableToDeliver     string `env:"ZCBUS_DEFAULT_UNABLE_TO_DELIVER" envDefault:"discard"`
	DefaultBlockTimeout        time.Duration `env:"ZCBUS_DEFAULT_BLOCK_TIMEOUT" envDefault:"25ms"`

	// Resource advisor thresholds (internal/advisor).
	AdvisorCPUAbortPercent  float64       `env:"ZCBUS_ADVISOR_CPU_ABORT_PERCENT" envDefault:"90.0"`
	AdvisorMemoryAbortMB    int64         `env:"ZCBUS_ADVISOR_MEMORY_ABORT_MB" envDefault:"2048"`
	AdvisorSampleInterval   time.Duration `env:"ZCBUS_ADVISOR_SAMPLE_INTERVAL" envDefault:"5s"`

	// Background dead-node sweep (internal/sweep).
	SweepInterval   time.Duration `env:"ZCBUS_SWEEP_INTERVAL" envDefault:"1s"`
	SweepWorkers    int           `env:"ZCBUS_SWEEP_WORKERS" envDefault:"2"`
	SweepQueueDepth int           `env:"ZCBUS_SWEEP_QUEUE_DEPTH" envDefault:"64"`
}

// LoadConfig reads configuration from an optional .env file and then
// the environment, validates it, and returns it. Priority: ENV vars >
// .env file > defaults, matching the teacher's LoadConfig.
func LoadConfig(logger *zerolog.Logger) (*NodeConfig, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &NodeConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks NodeConfig for internally-inconsistent or
// out-of-range values.
func (c *NodeConfig) Validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("ZCBUS_NODE_NAME is required")
	}
	if c.DefaultNumberOfPublishers < 1 {
		return fmt.Errorf("ZCBUS_DEFAULT_MAX_PUBLISHERS must be > 0, got %d", c.DefaultNumberOfPublishers)
	}
	if c.DefaultNumberOfSubscribers < 1 {
		return fmt.Errorf("ZCBUS_DEFAULT_MAX_SUBSCRIBERS must be > 0, got %d", c.DefaultNumberOfSubscribers)
	}
	if c.DefaultNumberOfSamples < 1 {
		return fmt.Errorf("ZCBUS_DEFAULT_NUMBER_OF_SAMPLES must be > 0, got %d", c.DefaultNumberOfSamples)
	}
	if c.DefaultSubscriberBuffer < 1 {
		return fmt.Errorf("ZCBUS_DEFAULT_SUBSCRIBER_BUFFER must be > 0, got %d", c.DefaultSubscriberBuffer)
	}
	if c.DefaultMaxLoanedSamples < 1 {
		return fmt.Errorf("ZCBUS_DEFAULT_MAX_LOANED_SAMPLES must be > 0, got %d", c.DefaultMaxLoanedSamples)
	}
	if c.AdvisorCPUAbortPercent < 0 || c.AdvisorCPUAbortPercent > 100 {
		return fmt.Errorf("ZCBUS_ADVISOR_CPU_ABORT_PERCENT must be 0-100, got %.1f", c.AdvisorCPUAbortPercent)
	}
	if c.SweepWorkers < 1 {
		return fmt.Errorf("ZCBUS_SWEEP_WORKERS must be > 0, got %d", c.SweepWorkers)
	}

	validPolicies := map[string]bool{"discard": true, "block": true}
	if !validPolicies[c.DefaultUnableToDeliver] {
		return fmt.Errorf("ZCBUS_DEFAULT_UNABLE_TO_DELIVER must be one of: discard, block (got: %s)", c.DefaultUnableToDeliver)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("ZCBUS_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("ZCBUS_LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Print logs configuration for debugging in a human-readable form.
func (c *NodeConfig) Print() {
	fmt.Println("=== zcbus Node Configuration ===")
	fmt.Printf("Node Name:       %s\n", c.NodeName)
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("Metrics Addr:    %s\n", c.MetricsAddr)
	fmt.Println("\n=== Default Service Sizing ===")
	fmt.Printf("Max Publishers:  %d\n", c.DefaultNumberOfPublishers)
	fmt.Printf("Max Subscribers: %d\n", c.DefaultNumberOfSubscribers)
	fmt.Printf("Sample Slots:    %d\n", c.DefaultNumberOfSamples)
	fmt.Printf("Sub Buffer:      %d\n", c.DefaultSubscriberBuffer)
	fmt.Printf("Max Loans:       %d\n", c.DefaultMaxLoanedSamples)
	fmt.Printf("Safe Overflow:   %t\n", c.DefaultSafeOverflow)
	fmt.Printf("Unable-Deliver:  %s\n", c.DefaultUnableToDeliver)
	fmt.Println("\n=== Advisor / Sweep ===")
	fmt.Printf("CPU Abort:       %.1f%%\n", c.AdvisorCPUAbortPercent)
	fmt.Printf("Memory Abort:    %d MB\n", c.AdvisorMemoryAbortMB)
	fmt.Printf("Sweep Interval:  %s\n", c.SweepInterval)
	fmt.Println("================================")
}

// LogConfig emits configuration as a single structured log line.
func (c *NodeConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("node_name", c.NodeName).
		Str("environment", c.Environment).
		Str("metrics_addr", c.MetricsAddr).
		Int("default_max_publishers", c.DefaultNumberOfPublishers).
		Int("default_max_subscribers", c.DefaultNumberOfSubscribers).
		Int("default_number_of_samples", c.DefaultNumberOfSamples).
		Int("default_subscriber_buffer", c.DefaultSubscriberBuffer).
		Int("default_max_loaned_samples", c.DefaultMaxLoanedSamples).
		Bool("default_safe_overflow", c.DefaultSafeOverflow).
		Str("default_unable_to_deliver", c.DefaultUnableToDeliver).
		Dur("default_block_timeout", c.DefaultBlockTimeout).
		Float64("advisor_cpu_abort_percent", c.AdvisorCPUAbortPercent).
		Int64("advisor_memory_abort_mb", c.AdvisorMemoryAbortMB).
		Dur("advisor_sample_interval", c.AdvisorSampleInterval).
		Dur("sweep_interval", c.SweepInterval).
		Int("sweep_workers", c.SweepWorkers).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("node configuration loaded")
}
