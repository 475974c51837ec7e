// Package config loads and validates kazuba-rlm configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration document.
type Config struct {
	RLM       RLMConfig       `koanf:"rlm"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
}

// RLMConfig holds the learning hyperparameters and persistence settings.
type RLMConfig struct {
	LearningRate         float64                 `koanf:"learning_rate"`
	DiscountFactor       float64                 `koanf:"discount_factor"`
	Epsilon              float64                 `koanf:"epsilon"`
	LambdaTrace          float64                 `koanf:"lambda_trace"`
	MaxHistory           int                     `koanf:"max_history"`
	MaxQTableSize        int                     `koanf:"max_q_table_size"`
	PersistPath          string                  `koanf:"persist_path"`
	AutoSaveInterval     int                     `koanf:"auto_save_interval"`
	RewardClipMin        float64                 `koanf:"reward_clip_min"`
	RewardClipMax        float64                 `koanf:"reward_clip_max"`
	SessionCheckpointDir string                  `koanf:"session_checkpoint_dir"`
	RewardComponents     []RewardComponentConfig `koanf:"reward_components"`
	EnableEpsilonGreedy  bool                    `koanf:"enable_epsilon_greedy"`
	BreakerThreshold     int                     `koanf:"breaker_threshold"`
	BreakerResetAfter    Duration                `koanf:"breaker_reset_after"`
}

// RewardComponentConfig describes one Gaussian reward component.
type RewardComponentConfig struct {
	MetricKey string  `koanf:"metric_key"`
	Weight    float64 `koanf:"weight"`
	Target    float64 `koanf:"target"`
	Scale     float64 `koanf:"scale"`
}

// LoggingConfig is the file/env form of the logger settings. The logging
// package converts it into its own Config.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Output   string `koanf:"output"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
	Caller   bool   `koanf:"caller"`
}

// TelemetryConfig is the file/env form of the OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// ServerConfig configures the optional HTTP surface.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		RLM: DefaultRLMConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
			Caller: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			ServiceName:     "kazuba-rlm",
			ServiceVersion:  "0.1.0",
			SampleRate:      1.0,
			MetricsInterval: Duration(15 * time.Second),
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// DefaultRLMConfig returns the learning defaults.
func DefaultRLMConfig() RLMConfig {
	return RLMConfig{
		LearningRate:        0.1,
		DiscountFactor:      0.95,
		Epsilon:             0.1,
		LambdaTrace:         0.8,
		MaxHistory:          1000,
		MaxQTableSize:       10000,
		AutoSaveInterval:    100,
		RewardClipMin:       -1.0,
		RewardClipMax:       1.0,
		EnableEpsilonGreedy: true,
		BreakerThreshold:    5,
		BreakerResetAfter:   Duration(30 * time.Second),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.RLM.Validate(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalid, c.Logging.Format)
	}
	switch c.Logging.Output {
	case "", "stderr", "stdout":
	default:
		return fmt.Errorf("%w: logging.output %q", ErrInvalid, c.Logging.Output)
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("%w: telemetry.endpoint required when telemetry is enabled", ErrInvalid)
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("%w: telemetry.protocol %q", ErrInvalid, c.Telemetry.Protocol)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalid, c.Server.Port)
	}
	return nil
}

// Validate checks hyperparameter ranges and sizes.
func (c RLMConfig) Validate() error {
	unit := []struct {
		name string
		v    float64
	}{
		{"learning_rate", c.LearningRate},
		{"discount_factor", c.DiscountFactor},
		{"epsilon", c.Epsilon},
		{"lambda_trace", c.LambdaTrace},
	}
	for _, p := range unit {
		if math.IsNaN(p.v) || p.v < 0 || p.v > 1 {
			return fmt.Errorf("%w: rlm.%s must be in [0, 1], got %v", ErrInvalid, p.name, p.v)
		}
	}
	if c.MaxHistory < 1 {
		return fmt.Errorf("%w: rlm.max_history must be >= 1, got %d", ErrInvalid, c.MaxHistory)
	}
	if c.MaxQTableSize < 1 {
		return fmt.Errorf("%w: rlm.max_q_table_size must be >= 1, got %d", ErrInvalid, c.MaxQTableSize)
	}
	if c.AutoSaveInterval < 0 {
		return fmt.Errorf("%w: rlm.auto_save_interval must be >= 0, got %d", ErrInvalid, c.AutoSaveInterval)
	}
	if !(c.RewardClipMin < c.RewardClipMax) {
		return fmt.Errorf("%w: rlm.reward_clip_min (%v) must be < reward_clip_max (%v)",
			ErrInvalid, c.RewardClipMin, c.RewardClipMax)
	}
	if c.BreakerThreshold < 0 {
		return fmt.Errorf("%w: rlm.breaker_threshold must be >= 0, got %d", ErrInvalid, c.BreakerThreshold)
	}
	return nil
}
