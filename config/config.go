// Package config loads the single YAML configuration document described in
// SPEC_FULL.md §9A: provider registrations, the model-id precedence list,
// retry/timeout overrides, the default stream profile, and the output
// dialect/pretty-print toggle. Ambient configuration plumbing, carried
// even though spec.md's Non-goals exclude a command-line flag surface.
//
// Grounded on the teacher's integration_tests/framework/runner.go, whose
// yaml-tagged struct-of-structs shape (Scenario/Defaults/Step) is the only
// gopkg.in/yaml.v3 consumer in the pack; the field-tagging convention is
// carried over here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the root of the YAML configuration document.
	Config struct {
		Providers       map[string]Provider `yaml:"providers"`
		ModelPrecedence []string            `yaml:"model_precedence"`
		Retry           RetryConfig         `yaml:"retry"`
		Stream          StreamConfig        `yaml:"stream"`
		Output          OutputConfig        `yaml:"output"`
		Input           InputConfig         `yaml:"input"`
	}

	// Provider describes one registered model provider.
	Provider struct {
		Kind         string `yaml:"kind"` // "anthropic" | "openai" | "bedrock"
		BaseURL      string `yaml:"base_url"`
		DefaultModel string `yaml:"default_model"`
		HighModel    string `yaml:"high_model"`
		SmallModel   string `yaml:"small_model"`
		Region       string `yaml:"region"` // bedrock only
	}

	// RetryConfig overrides transport.Config's defaults. All duration
	// fields carry an explicit unit suffix per SPEC_FULL.md §9A.
	RetryConfig struct {
		RetryBudgetMs    int64 `yaml:"retry_budget_ms"`
		MaxSingleDelayMs int64 `yaml:"max_single_delay_ms"`
		MinIntervalMs    int64 `yaml:"min_interval_ms"`
		BaseBackoffMs    int64 `yaml:"base_backoff_ms"`

		// RequestsPerSecond caps outbound provider requests process-wide, a
		// static token bucket applied in front of every attempt. Zero means
		// unlimited.
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	}

	// StreamConfig overrides sse.Config's defaults and selects the default
	// output stream profile.
	StreamConfig struct {
		ChunkTimeoutMs int64  `yaml:"chunk_timeout_ms"`
		StepTimeoutMs  int64  `yaml:"step_timeout_ms"`
		DefaultProfile string `yaml:"default_profile"` // "full" | "compact"
	}

	// OutputConfig selects the Output Emitter's JSON dialect.
	OutputConfig struct {
		Dialect string `yaml:"dialect"` // "default" | "compact"
		Pretty  bool   `yaml:"pretty"`
	}

	// InputConfig selects the Input Queue's coalescing behavior.
	InputConfig struct {
		CoalesceWindowMs int64 `yaml:"coalesce_window_ms"`
		Literal          bool  `yaml:"literal"`
	}
)

// Load reads and parses the YAML document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.ModelPrecedence) == 0 {
		c.ModelPrecedence = []string{"request", "provider_default"}
	}
	if c.Stream.DefaultProfile == "" {
		c.Stream.DefaultProfile = "full"
	}
	if c.Output.Dialect == "" {
		c.Output.Dialect = "default"
	}
	if c.Input.CoalesceWindowMs == 0 {
		c.Input.CoalesceWindowMs = 50
	}
}

// RetryBudget returns the configured retry budget, or zero if unset (the
// transport package then applies its own default).
func (c RetryConfig) RetryBudget() time.Duration {
	return time.Duration(c.RetryBudgetMs) * time.Millisecond
}

// MaxSingleDelay returns the configured max single retry delay.
func (c RetryConfig) MaxSingleDelay() time.Duration {
	return time.Duration(c.MaxSingleDelayMs) * time.Millisecond
}

// MinInterval returns the configured minimum interval between retries.
func (c RetryConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// BaseBackoff returns the configured base backoff duration.
func (c RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMs) * time.Millisecond
}

// ChunkTimeout returns the configured per-chunk SSE timeout.
func (c StreamConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutMs) * time.Millisecond
}

// StepTimeout returns the configured per-step SSE timeout.
func (c StreamConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutMs) * time.Millisecond
}

// CoalesceWindow returns the configured input coalescing window.
func (c InputConfig) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMs) * time.Millisecond
}
