// Package config holds the run configuration: batching parameters, retry
// policies, concurrency, and the annotation service settings. Values come
// from Default() overlaid with an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/gloss/pkg/gloss/internalerr"
)

// Duration wraps time.Duration so YAML can say "10s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Batching controls the split-point search.
type Batching struct {
	TargetWords   int `yaml:"target_words"`
	BackwardRange int `yaml:"backward_range"`
	ForwardRange  int `yaml:"forward_range"`
}

// Retry is one bounded retry policy.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	// Exponential doubles the delay each attempt; otherwise the delay is
	// fixed at BaseDelay.
	Exponential bool `yaml:"exponential"`
}

// DelayFor returns the backoff before retrying after the given 1-based
// attempt.
func (r Retry) DelayFor(attempt int) time.Duration {
	d := r.BaseDelay.Std()
	if !r.Exponential {
		return d
	}
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Reprocess controls context widening for small re-annotation ranges.
type Reprocess struct {
	// MinRangeForContext: ranges narrower than this are widened.
	MinRangeForContext int `yaml:"min_range_for_context"`
	// ContextWordWindow: how many words to add on each side when widening.
	ContextWordWindow int `yaml:"context_word_window"`
}

// Service is the annotation service endpoint configuration. The API key is
// never read from the file; it comes from the environment.
type Service struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

// Config is the full run configuration.
type Config struct {
	Batching        Batching  `yaml:"batching"`
	Concurrency     int       `yaml:"concurrency"`
	TransportRetry  Retry     `yaml:"transport_retry"`
	ValidationRetry Retry     `yaml:"validation_retry"`
	Reprocess       Reprocess `yaml:"reprocess"`
	Service         Service   `yaml:"service"`

	// PromptTemplatePath points at a template file containing the
	// {{BATCH_TEXT}} and {{BATCH_DATA}} placeholders. Empty means the
	// built-in default template.
	PromptTemplatePath string `yaml:"prompt_template"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Batching: Batching{
			TargetWords:   30,
			BackwardRange: 5,
			ForwardRange:  15,
		},
		Concurrency: 5,
		TransportRetry: Retry{
			MaxAttempts: 3,
			BaseDelay:   Duration(10 * time.Second),
			Exponential: true,
		},
		ValidationRetry: Retry{
			MaxAttempts: 6,
			BaseDelay:   Duration(5 * time.Second),
		},
		Reprocess: Reprocess{
			MinRangeForContext: 7,
			ContextWordWindow:  5,
		},
		Service: Service{
			Model:   "gpt-4.1-mini",
			BaseURL: "https://api.openai.com/v1/chat/completions",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Batching.TargetWords <= 0 {
		return fmt.Errorf("batching.target_words must be positive: %w", internalerr.ErrInvalidConfig)
	}
	if c.Batching.BackwardRange < 0 || c.Batching.ForwardRange < 0 {
		return fmt.Errorf("batching search ranges must be non-negative: %w", internalerr.ErrInvalidConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive: %w", internalerr.ErrInvalidConfig)
	}
	if c.TransportRetry.MaxAttempts <= 0 || c.ValidationRetry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive: %w", internalerr.ErrInvalidConfig)
	}
	if c.Reprocess.MinRangeForContext < 0 || c.Reprocess.ContextWordWindow < 0 {
		return fmt.Errorf("reprocess settings must be non-negative: %w", internalerr.ErrInvalidConfig)
	}
	return nil
}
