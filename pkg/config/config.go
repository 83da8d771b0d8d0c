package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full configuration surface of the gateway core. Every field
// is optional: Load fills defaults, overlays an optional JSON file, then lets
// CHAVRUTA_* environment variables win.
type Config struct {
	Library LibraryConfig `json:"library"`
	Budget  BudgetConfig  `json:"budget"`
	Cycle   CycleConfig   `json:"cycle"`
	Log     LogConfig     `json:"log"`
}

// LibraryConfig covers the upstream reference API and the response cache.
type LibraryConfig struct {
	BaseURL        string        `json:"base_url" env:"CHAVRUTA_LIBRARY_BASE_URL"`
	RequestTimeout time.Duration `json:"request_timeout" env:"CHAVRUTA_LIBRARY_TIMEOUT"`
	MaxRetries     int           `json:"max_retries" env:"CHAVRUTA_LIBRARY_RETRIES"`
	PreferredLang  string        `json:"preferred_lang" env:"CHAVRUTA_PREFERRED_LANG"`
	FallbackLang   string        `json:"fallback_lang" env:"CHAVRUTA_FALLBACK_LANG"`
	CacheTTL       time.Duration `json:"cache_ttl" env:"CHAVRUTA_CACHE_TTL"`
	CacheCapacity  int           `json:"cache_capacity" env:"CHAVRUTA_CACHE_CAPACITY"`
	MaxBytes       int           `json:"max_payload_bytes" env:"CHAVRUTA_MAX_PAYLOAD_BYTES"`
	UpstreamRPS    float64       `json:"upstream_rps" env:"CHAVRUTA_UPSTREAM_RPS"`
	UpstreamBurst  int           `json:"upstream_burst" env:"CHAVRUTA_UPSTREAM_BURST"`
}

// BudgetConfig bounds how many bytes one turn may hand to the LLM.
type BudgetConfig struct {
	CeilingBytes int `json:"ceiling_bytes" env:"CHAVRUTA_TURN_BUDGET_BYTES"`
}

// CycleConfig tunes the tool-call cycle detector.
type CycleConfig struct {
	HistorySize     int `json:"history_size" env:"CHAVRUTA_CYCLE_HISTORY"`
	RepeatThreshold int `json:"repeat_threshold" env:"CHAVRUTA_REPEAT_THRESHOLD"`
}

type LogConfig struct {
	Level string `json:"level" env:"CHAVRUTA_LOG_LEVEL"`
	File  string `json:"file" env:"CHAVRUTA_LOG_FILE"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Library: LibraryConfig{
			BaseURL:        DefaultBaseURL,
			RequestTimeout: DefaultRequestTimeout,
			MaxRetries:     DefaultMaxRetries,
			PreferredLang:  DefaultPreferredLang,
			FallbackLang:   DefaultFallbackLang,
			CacheTTL:       DefaultCacheTTL,
			CacheCapacity:  DefaultCacheCapacity,
			MaxBytes:       DefaultMaxPayloadBytes,
			UpstreamRPS:    DefaultUpstreamRPS,
			UpstreamBurst:  DefaultUpstreamBurst,
		},
		Budget: BudgetConfig{CeilingBytes: DefaultTurnBudgetBytes},
		Cycle: CycleConfig{
			HistorySize:     DefaultCycleHistory,
			RepeatThreshold: DefaultRepeatThreshold,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (skipped when path is empty or the file does not exist), then
// environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make the core misbehave rather
// than papering over them with silent clamps.
func (c *Config) Validate() error {
	if c.Library.BaseURL == "" {
		return fmt.Errorf("library base URL must not be empty")
	}
	if c.Library.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", c.Library.RequestTimeout)
	}
	if c.Library.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.Library.MaxRetries)
	}
	if c.Library.CacheCapacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.Library.CacheCapacity)
	}
	if c.Library.MaxBytes <= 0 {
		return fmt.Errorf("max payload bytes must be positive, got %d", c.Library.MaxBytes)
	}
	if c.Budget.CeilingBytes <= 0 {
		return fmt.Errorf("turn budget must be positive, got %d", c.Budget.CeilingBytes)
	}
	if c.Cycle.HistorySize < 2*c.Cycle.RepeatThreshold {
		return fmt.Errorf("cycle history (%d) must hold two repeat windows (threshold %d)",
			c.Cycle.HistorySize, c.Cycle.RepeatThreshold)
	}
	if c.Cycle.RepeatThreshold < 2 {
		return fmt.Errorf("repeat threshold must be at least 2, got %d", c.Cycle.RepeatThreshold)
	}
	return nil
}
