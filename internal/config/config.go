// Package config loads taskvoice's configuration from the environment.
// Unlike the rest of the stack, this service is deployed as a single
// long-running process per installation, so environment variables are
// enough; there is no per-user config file to locate or merge.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/taskvoice/taskvoice/internal/llm"
)

// Config holds all taskvoice configuration, loaded once at startup and
// never mutated afterward.
type Config struct {
	DeepgramAPIKey  string
	AnthropicAPIKey string

	DBPath string
	Model  string

	Pricing map[string]llm.PricingEntry

	ListenAddr string

	MaxIterations  int
	HistoryWindow  int

	LogLevel  string
	LogFormat string
}

// FatalConfigurationError indicates the service cannot start: required
// credentials are missing or a supplied value is malformed.
type FatalConfigurationError struct {
	Detail string
}

func (e *FatalConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Detail)
}

// Load reads Config from the environment. Missing STT or LLM credentials
// are a FatalConfigurationError; the caller is expected to refuse to
// start the service rather than attempt a degraded mode.
func Load() (*Config, error) {
	cfg := &Config{
		DeepgramAPIKey:  os.Getenv("TASKVOICE_DEEPGRAM_API_KEY"),
		AnthropicAPIKey: os.Getenv("TASKVOICE_ANTHROPIC_API_KEY"),
		DBPath:          getEnv("TASKVOICE_DB_PATH", "./data/taskvoice.db"),
		Model:           getEnv("TASKVOICE_MODEL", "claude-sonnet-4-20250514"),
		ListenAddr:      getEnv("TASKVOICE_LISTEN_ADDR", ":8090"),
		LogLevel:        getEnv("TASKVOICE_LOG_LEVEL", "info"),
		LogFormat:       getEnv("TASKVOICE_LOG_FORMAT", "text"),
	}

	maxIter, err := getIntEnv("TASKVOICE_MAX_ITERATIONS", 3)
	if err != nil {
		return nil, &FatalConfigurationError{Detail: err.Error()}
	}
	cfg.MaxIterations = maxIter

	window, err := getIntEnv("TASKVOICE_HISTORY_WINDOW", 3)
	if err != nil {
		return nil, &FatalConfigurationError{Detail: err.Error()}
	}
	cfg.HistoryWindow = window

	pricing, err := loadPricing(os.Getenv("TASKVOICE_COST_TABLE"))
	if err != nil {
		return nil, &FatalConfigurationError{Detail: err.Error()}
	}
	cfg.Pricing = pricing

	if cfg.DeepgramAPIKey == "" {
		return nil, &FatalConfigurationError{Detail: "TASKVOICE_DEEPGRAM_API_KEY is required"}
	}
	if cfg.AnthropicAPIKey == "" {
		return nil, &FatalConfigurationError{Detail: "TASKVOICE_ANTHROPIC_API_KEY is required"}
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// loadPricing returns the built-in pricing table, optionally merged with
// per-model overrides supplied as a JSON object at the given path
// ("model": {"input_per_million": ..., ...}). An empty path keeps the
// built-in table untouched.
func loadPricing(path string) (map[string]llm.PricingEntry, error) {
	merged := make(map[string]llm.PricingEntry, len(llm.DefaultPricing))
	for k, v := range llm.DefaultPricing {
		merged[k] = v
	}
	if path == "" {
		return merged, nil
	}

	overrides, err := readPricingFile(path)
	if err != nil {
		return nil, fmt.Errorf("load TASKVOICE_COST_TABLE: %w", err)
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged, nil
}
