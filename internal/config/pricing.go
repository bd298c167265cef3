package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/taskvoice/taskvoice/internal/llm"
)

// readPricingFile parses a JSON object mapping model name to a pricing
// entry, keyed the way llm.PricingEntry's fields serialize.
func readPricingFile(path string) (map[string]llm.PricingEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]struct {
		InputPerMillion      float64 `json:"input_per_million"`
		CacheWritePerMillion float64 `json:"cache_write_per_million"`
		CacheReadPerMillion  float64 `json:"cache_read_per_million"`
		OutputPerMillion     float64 `json:"output_per_million"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string]llm.PricingEntry, len(raw))
	for model, entry := range raw {
		out[model] = llm.PricingEntry{
			InputPerMillion:      entry.InputPerMillion,
			CacheWritePerMillion: entry.CacheWritePerMillion,
			CacheReadPerMillion:  entry.CacheReadPerMillion,
			OutputPerMillion:     entry.OutputPerMillion,
		}
	}
	return out, nil
}
