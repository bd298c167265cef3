package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setCreds(t *testing.T) {
	t.Helper()
	t.Setenv("TASKVOICE_DEEPGRAM_API_KEY", "dg_test_key")
	t.Setenv("TASKVOICE_ANTHROPIC_API_KEY", "sk-ant-test")
}

func TestLoad_Defaults(t *testing.T) {
	setCreds(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBPath != "./data/taskvoice.db" {
		t.Errorf("DBPath = %q, want default", cfg.DBPath)
	}
	if cfg.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q, want default", cfg.Model)
	}
	if cfg.ListenAddr != ":8090" {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
	if cfg.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", cfg.MaxIterations)
	}
	if cfg.HistoryWindow != 3 {
		t.Errorf("HistoryWindow = %d, want 3", cfg.HistoryWindow)
	}
	if _, ok := cfg.Pricing["claude-sonnet-4-20250514"]; !ok {
		t.Error("expected default pricing entry to be present")
	}
}

func TestLoad_MissingDeepgramKey(t *testing.T) {
	t.Setenv("TASKVOICE_DEEPGRAM_API_KEY", "")
	t.Setenv("TASKVOICE_ANTHROPIC_API_KEY", "sk-ant-test")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail when TASKVOICE_DEEPGRAM_API_KEY is missing")
	}
	if _, ok := err.(*FatalConfigurationError); !ok {
		t.Errorf("error type = %T, want *FatalConfigurationError", err)
	}
}

func TestLoad_MissingAnthropicKey(t *testing.T) {
	t.Setenv("TASKVOICE_DEEPGRAM_API_KEY", "dg_test_key")
	t.Setenv("TASKVOICE_ANTHROPIC_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail when TASKVOICE_ANTHROPIC_API_KEY is missing")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setCreds(t)
	t.Setenv("TASKVOICE_DB_PATH", "/tmp/custom.db")
	t.Setenv("TASKVOICE_MODEL", "claude-opus-4-20250514")
	t.Setenv("TASKVOICE_MAX_ITERATIONS", "5")
	t.Setenv("TASKVOICE_HISTORY_WINDOW", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Model != "claude-opus-4-20250514" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", cfg.MaxIterations)
	}
	if cfg.HistoryWindow != 10 {
		t.Errorf("HistoryWindow = %d, want 10", cfg.HistoryWindow)
	}
}

func TestLoad_InvalidIntEnv(t *testing.T) {
	setCreds(t)
	t.Setenv("TASKVOICE_MAX_ITERATIONS", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for a non-numeric TASKVOICE_MAX_ITERATIONS")
	}
}

func TestLoad_CostTableOverride(t *testing.T) {
	setCreds(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.json")
	os.WriteFile(path, []byte(`{"claude-sonnet-4-20250514":{"input_per_million":1,"cache_write_per_million":1,"cache_read_per_million":0.1,"output_per_million":5}}`), 0o600)
	t.Setenv("TASKVOICE_COST_TABLE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	entry := cfg.Pricing["claude-sonnet-4-20250514"]
	if entry.InputPerMillion != 1 || entry.OutputPerMillion != 5 {
		t.Errorf("pricing override not applied: %+v", entry)
	}
}

func TestLoad_CostTableMissingFile(t *testing.T) {
	setCreds(t)
	t.Setenv("TASKVOICE_COST_TABLE", "/nonexistent/pricing.json")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail when TASKVOICE_COST_TABLE points to a missing file")
	}
}
