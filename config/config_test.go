package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

const minimalConfig = `stocklake:
  name: "TestLake"
  version: "1.0"
stockdata_api:
  api_token: "file-token"
symbols: ["tsla", "AMD", "TSLA"]
storage:
  s3:
    enabled: false
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("STOCKDATA_API_TOKEN", "")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Stocklake.Name != "TestLake" {
		t.Errorf("unexpected name: %s", cfg.Stocklake.Name)
	}
	if got := cfg.Symbols; len(got) != 2 || got[0] != "TSLA" || got[1] != "AMD" {
		t.Errorf("unexpected symbols: %v", got)
	}
	if cfg.Extraction.IntradayWindow != 72*time.Hour {
		t.Errorf("unexpected default window: %s", cfg.Extraction.IntradayWindow)
	}
	if cfg.Gold.IntradayOutput != IntradayOutputPreEnrichment {
		t.Errorf("unexpected intraday output: %s", cfg.Gold.IntradayOutput)
	}
	if cfg.Datalake.Source != "stockdata_api" {
		t.Errorf("unexpected source: %s", cfg.Datalake.Source)
	}
}

func TestLoadConfigTokenFromEnv(t *testing.T) {
	t.Setenv("STOCKDATA_API_TOKEN", "env-token")
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.StockDataAPI.APIToken != "env-token" {
		t.Errorf("env override not applied: %s", cfg.StockDataAPI.APIToken)
	}
}

func TestLoadConfigRejectsBadOutput(t *testing.T) {
	t.Setenv("STOCKDATA_API_TOKEN", "")
	content := minimalConfig + "gold:\n  intraday_output: everything\n"
	if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadConfigRequiresToken(t *testing.T) {
	t.Setenv("STOCKDATA_API_TOKEN", "")
	content := `stocklake:
  name: "TestLake"
  version: "1.0"
symbols: ["TSLA"]
`
	if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestLoadSymbolsFile(t *testing.T) {
	t.Setenv("STOCKDATA_API_TOKEN", "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "symbols.yml"), []byte("symbols: [\"NVDA\", \"MSFT\"]\n"), 0o644); err != nil {
		t.Fatalf("write symbols: %v", err)
	}
	path := filepath.Join(dir, "config.yml")
	content := minimalConfig + "symbols_file: symbols.yml\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	want := []string{"TSLA", "AMD", "NVDA", "MSFT"}
	if len(cfg.Symbols) != len(want) {
		t.Fatalf("unexpected symbols: %v", cfg.Symbols)
	}
	for i := range want {
		if cfg.Symbols[i] != want[i] {
			t.Errorf("symbol %d = %s, want %s", i, cfg.Symbols[i], want[i])
		}
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	envPaths := map[string]string{EnvironmentProduction: "config/config.production.yml"}

	t.Setenv("APP_ENV", "prod")
	if got := resolveEnvSpecificPath("", DefaultConfigPath, envPaths); got != "config/config.production.yml" {
		t.Errorf("production path not selected: %s", got)
	}
	if got := resolveEnvSpecificPath("custom.yml", DefaultConfigPath, envPaths); got != "custom.yml" {
		t.Errorf("explicit path overridden: %s", got)
	}

	t.Setenv("APP_ENV", "")
	if got := resolveEnvSpecificPath("", DefaultConfigPath, envPaths); got != DefaultConfigPath {
		t.Errorf("default path not kept: %s", got)
	}
}

func TestDefaultLogFormatFollowsEnvironment(t *testing.T) {
	t.Setenv("STOCKDATA_API_TOKEN", "")
	path := writeTempConfig(t, minimalConfig)

	for env, want := range map[string]string{"": "text", "prod": "json", "staging": "json", "qa": "text"} {
		t.Setenv("APP_ENV", env)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(APP_ENV=%q): %v", env, err)
		}
		if cfg.Logging.Format != want {
			t.Errorf("APP_ENV=%q: format %q, want %q", env, cfg.Logging.Format, want)
		}
	}

	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig+"logging:\n  format: \"text\"\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("configured format overridden: %s", cfg.Logging.Format)
	}
}
