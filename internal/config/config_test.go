package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %s, want text", cfg.LogFormat)
	}
	if cfg.DataDir != "." {
		t.Errorf("DataDir = %s, want .", cfg.DataDir)
	}
	if cfg.Metrics.Enabled {
		t.Errorf("Metrics.Enabled = true, want false")
	}
	if cfg.MaxBytesPerSec != 0 {
		t.Errorf("MaxBytesPerSec = %d, want 0", cfg.MaxBytesPerSec)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
log_level: debug
log_format: json
data_dir: /var/lib/fileup
metrics:
  enabled: true
  address: "127.0.0.1:9191"
max_bytes_per_sec: 1048576
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %s, want json", cfg.LogFormat)
	}
	if cfg.DataDir != "/var/lib/fileup" {
		t.Errorf("DataDir = %s, want /var/lib/fileup", cfg.DataDir)
	}
	if !cfg.Metrics.Enabled {
		t.Errorf("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Address != "127.0.0.1:9191" {
		t.Errorf("Metrics.Address = %s, want 127.0.0.1:9191", cfg.Metrics.Address)
	}
	if cfg.MaxBytesPerSec != 1048576 {
		t.Errorf("MaxBytesPerSec = %d, want 1048576", cfg.MaxBytesPerSec)
	}
}

func TestParse_EnvVarExpansion(t *testing.T) {
	os.Setenv("FILEUP_DATA_DIR", "/tmp/fileup-data")
	defer os.Unsetenv("FILEUP_DATA_DIR")

	yamlConfig := `
log_level: info
log_format: text
data_dir: ${FILEUP_DATA_DIR}
max_bytes_per_sec: 0
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DataDir != "/tmp/fileup-data" {
		t.Errorf("DataDir = %s, want /tmp/fileup-data", cfg.DataDir)
	}
}

func TestParse_EnvVarDefault(t *testing.T) {
	os.Unsetenv("FILEUP_MISSING_VAR")

	yamlConfig := `
log_level: info
log_format: text
data_dir: ${FILEUP_MISSING_VAR:-./fallback}
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DataDir != "./fallback" {
		t.Errorf("DataDir = %s, want ./fallback", cfg.DataDir)
	}
}

func TestParse_InvalidLogLevel(t *testing.T) {
	yamlConfig := `
log_level: chatty
log_format: text
data_dir: .
`
	_, err := Parse([]byte(yamlConfig))
	if err == nil {
		t.Fatal("expected error for invalid log_level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error = %v, want mention of log_level", err)
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := &Config{
		LogLevel:       "loud",
		LogFormat:      "xml",
		DataDir:        "",
		Metrics:        MetricsConfig{Enabled: true, Address: ""},
		MaxBytesPerSec: -1,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_level", "log_format", "data_dir", "metrics.address", "max_bytes_per_sec"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing mention of %q", err.Error(), want)
		}
	}
}

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != Default().LogLevel {
		t.Errorf("Load of missing file did not return defaults")
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fileup.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\nlog_format: text\ndata_dir: .\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn", cfg.LogLevel)
	}
}
