package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
catalog:
  source: embedded

stream:
  paths:
    - /var/log/app.log
    - /var/log/app2.log
  template: "%{COMBINEDAPACHELOG}"
  checkpoint_interval: 10s

logging:
  level: debug
  format: json

export:
  type: stdout
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Stream == nil {
		t.Fatal("expected stream config to be set")
	}
	if len(cfg.Stream.Paths) != 2 {
		t.Errorf("Expected 2 paths, got %d", len(cfg.Stream.Paths))
	}

	if cfg.Stream.CheckpointInterval != 10*time.Second {
		t.Errorf("Expected checkpoint interval 10s, got %v", cfg.Stream.CheckpointInterval)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	os.Setenv("LOG_LEVEL", "warn")
	defer os.Unsetenv("LOG_LEVEL")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
catalog:
  source: embedded

logging:
  level: ${LOG_LEVEL}
  format: json

export:
  type: stdout
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn (from env var), got %s", cfg.Logging.Level)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid embedded config",
			config: &Config{
				Catalog: CatalogConfig{Source: "embedded"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Export:  ExportConfig{Type: "stdout"},
			},
			wantErr: false,
		},
		{
			name: "invalid catalog source",
			config: &Config{
				Catalog: CatalogConfig{Source: "ftp"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Export:  ExportConfig{Type: "stdout"},
			},
			wantErr: true,
		},
		{
			name: "dir source without path",
			config: &Config{
				Catalog: CatalogConfig{Source: "dir"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Export:  ExportConfig{Type: "stdout"},
			},
			wantErr: true,
		},
		{
			name: "s3 source without bucket",
			config: &Config{
				Catalog: CatalogConfig{Source: "s3"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Export:  ExportConfig{Type: "stdout"},
			},
			wantErr: true,
		},
		{
			name: "stream without template",
			config: &Config{
				Catalog: CatalogConfig{Source: "embedded"},
				Stream:  &StreamConfig{Paths: []string{"/var/log/app.log"}},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Export:  ExportConfig{Type: "stdout"},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: &Config{
				Catalog: CatalogConfig{Source: "embedded"},
				Logging: LoggingConfig{Level: "invalid", Format: "json"},
				Export:  ExportConfig{Type: "stdout"},
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			config: &Config{
				Catalog: CatalogConfig{Source: "embedded"},
				Logging: LoggingConfig{Level: "info", Format: "invalid"},
				Export:  ExportConfig{Type: "stdout"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.applyDefaults()
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultLogLevel, cfg.Logging.Level)
	}

	if cfg.Export.Type != "stdout" {
		t.Errorf("Expected default export type stdout, got %s", cfg.Export.Type)
	}

	if !cfg.Compiler.RenamesReserved() {
		t.Error("expected RenamesReserved to default to true")
	}
}
