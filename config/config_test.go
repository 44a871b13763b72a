package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app_name: networkdb-export
run_mode: debug
logger:
  level: 4
  format: json
  output: stdout
exporter:
  max_concurrent_exports: 3
  default_batch_size: 500
  max_records_per_export: 10000
  temp_file_lifetime: 30m
  cleanup_interval: 5m
  allowed_formats:
    - csv
    - json
source:
  driver: sqlite3
  dsn: file:test.db
  tables:
    vpc: vpcs
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.AppName != "networkdb-export" {
		t.Errorf("Unexpected app name: %q", cfg.AppName)
	}
	if cfg.Logger.Level != 4 || cfg.Logger.Format != "json" {
		t.Errorf("Unexpected logger config: %+v", cfg.Logger)
	}

	e := cfg.Exporter
	if e.MaxConcurrentExports != 3 {
		t.Errorf("Unexpected max concurrent: %d", e.MaxConcurrentExports)
	}
	if e.DefaultBatchSize != 500 || e.MaxRecordsPerExport != 10000 {
		t.Errorf("Unexpected batch settings: %d, %d", e.DefaultBatchSize, e.MaxRecordsPerExport)
	}
	if e.TempFileLifetime != 30*time.Minute || e.CleanupInterval != 5*time.Minute {
		t.Errorf("Unexpected durations: %v, %v", e.TempFileLifetime, e.CleanupInterval)
	}
	if len(e.AllowedFormats) != 2 || e.AllowedFormats[0] != "csv" {
		t.Errorf("Unexpected allowed formats: %v", e.AllowedFormats)
	}
	// Keys absent from the file keep their defaults.
	if e.MemoryThreshold != DefaultExporter().MemoryThreshold {
		t.Errorf("Default not applied: %d", e.MemoryThreshold)
	}

	if cfg.Source.Driver != "sqlite3" || cfg.Source.Tables["vpc"] != "vpcs" {
		t.Errorf("Unexpected source config: %+v", cfg.Source)
	}
}

func TestDefaultExporter(t *testing.T) {
	e := DefaultExporter()
	if e.MaxConcurrentExports != 5 {
		t.Errorf("Unexpected default concurrency: %d", e.MaxConcurrentExports)
	}
	if len(e.AllowedFormats) != 4 {
		t.Errorf("Unexpected default formats: %v", e.AllowedFormats)
	}
	if e.TempFileLifetime != time.Hour {
		t.Errorf("Unexpected default lifetime: %v", e.TempFileLifetime)
	}
}
