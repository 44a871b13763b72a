package config

import (
	"time"

	"github.com/spf13/viper"
)

// Exporter holds the export engine configuration.
type Exporter struct {
	MaxConcurrentExports int
	DefaultBatchSize     int
	MaxRecordsPerExport  int
	TempFileLifetime     time.Duration
	CleanupInterval      time.Duration
	MemoryThreshold      int64
	CompressionEnabled   bool
	AllowedFormats       []string
	MaxFileSize          int64
	TempDir              string
}

// DefaultExporter returns the exporter defaults used when keys are absent.
func DefaultExporter() *Exporter {
	return &Exporter{
		MaxConcurrentExports: 5,
		DefaultBatchSize:     1000,
		MaxRecordsPerExport:  1_000_000,
		TempFileLifetime:     time.Hour,
		CleanupInterval:      10 * time.Minute,
		MemoryThreshold:      512 << 20, // 512 MiB
		CompressionEnabled:   false,
		AllowedFormats:       []string{"csv", "excel", "json", "pdf"},
		MaxFileSize:          1 << 30, // 1 GiB
		TempDir:              "",      // os.TempDir when empty
	}
}

func getExporterConfig(v *viper.Viper) *Exporter {
	cfg := DefaultExporter()

	cfg.MaxConcurrentExports = getIntOrDefault(v, "exporter.max_concurrent_exports", cfg.MaxConcurrentExports)
	cfg.DefaultBatchSize = getIntOrDefault(v, "exporter.default_batch_size", cfg.DefaultBatchSize)
	cfg.MaxRecordsPerExport = getIntOrDefault(v, "exporter.max_records_per_export", cfg.MaxRecordsPerExport)
	cfg.TempFileLifetime = getDurationOrDefault(v, "exporter.temp_file_lifetime", cfg.TempFileLifetime)
	cfg.CleanupInterval = getDurationOrDefault(v, "exporter.cleanup_interval", cfg.CleanupInterval)
	cfg.MemoryThreshold = getInt64OrDefault(v, "exporter.memory_threshold", cfg.MemoryThreshold)
	cfg.MaxFileSize = getInt64OrDefault(v, "exporter.max_file_size", cfg.MaxFileSize)
	if v.IsSet("exporter.compression_enabled") {
		cfg.CompressionEnabled = v.GetBool("exporter.compression_enabled")
	}
	if v.IsSet("exporter.allowed_formats") {
		cfg.AllowedFormats = v.GetStringSlice("exporter.allowed_formats")
	}
	cfg.TempDir = v.GetString("exporter.temp_dir")

	return cfg
}
