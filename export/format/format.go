// Package format defines the output-format generator contract and the
// CSV, JSON, Excel and PDF implementations that satisfy it.
package format

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Format identifies an output format. The set is closed: generators are
// registered once at startup, never discovered at runtime.
type Format string

const (
	CSV   Format = "csv"
	Excel Format = "excel"
	JSON  Format = "json"
	PDF   Format = "pdf"
)

// Record is one schema-agnostic row handed to a generator.
type Record map[string]any

// Config carries per-generator limits and thresholds.
type Config struct {
	MaxFileSize        int64 // hard cap on encoded output bytes
	StreamingThreshold int   // record count above which streaming mode is preferred
	CompressionLevel   int   // gzip level when compression is requested
	TempDir            string
}

// DefaultGeneratorConfig returns the limits used when none are supplied.
func DefaultGeneratorConfig() *Config {
	return &Config{
		MaxFileSize:        1 << 30,
		StreamingThreshold: 10_000,
		CompressionLevel:   6,
	}
}

// CompressionOptions describes how a generator compresses its output.
type CompressionOptions struct {
	Supported bool
	Level     int
}

// Descriptor describes a registered generator.
type Descriptor struct {
	Format        Format
	MimeTypes     []string
	DefaultConfig Config
	Streaming     bool
}

// Metadata describes a generated output buffer.
type Metadata struct {
	Format      Format        `json:"format"`
	MimeType    string        `json:"mimeType"`
	RecordCount int           `json:"recordCount"`
	SheetCount  int           `json:"sheetCount,omitempty"`
	ByteSize    int64         `json:"byteSize"`
	Duration    time.Duration `json:"duration"`
	Compressed  bool          `json:"compressed"`
	TempFiles   []string      `json:"-"`
}

// Result is what a generator returns. Generate never panics or returns a
// bare error across the boundary: failures are captured here with
// Success false and an empty buffer.
type Result struct {
	Success  bool
	Buffer   []byte
	Metadata Metadata
	Error    error
}

// Progress receives generation checkpoints as 0-100 percentages. The
// checkpoint script per generator is fixed so consumers can render a
// deterministic bar regardless of dataset size.
type Progress func(percent int, stage string)

// Input is the rendered dataset handed to a generator in buffered mode.
type Input struct {
	Records    []Record
	Fields     []string
	OnProgress Progress
}

// Stream consumes record batches in streaming mode. Each WriteBatch
// commits the batch to the underlying encoder before returning, bounding
// peak memory to one batch. Close finalizes and returns the result.
type Stream interface {
	WriteBatch(records []Record) error
	Close() (*Result, error)
}

// Generator is implemented once per output format.
type Generator interface {
	Format() Format
	Descriptor() Descriptor
	ValidateOptions(opts *Options) error
	EstimateOutputSize(recordCount, fieldCount int) int64
	SupportsStreaming() bool
	CompressionOptions() CompressionOptions

	// Generate renders the full input in one pass (buffered mode).
	Generate(ctx context.Context, input *Input, opts *Options) *Result

	// OpenStream begins a streaming generation. Generators whose
	// SupportsStreaming is false return ErrStreamingUnsupported.
	OpenStream(ctx context.Context, fields []string, opts *Options, onProgress Progress) (Stream, error)
}

// Registry maps formats to generators. Built at startup, read-only after.
type Registry struct {
	mu         sync.RWMutex
	generators map[Format]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[Format]Generator)}
}

// DefaultRegistry builds a registry holding all four generators.
func DefaultRegistry(cfg *Config) *Registry {
	if cfg == nil {
		cfg = DefaultGeneratorConfig()
	}
	r := NewRegistry()
	r.Register(NewCSVGenerator(cfg))
	r.Register(NewJSONGenerator(cfg))
	r.Register(NewExcelGenerator(cfg))
	r.Register(NewPDFGenerator(cfg))
	return r
}

// Register adds a generator. Later registrations for a format replace
// earlier ones.
func (r *Registry) Register(g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[g.Format()] = g
}

// Get returns the generator for a format.
func (r *Registry) Get(f Format) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[f]
	return g, ok
}

// Formats returns the registered formats sorted by name.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]Format, 0, len(r.generators))
	for f := range r.generators {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

// Descriptors returns descriptors for every registered generator.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.generators))
	for _, g := range r.generators {
		descriptors = append(descriptors, g.Descriptor())
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Format < descriptors[j].Format })
	return descriptors
}

// failed builds a failure result carrying err.
func failed(f Format, mime string, err error) *Result {
	return &Result{
		Success:  false,
		Metadata: Metadata{Format: f, MimeType: mime},
		Error:    err,
	}
}

// capturePanic converts a generator panic into a FormatError result.
func capturePanic(f Format, mime string, result **Result) {
	if r := recover(); r != nil {
		*result = failed(f, mime, fmt.Errorf("generator panic: %v", r))
	}
}
