package format

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const jsonMimeType = "application/json"

// JSONGenerator renders records as a JSON array, preserving native
// nested structures rather than flattening them into cells.
type JSONGenerator struct {
	cfg *Config
}

// NewJSONGenerator creates the JSON generator.
func NewJSONGenerator(cfg *Config) *JSONGenerator {
	if cfg == nil {
		cfg = DefaultGeneratorConfig()
	}
	return &JSONGenerator{cfg: cfg}
}

func (g *JSONGenerator) Format() Format { return JSON }

func (g *JSONGenerator) Descriptor() Descriptor {
	return Descriptor{
		Format:        JSON,
		MimeTypes:     []string{jsonMimeType},
		DefaultConfig: *g.cfg,
		Streaming:     true,
	}
}

func (g *JSONGenerator) SupportsStreaming() bool { return true }

func (g *JSONGenerator) CompressionOptions() CompressionOptions {
	return CompressionOptions{Supported: true, Level: g.cfg.CompressionLevel}
}

// ValidateOptions checks JSON-specific options. The tabular delimiter
// rules do not apply; only custom headers are checked, since a field
// renaming map with duplicate targets would lose data silently.
func (g *JSONGenerator) ValidateOptions(opts *Options) error {
	if opts == nil {
		return nil
	}
	return validateHeaders(opts.Headers)
}

// EstimateOutputSize assumes ~24 bytes per encoded key/value pair.
func (g *JSONGenerator) EstimateOutputSize(recordCount, fieldCount int) int64 {
	if recordCount < 0 {
		recordCount = 0
	}
	if fieldCount < 0 {
		fieldCount = 0
	}
	return int64(recordCount)*(int64(fieldCount)*24+4) + 2
}

// Generate renders the whole input as one JSON array.
func (g *JSONGenerator) Generate(ctx context.Context, input *Input, opts *Options) (result *Result) {
	defer capturePanic(JSON, jsonMimeType, &result)
	start := time.Now()

	if err := g.ValidateOptions(opts); err != nil {
		return failed(JSON, jsonMimeType, err)
	}
	o := opts.Normalize()
	report(input.OnProgress, 5, "init")

	projected := make([]map[string]any, 0, len(input.Records))
	for i, record := range input.Records {
		select {
		case <-ctx.Done():
			return failed(JSON, jsonMimeType, ctx.Err())
		default:
		}
		projected = append(projected, projectJSON(record, input.Fields))
		reportWriteProgress(input.OnProgress, i+1, len(input.Records))
	}

	var (
		out []byte
		err error
	)
	if o.Pretty {
		out, err = json.MarshalIndent(projected, "", "  ")
	} else {
		out, err = json.Marshal(projected)
	}
	if err != nil {
		return failed(JSON, jsonMimeType, err)
	}

	out, compressed, err := finishBuffer(out, o, g.CompressionOptions())
	if err != nil {
		return failed(JSON, jsonMimeType, err)
	}
	if int64(len(out)) > g.cfg.MaxFileSize {
		return failed(JSON, jsonMimeType, fmt.Errorf("output size %d exceeds max file size %d", len(out), g.cfg.MaxFileSize))
	}
	report(input.OnProgress, 100, "finalize")

	return &Result{
		Success: true,
		Buffer:  out,
		Metadata: Metadata{
			Format:      JSON,
			MimeType:    jsonMimeType,
			RecordCount: len(input.Records),
			ByteSize:    int64(len(out)),
			Duration:    time.Since(start),
			Compressed:  compressed,
		},
	}
}

// OpenStream starts a streaming JSON generation: the array is emitted
// incrementally, one encoded batch at a time.
func (g *JSONGenerator) OpenStream(ctx context.Context, fields []string, opts *Options, onProgress Progress) (Stream, error) {
	if err := g.ValidateOptions(opts); err != nil {
		return nil, err
	}
	o := opts.Normalize()

	s := &jsonStream{
		ctx:        ctx,
		gen:        g,
		opts:       o,
		fields:     fields,
		onProgress: onProgress,
		start:      time.Now(),
	}
	s.buf.WriteByte('[')
	report(onProgress, 10, "init")
	return s, nil
}

type jsonStream struct {
	ctx        context.Context
	gen        *JSONGenerator
	opts       *Options
	fields     []string
	onProgress Progress
	start      time.Time

	buf     bytes.Buffer
	written int
}

func (s *jsonStream) WriteBatch(records []Record) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	for _, record := range records {
		encoded, err := json.Marshal(projectJSON(record, s.fields))
		if err != nil {
			return err
		}
		if s.written > 0 {
			s.buf.WriteByte(',')
		}
		s.buf.Write(encoded)
		s.written++
	}

	if int64(s.buf.Len()) > s.gen.cfg.MaxFileSize {
		return fmt.Errorf("output size %d exceeds max file size %d", s.buf.Len(), s.gen.cfg.MaxFileSize)
	}
	report(s.onProgress, 50, "write")
	return nil
}

func (s *jsonStream) Close() (*Result, error) {
	s.buf.WriteByte(']')

	out, compressed, err := finishBuffer(s.buf.Bytes(), s.opts, s.gen.CompressionOptions())
	if err != nil {
		return failed(JSON, jsonMimeType, err), err
	}
	report(s.onProgress, 100, "finalize")

	return &Result{
		Success: true,
		Buffer:  out,
		Metadata: Metadata{
			Format:      JSON,
			MimeType:    jsonMimeType,
			RecordCount: s.written,
			ByteSize:    int64(len(out)),
			Duration:    time.Since(s.start),
			Compressed:  compressed,
		},
	}, nil
}

// projectJSON keeps only the requested fields, preserving native values.
// An empty field list keeps the record as-is.
func projectJSON(record Record, fields []string) map[string]any {
	if len(fields) == 0 {
		return record
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if v, ok := record[field]; ok {
			out[field] = v
		}
	}
	return out
}
