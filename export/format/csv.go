package format

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"
)

const csvMimeType = "text/csv"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVGenerator renders records as delimiter-separated text.
type CSVGenerator struct {
	cfg *Config
}

// NewCSVGenerator creates the CSV generator.
func NewCSVGenerator(cfg *Config) *CSVGenerator {
	if cfg == nil {
		cfg = DefaultGeneratorConfig()
	}
	return &CSVGenerator{cfg: cfg}
}

func (g *CSVGenerator) Format() Format { return CSV }

func (g *CSVGenerator) Descriptor() Descriptor {
	return Descriptor{
		Format:        CSV,
		MimeTypes:     []string{csvMimeType, "text/plain"},
		DefaultConfig: *g.cfg,
		Streaming:     true,
	}
}

func (g *CSVGenerator) SupportsStreaming() bool { return true }

func (g *CSVGenerator) CompressionOptions() CompressionOptions {
	return CompressionOptions{Supported: true, Level: g.cfg.CompressionLevel}
}

// ValidateOptions fails fast on structurally invalid CSV options.
func (g *CSVGenerator) ValidateOptions(opts *Options) error {
	return opts.validateTabular()
}

// EstimateOutputSize is a deterministic heuristic, monotonically
// non-decreasing in both arguments: header plus ~16 bytes per cell.
func (g *CSVGenerator) EstimateOutputSize(recordCount, fieldCount int) int64 {
	if recordCount < 0 {
		recordCount = 0
	}
	if fieldCount < 0 {
		fieldCount = 0
	}
	perRow := int64(fieldCount)*16 + 2
	return perRow * int64(recordCount+1)
}

// Generate renders the whole input in one buffer.
func (g *CSVGenerator) Generate(ctx context.Context, input *Input, opts *Options) (result *Result) {
	defer capturePanic(CSV, csvMimeType, &result)
	start := time.Now()

	if err := g.ValidateOptions(opts); err != nil {
		return failed(CSV, csvMimeType, err)
	}
	o := opts.Normalize()
	report(input.OnProgress, 5, "init")

	var buf bytes.Buffer
	if o.Encoding == "utf-8-bom" {
		buf.Write(utf8BOM)
	}

	w := csv.NewWriter(&buf)
	w.Comma = []rune(o.Delimiter)[0]

	if err := w.Write(headerRow(input.Fields, o)); err != nil {
		return failed(CSV, csvMimeType, err)
	}
	report(input.OnProgress, 15, "prepare")

	for i, record := range input.Records {
		select {
		case <-ctx.Done():
			return failed(CSV, csvMimeType, ctx.Err())
		default:
		}
		if err := w.Write(rowValues(record, input.Fields, o)); err != nil {
			return failed(CSV, csvMimeType, err)
		}
		reportWriteProgress(input.OnProgress, i+1, len(input.Records))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return failed(CSV, csvMimeType, err)
	}

	out, compressed, err := finishBuffer(buf.Bytes(), o, g.CompressionOptions())
	if err != nil {
		return failed(CSV, csvMimeType, err)
	}
	if int64(len(out)) > g.cfg.MaxFileSize {
		return failed(CSV, csvMimeType, fmt.Errorf("output size %d exceeds max file size %d", len(out), g.cfg.MaxFileSize))
	}
	report(input.OnProgress, 100, "finalize")

	return &Result{
		Success: true,
		Buffer:  out,
		Metadata: Metadata{
			Format:      CSV,
			MimeType:    csvMimeType,
			RecordCount: len(input.Records),
			ByteSize:    int64(len(out)),
			Duration:    time.Since(start),
			Compressed:  compressed,
		},
	}
}

// OpenStream starts a streaming CSV generation.
func (g *CSVGenerator) OpenStream(ctx context.Context, fields []string, opts *Options, onProgress Progress) (Stream, error) {
	if err := g.ValidateOptions(opts); err != nil {
		return nil, err
	}
	o := opts.Normalize()

	s := &csvStream{
		ctx:        ctx,
		gen:        g,
		opts:       o,
		fields:     fields,
		onProgress: onProgress,
		start:      time.Now(),
	}
	if o.Encoding == "utf-8-bom" {
		s.buf.Write(utf8BOM)
	}
	s.w = csv.NewWriter(&s.buf)
	s.w.Comma = []rune(o.Delimiter)[0]

	if err := s.w.Write(headerRow(fields, o)); err != nil {
		return nil, err
	}
	report(onProgress, 10, "init")
	return s, nil
}

type csvStream struct {
	ctx        context.Context
	gen        *CSVGenerator
	opts       *Options
	fields     []string
	onProgress Progress
	start      time.Time

	buf     bytes.Buffer
	w       *csv.Writer
	written int
}

// WriteBatch appends one batch and flushes it before returning.
func (s *csvStream) WriteBatch(records []Record) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	for _, record := range records {
		if err := s.w.Write(rowValues(record, s.fields, s.opts)); err != nil {
			return err
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}

	s.written += len(records)
	if int64(s.buf.Len()) > s.gen.cfg.MaxFileSize {
		return fmt.Errorf("output size %d exceeds max file size %d", s.buf.Len(), s.gen.cfg.MaxFileSize)
	}
	report(s.onProgress, 50, "write")
	return nil
}

// Close finalizes the stream and returns the result.
func (s *csvStream) Close() (*Result, error) {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return failed(CSV, csvMimeType, err), err
	}

	out, compressed, err := finishBuffer(s.buf.Bytes(), s.opts, s.gen.CompressionOptions())
	if err != nil {
		return failed(CSV, csvMimeType, err), err
	}
	report(s.onProgress, 100, "finalize")

	return &Result{
		Success: true,
		Buffer:  out,
		Metadata: Metadata{
			Format:      CSV,
			MimeType:    csvMimeType,
			RecordCount: s.written,
			ByteSize:    int64(len(out)),
			Duration:    time.Since(s.start),
			Compressed:  compressed,
		},
	}, nil
}

// report invokes a progress callback when present.
func report(p Progress, percent int, stage string) {
	if p != nil {
		p(percent, stage)
	}
}

// reportWriteProgress maps rows written onto the 20-90 band of the
// fixed progress script.
func reportWriteProgress(p Progress, written, total int) {
	if p == nil || total <= 0 {
		return
	}
	percent := 20 + written*70/total
	if percent > 90 {
		percent = 90
	}
	p(percent, "write")
}

// finishBuffer applies requested compression to a finished buffer.
func finishBuffer(data []byte, opts *Options, c CompressionOptions) ([]byte, bool, error) {
	if !opts.Compress || !c.Supported {
		return data, false, nil
	}
	out, err := gzipBytes(data, c.Level)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
