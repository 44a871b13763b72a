package format

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"
)

const excelMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExcelGenerator renders records as a single-sheet xlsx workbook.
type ExcelGenerator struct {
	cfg *Config
}

// NewExcelGenerator creates the Excel generator.
func NewExcelGenerator(cfg *Config) *ExcelGenerator {
	if cfg == nil {
		cfg = DefaultGeneratorConfig()
	}
	return &ExcelGenerator{cfg: cfg}
}

func (g *ExcelGenerator) Format() Format { return Excel }

func (g *ExcelGenerator) Descriptor() Descriptor {
	return Descriptor{
		Format:        Excel,
		MimeTypes:     []string{excelMimeType},
		DefaultConfig: *g.cfg,
		Streaming:     true,
	}
}

func (g *ExcelGenerator) SupportsStreaming() bool { return true }

// CompressionOptions: xlsx is already a zip container, recompressing
// buys nothing.
func (g *ExcelGenerator) CompressionOptions() CompressionOptions {
	return CompressionOptions{Supported: false}
}

// ValidateOptions fails fast on structurally invalid Excel options.
func (g *ExcelGenerator) ValidateOptions(opts *Options) error {
	if err := opts.validateTabular(); err != nil {
		return err
	}
	o := opts.Normalize()
	if len(o.SheetName) > 31 {
		return fmt.Errorf("sheet name %q exceeds the 31 character limit", o.SheetName)
	}
	return nil
}

// EstimateOutputSize assumes ~12 bytes per cell after zip compression,
// plus the fixed workbook scaffolding.
func (g *ExcelGenerator) EstimateOutputSize(recordCount, fieldCount int) int64 {
	if recordCount < 0 {
		recordCount = 0
	}
	if fieldCount < 0 {
		fieldCount = 0
	}
	return 6_000 + int64(recordCount+1)*int64(fieldCount)*12
}

// Generate renders the whole input into an in-memory workbook.
func (g *ExcelGenerator) Generate(ctx context.Context, input *Input, opts *Options) (result *Result) {
	defer capturePanic(Excel, excelMimeType, &result)
	start := time.Now()

	if err := g.ValidateOptions(opts); err != nil {
		return failed(Excel, excelMimeType, err)
	}
	o := opts.Normalize()
	report(input.OnProgress, 5, "init")

	f := excelize.NewFile()
	defer f.Close()

	sheet := o.SheetName
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return failed(Excel, excelMimeType, err)
	}

	header := toAnySlice(headerRow(input.Fields, o))
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return failed(Excel, excelMimeType, err)
	}
	report(input.OnProgress, 15, "prepare")

	for i, record := range input.Records {
		select {
		case <-ctx.Done():
			return failed(Excel, excelMimeType, ctx.Err())
		default:
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return failed(Excel, excelMimeType, err)
		}
		row := toAnySlice(rowValues(record, input.Fields, o))
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return failed(Excel, excelMimeType, err)
		}
		reportWriteProgress(input.OnProgress, i+1, len(input.Records))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return failed(Excel, excelMimeType, err)
	}
	if int64(buf.Len()) > g.cfg.MaxFileSize {
		return failed(Excel, excelMimeType, fmt.Errorf("output size %d exceeds max file size %d", buf.Len(), g.cfg.MaxFileSize))
	}
	report(input.OnProgress, 100, "finalize")

	return &Result{
		Success: true,
		Buffer:  buf.Bytes(),
		Metadata: Metadata{
			Format:      Excel,
			MimeType:    excelMimeType,
			RecordCount: len(input.Records),
			SheetCount:  1,
			ByteSize:    int64(buf.Len()),
			Duration:    time.Since(start),
		},
	}
}

// OpenStream starts a streaming Excel generation. Rows flow through the
// excelize stream writer and the finished workbook is spooled to a temp
// file under the configured temp dir; the path is surfaced as a temp
// artifact for the cleanup sweep.
func (g *ExcelGenerator) OpenStream(ctx context.Context, fields []string, opts *Options, onProgress Progress) (Stream, error) {
	if err := g.ValidateOptions(opts); err != nil {
		return nil, err
	}
	o := opts.Normalize()

	f := excelize.NewFile()
	sheet := o.SheetName
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := sw.SetRow("A1", toAnySlice(headerRow(fields, o))); err != nil {
		f.Close()
		return nil, err
	}
	report(onProgress, 10, "init")

	return &excelStream{
		ctx:        ctx,
		gen:        g,
		opts:       o,
		fields:     fields,
		onProgress: onProgress,
		start:      time.Now(),
		file:       f,
		sw:         sw,
		nextRow:    2,
	}, nil
}

type excelStream struct {
	ctx        context.Context
	gen        *ExcelGenerator
	opts       *Options
	fields     []string
	onProgress Progress
	start      time.Time

	file    *excelize.File
	sw      *excelize.StreamWriter
	nextRow int
	written int
}

func (s *excelStream) WriteBatch(records []Record) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	for _, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, s.nextRow)
		if err != nil {
			return err
		}
		if err := s.sw.SetRow(cell, toAnySlice(rowValues(record, s.fields, s.opts))); err != nil {
			return err
		}
		s.nextRow++
	}

	s.written += len(records)
	report(s.onProgress, 50, "write")
	return nil
}

func (s *excelStream) Close() (*Result, error) {
	defer s.file.Close()

	fail := func(err error) (*Result, error) {
		return failed(Excel, excelMimeType, err), err
	}

	if err := s.sw.Flush(); err != nil {
		return fail(err)
	}

	tmp, err := os.CreateTemp(s.gen.cfg.TempDir, "export-*.xlsx")
	if err != nil {
		return fail(err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := s.file.SaveAs(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fail(err)
	}

	out, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fail(err)
	}
	if int64(len(out)) > s.gen.cfg.MaxFileSize {
		os.Remove(tmpPath)
		return fail(fmt.Errorf("output size %d exceeds max file size %d", len(out), s.gen.cfg.MaxFileSize))
	}
	report(s.onProgress, 100, "finalize")

	return &Result{
		Success: true,
		Buffer:  out,
		Metadata: Metadata{
			Format:      Excel,
			MimeType:    excelMimeType,
			RecordCount: s.written,
			SheetCount:  1,
			ByteSize:    int64(len(out)),
			Duration:    time.Since(s.start),
			TempFiles:   []string{tmpPath},
		},
	}, nil
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
