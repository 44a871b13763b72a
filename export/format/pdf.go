package format

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const pdfMimeType = "application/pdf"

var pdfPageSizes = map[string]bool{
	"A3":     true,
	"A4":     true,
	"A5":     true,
	"Letter": true,
	"Legal":  true,
}

// PDFGenerator renders records as a tabular PDF. It is buffered-only:
// page layout needs the full dataset, so the scheduler collects all
// batches before handing them over.
type PDFGenerator struct {
	cfg *Config
}

// NewPDFGenerator creates the PDF generator.
func NewPDFGenerator(cfg *Config) *PDFGenerator {
	if cfg == nil {
		cfg = DefaultGeneratorConfig()
	}
	return &PDFGenerator{cfg: cfg}
}

func (g *PDFGenerator) Format() Format { return PDF }

func (g *PDFGenerator) Descriptor() Descriptor {
	return Descriptor{
		Format:        PDF,
		MimeTypes:     []string{pdfMimeType},
		DefaultConfig: *g.cfg,
		Streaming:     false,
	}
}

func (g *PDFGenerator) SupportsStreaming() bool { return false }

func (g *PDFGenerator) CompressionOptions() CompressionOptions {
	// gofpdf already deflates page streams.
	return CompressionOptions{Supported: false}
}

// ValidateOptions fails fast on structurally invalid PDF options.
func (g *PDFGenerator) ValidateOptions(opts *Options) error {
	if opts == nil {
		return nil
	}
	o := opts.Normalize()
	if !pdfPageSizes[o.PageSize] {
		return fmt.Errorf("unsupported page size %q", o.PageSize)
	}
	if o.Orientation != "P" && o.Orientation != "L" {
		return fmt.Errorf("orientation must be \"P\" or \"L\", got %q", o.Orientation)
	}
	return validateHeaders(o.Headers)
}

// EstimateOutputSize assumes ~10 bytes per cell of deflated content
// plus the document scaffolding.
func (g *PDFGenerator) EstimateOutputSize(recordCount, fieldCount int) int64 {
	if recordCount < 0 {
		recordCount = 0
	}
	if fieldCount < 0 {
		fieldCount = 0
	}
	return 2_000 + int64(recordCount+1)*int64(fieldCount)*10
}

// OpenStream always fails: PDF generation is buffered-only.
func (g *PDFGenerator) OpenStream(context.Context, []string, *Options, Progress) (Stream, error) {
	return nil, ErrStreamingUnsupported
}

// Generate renders the whole input into a PDF table.
func (g *PDFGenerator) Generate(ctx context.Context, input *Input, opts *Options) (result *Result) {
	defer capturePanic(PDF, pdfMimeType, &result)
	start := time.Now()

	if err := g.ValidateOptions(opts); err != nil {
		return failed(PDF, pdfMimeType, err)
	}
	o := opts.Normalize()
	report(input.OnProgress, 5, "init")

	pdf := gofpdf.New(o.Orientation, "mm", o.PageSize, "")
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageW - left - right

	headers := headerRow(input.Fields, o)
	colW := usable / float64(maxInt(len(headers), 1))

	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for _, h := range headers {
		pdf.CellFormat(colW, 7, truncateCell(h, colW), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	report(input.OnProgress, 15, "prepare")

	pdf.SetFont("Helvetica", "", 8)
	for i, record := range input.Records {
		select {
		case <-ctx.Done():
			return failed(PDF, pdfMimeType, ctx.Err())
		default:
		}
		for _, v := range rowValues(record, input.Fields, o) {
			pdf.CellFormat(colW, 6, truncateCell(v, colW), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		reportWriteProgress(input.OnProgress, i+1, len(input.Records))
	}

	if pdf.Err() {
		return failed(PDF, pdfMimeType, pdf.Error())
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return failed(PDF, pdfMimeType, err)
	}
	if int64(buf.Len()) > g.cfg.MaxFileSize {
		return failed(PDF, pdfMimeType, fmt.Errorf("output size %d exceeds max file size %d", buf.Len(), g.cfg.MaxFileSize))
	}
	report(input.OnProgress, 100, "finalize")

	return &Result{
		Success: true,
		Buffer:  buf.Bytes(),
		Metadata: Metadata{
			Format:      PDF,
			MimeType:    pdfMimeType,
			RecordCount: len(input.Records),
			SheetCount:  pdf.PageCount(),
			ByteSize:    int64(buf.Len()),
			Duration:    time.Since(start),
		},
	}
}

// truncateCell keeps cell text within roughly the column width; precise
// text metrics are layout styling, which stays out of scope.
func truncateCell(s string, colW float64) string {
	limit := int(colW / 1.6)
	if limit < 4 {
		limit = 4
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
