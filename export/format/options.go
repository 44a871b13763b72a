package format

import (
	"errors"
	"fmt"
)

// Supported text encodings for row/column formats. Output is UTF-8;
// other charsets are rejected rather than silently re-labelled.
var supportedEncodings = map[string]bool{
	"utf-8":     true,
	"utf-8-bom": true,
}

// Errors shared by option validation across generators.
var (
	ErrStreamingUnsupported = errors.New("generator does not support streaming")
	ErrDuplicateHeader      = errors.New("duplicate column header")
	ErrUnsupportedEncoding  = errors.New("unsupported encoding")
)

// Options carries caller-tunable, per-format generation options. A zero
// value is valid; Normalize fills the defaults.
type Options struct {
	// Row/column formats (CSV, Excel).
	Delimiter string `json:"delimiter,omitempty"`
	Quote     string `json:"quote,omitempty"`
	Escape    string `json:"escape,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Headers   []string `json:"headers,omitempty"` // custom column headers, must be unique

	// Value rendering.
	NullValue          string `json:"nullValue,omitempty"`
	TrueValue          string `json:"trueValue,omitempty"`
	FalseValue         string `json:"falseValue,omitempty"`
	DateFormat         string `json:"dateFormat,omitempty"` // Go reference layout
	DecimalSeparator   string `json:"decimalSeparator,omitempty"`
	ThousandsSeparator string `json:"thousandsSeparator,omitempty"`
	DecimalPlaces      int    `json:"decimalPlaces,omitempty"` // -1 keeps native precision

	// JSON.
	Pretty bool `json:"pretty,omitempty"`

	// Excel.
	SheetName string `json:"sheetName,omitempty"`

	// PDF.
	PageSize    string `json:"pageSize,omitempty"`    // "A4", "Letter", ...
	Orientation string `json:"orientation,omitempty"` // "P" or "L"

	// Compression request; honored only when the generator supports it.
	Compress bool `json:"compress,omitempty"`
}

// Normalize returns a copy with defaults applied.
func (o *Options) Normalize() *Options {
	out := Options{DecimalPlaces: -1}
	if o != nil {
		out = *o
	}
	if out.Delimiter == "" {
		out.Delimiter = ","
	}
	if out.Quote == "" {
		out.Quote = `"`
	}
	if out.Escape == "" {
		out.Escape = `"`
	}
	if out.Encoding == "" {
		out.Encoding = "utf-8"
	}
	if out.TrueValue == "" {
		out.TrueValue = "true"
	}
	if out.FalseValue == "" {
		out.FalseValue = "false"
	}
	if out.DateFormat == "" {
		out.DateFormat = "2006-01-02T15:04:05Z07:00" // ISO-8601
	}
	if o == nil || o.DecimalPlaces == 0 {
		out.DecimalPlaces = -1
	}
	if out.SheetName == "" {
		out.SheetName = "Export"
	}
	if out.PageSize == "" {
		out.PageSize = "A4"
	}
	if out.Orientation == "" {
		out.Orientation = "L"
	}
	return &out
}

// validateTabular checks the structural options shared by CSV and Excel.
// It fails fast, before any data is touched.
func (o *Options) validateTabular() error {
	opts := o.Normalize()

	if len([]rune(opts.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be exactly one character, got %q", opts.Delimiter)
	}
	// The writer always quotes and escapes with `"`; a different
	// character would be accepted but not honored, so reject it.
	if opts.Quote != `"` {
		return fmt.Errorf("quote must be %q, got %q", `"`, opts.Quote)
	}
	if opts.Escape != `"` {
		return fmt.Errorf("escape must be %q, got %q", `"`, opts.Escape)
	}
	if !supportedEncodings[opts.Encoding] {
		return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, opts.Encoding)
	}
	return validateHeaders(opts.Headers)
}

// validateHeaders rejects duplicate custom column headers.
func validateHeaders(headers []string) error {
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		if seen[h] {
			return fmt.Errorf("%w: %q", ErrDuplicateHeader, h)
		}
		seen[h] = true
	}
	return nil
}
