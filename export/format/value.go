package format

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CellValue renders one record value as text for row/column formats.
// Nil becomes the configured null placeholder, booleans the configured
// tokens, times the configured layout and nested structures a single
// JSON cell. JSON output keeps native structures and never calls this.
func CellValue(v any, opts *Options) string {
	if v == nil {
		return opts.NullValue
	}

	switch t := v.(type) {
	case bool:
		if t {
			return opts.TrueValue
		}
		return opts.FalseValue
	case time.Time:
		return t.Format(opts.DateFormat)
	case *time.Time:
		if t == nil {
			return opts.NullValue
		}
		return t.Format(opts.DateFormat)
	case string:
		return t
	case float32:
		return formatNumber(float64(t), opts)
	case float64:
		return formatNumber(t, opts)
	case int:
		return formatInt(int64(t), opts)
	case int32:
		return formatInt(int64(t), opts)
	case int64:
		return formatInt(t, opts)
	case uint:
		return formatUint(uint64(t), opts)
	case uint32:
		return formatUint(uint64(t), opts)
	case uint64:
		return formatUint(t, opts)
	case []byte:
		return string(t)
	case map[string]any, []any:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(encoded)
	default:
		return fmt.Sprint(t)
	}
}

func formatNumber(f float64, opts *Options) string {
	var s string
	if opts.DecimalPlaces >= 0 {
		s = strconv.FormatFloat(f, 'f', opts.DecimalPlaces, 64)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return applySeparators(s, opts)
}

func formatInt(i int64, opts *Options) string {
	return formatDigits(strconv.FormatInt(i, 10), opts)
}

// formatUint keeps values above math.MaxInt64 from wrapping negative.
func formatUint(u uint64, opts *Options) string {
	return formatDigits(strconv.FormatUint(u, 10), opts)
}

func formatDigits(s string, opts *Options) string {
	if opts.DecimalPlaces > 0 {
		s += "." + strings.Repeat("0", opts.DecimalPlaces)
	}
	return applySeparators(s, opts)
}

// applySeparators swaps the decimal point and inserts thousands
// separators into an already-rendered number.
func applySeparators(s string, opts *Options) string {
	if opts.DecimalSeparator == "" && opts.ThousandsSeparator == "" {
		return s
	}

	intPart, fracPart := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart, fracPart = s[:idx], s[idx+1:]
	}

	if opts.ThousandsSeparator != "" {
		intPart = groupThousands(intPart, opts.ThousandsSeparator)
	}

	if fracPart == "" {
		return intPart
	}

	sep := "."
	if opts.DecimalSeparator != "" {
		sep = opts.DecimalSeparator
	}
	return intPart + sep + fracPart
}

func groupThousands(digits, sep string) string {
	neg := strings.HasPrefix(digits, "-")
	if neg {
		digits = digits[1:]
	}

	n := len(digits)
	if n <= 3 {
		if neg {
			return "-" + digits
		}
		return digits
	}

	var b strings.Builder
	first := n % 3
	if first > 0 {
		b.WriteString(digits[:first])
	}
	for i := first; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// headerRow resolves the output column headers: the custom list when
// provided, otherwise the field names themselves.
func headerRow(fields []string, opts *Options) []string {
	if len(opts.Headers) == len(fields) && len(opts.Headers) > 0 {
		return opts.Headers
	}
	return fields
}

// rowValues renders one record into cells ordered by fields.
func rowValues(record Record, fields []string, opts *Options) []string {
	row := make([]string, len(fields))
	for i, field := range fields {
		row[i] = CellValue(record[field], opts)
	}
	return row
}
