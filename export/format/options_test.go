package format

import (
	"errors"
	"testing"
)

func TestNormalizeDefaults(t *testing.T) {
	o := (&Options{}).Normalize()

	if o.Delimiter != "," {
		t.Errorf("Unexpected delimiter: got %q, want %q", o.Delimiter, ",")
	}
	if o.Encoding != "utf-8" {
		t.Errorf("Unexpected encoding: got %q, want %q", o.Encoding, "utf-8")
	}
	if o.TrueValue != "true" || o.FalseValue != "false" {
		t.Errorf("Unexpected bool tokens: %q/%q", o.TrueValue, o.FalseValue)
	}
	if o.DecimalPlaces != -1 {
		t.Errorf("Unexpected decimal places: got %d, want -1", o.DecimalPlaces)
	}
	if o.SheetName != "Export" {
		t.Errorf("Unexpected sheet name: %q", o.SheetName)
	}

	var nilOpts *Options
	if nilOpts.Normalize().Delimiter != "," {
		t.Error("Normalize on nil options should apply defaults")
	}
}

func TestValidateTabular(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Options
		wantErr bool
	}{
		{"defaults", nil, false},
		{"tab delimiter", &Options{Delimiter: "\t"}, false},
		{"multi-char delimiter", &Options{Delimiter: ";;"}, true},
		{"multi-char quote", &Options{Quote: "''"}, true},
		{"non-default quote", &Options{Quote: "'"}, true},
		{"non-default escape", &Options{Escape: `\`}, true},
		{"bom encoding", &Options{Encoding: "utf-8-bom"}, false},
		{"unknown encoding", &Options{Encoding: "utf-16"}, true},
		{"unsupported charset", &Options{Encoding: "iso-8859-1"}, true},
		{"unique headers", &Options{Headers: []string{"ID", "Name"}}, false},
		{"duplicate headers", &Options{Headers: []string{"ID", "Name", "ID"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validateTabular()
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTabular() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateHeadersDuplicate(t *testing.T) {
	err := validateHeaders([]string{"a", "b", "a"})
	if !errors.Is(err, ErrDuplicateHeader) {
		t.Errorf("Expected ErrDuplicateHeader, got %v", err)
	}
}

func TestRegistryHoldsAllFormats(t *testing.T) {
	r := DefaultRegistry(nil)

	formats := r.Formats()
	if len(formats) != 4 {
		t.Fatalf("Unexpected format count: got %d, want 4", len(formats))
	}
	for _, f := range []Format{CSV, Excel, JSON, PDF} {
		gen, ok := r.Get(f)
		if !ok {
			t.Errorf("Missing generator for %s", f)
			continue
		}
		if gen.Format() != f {
			t.Errorf("Generator format mismatch: got %s, want %s", gen.Format(), f)
		}
	}
	if _, ok := r.Get(Format("xml")); ok {
		t.Error("Unexpected generator for unregistered format")
	}
}

func TestEstimateOutputSizeMonotonic(t *testing.T) {
	r := DefaultRegistry(nil)
	for _, f := range r.Formats() {
		gen, _ := r.Get(f)
		small := gen.EstimateOutputSize(10, 5)
		moreRecords := gen.EstimateOutputSize(100, 5)
		moreFields := gen.EstimateOutputSize(10, 50)

		if moreRecords < small {
			t.Errorf("%s: estimate decreased with record count: %d < %d", f, moreRecords, small)
		}
		if moreFields < small {
			t.Errorf("%s: estimate decreased with field count: %d < %d", f, moreFields, small)
		}
		if gen.EstimateOutputSize(-1, -1) < 0 {
			t.Errorf("%s: negative estimate for negative inputs", f)
		}
	}
}
