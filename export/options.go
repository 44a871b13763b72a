package export

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/bluejazz822/networkdb-sub008/export/format"
)

// Options is the caller-supplied export request. It is validated once
// at admission and treated as immutable afterwards.
type Options struct {
	Format       format.Format  `json:"format" validate:"required"`
	ResourceType string         `json:"resourceType" validate:"required"`
	Fields       []string       `json:"fields,omitempty"`
	Filters      map[string]any `json:"filters,omitempty"`
	BatchSize    int            `json:"batchSize,omitempty" validate:"gte=0"`
	Streaming    bool           `json:"streaming,omitempty"`
	Custom       *format.Options `json:"custom,omitempty"`
}

// clone snapshots the options so later caller mutation cannot reach a
// running job.
func (o *Options) clone() *Options {
	out := *o
	out.Fields = append([]string(nil), o.Fields...)
	if o.Filters != nil {
		out.Filters = make(map[string]any, len(o.Filters))
		for k, v := range o.Filters {
			out.Filters[k] = v
		}
	}
	if o.Custom != nil {
		custom := *o.Custom
		custom.Headers = append([]string(nil), o.Custom.Headers...)
		out.Custom = &custom
	}
	return &out
}

var validate = validator.New()

// validateOptions performs admission-time validation: structural checks,
// the format allow-list, and the selected generator's own fail-fast
// option validation. Nothing is fetched before this passes.
func (s *Scheduler) validateOptions(opts *Options) (format.Generator, *Options, error) {
	if opts == nil {
		return nil, nil, &ValidationError{Code: CodeStartError, Message: "options are required"}
	}

	snapshot := opts.clone()
	if snapshot.BatchSize == 0 {
		snapshot.BatchSize = s.cfg.DefaultBatchSize
	}

	if err := validate.Struct(snapshot); err != nil {
		return nil, nil, &ValidationError{Code: CodeStartError, Message: "invalid export options", Err: err}
	}

	if !s.formatAllowed(snapshot.Format) {
		return nil, nil, &ValidationError{
			Code:    CodeInvalidFormat,
			Message: fmt.Sprintf("format %q is not allowed", snapshot.Format),
		}
	}

	gen, ok := s.registry.Get(snapshot.Format)
	if !ok {
		return nil, nil, &ValidationError{
			Code:    CodeInvalidFormat,
			Message: fmt.Sprintf("no generator registered for format %q", snapshot.Format),
		}
	}

	// Engine-wide compression default; generators that cannot compress
	// (Excel, PDF) are left alone.
	if s.cfg.CompressionEnabled && gen.CompressionOptions().Supported {
		if snapshot.Custom == nil {
			snapshot.Custom = &format.Options{}
		}
		snapshot.Custom.Compress = true
	}

	if err := gen.ValidateOptions(snapshot.Custom); err != nil {
		return nil, nil, &ValidationError{Code: CodeStartError, Message: "invalid format options", Err: err}
	}

	return gen, snapshot, nil
}

func (s *Scheduler) formatAllowed(f format.Format) bool {
	for _, allowed := range s.cfg.AllowedFormats {
		if format.Format(allowed) == f {
			return true
		}
	}
	return false
}
