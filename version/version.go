// Package version exposes build metadata for the export engine binary.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set during build time via -ldflags.
var (
	// Version is the current version
	Version = "0.0.0"

	// Revision is the short commit hash of source tree
	Revision = "unknown"

	// BuiltAt is the build time
	BuiltAt = "unknown"
)

// Info contains version information
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuiltAt   string `json:"builtAt"`
	GoVersion string `json:"goVersion"`
}

// GetVersionInfo returns version information, falling back to the
// binary's embedded VCS metadata when ldflags were not set.
func GetVersionInfo() Info {
	revision := Revision
	builtAt := BuiltAt

	if revision == "unknown" || builtAt == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range bi.Settings {
				switch setting.Key {
				case "vcs.revision":
					if revision == "unknown" && len(setting.Value) >= 8 {
						revision = setting.Value[:8]
					}
				case "vcs.time":
					if builtAt == "unknown" {
						builtAt = setting.Value
					}
				}
			}
		}
	}

	return Info{
		Version:   Version,
		Revision:  revision,
		BuiltAt:   builtAt,
		GoVersion: runtime.Version(),
	}
}

// String returns a single-line rendering.
func (i Info) String() string {
	return fmt.Sprintf("%s (revision %s, built %s, %s)", i.Version, i.Revision, i.BuiltAt, i.GoVersion)
}

// JSON returns the info as indented JSON.
func (i Info) JSON() string {
	out, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}
