// Package versions provides build-time version information for the binary.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Version information set at build time using -ldflags
var (
	// Version is the current version of schema-sync
	Version = "dev"

	// Commit is the git commit hash the binary was built from
	Commit = "unknown"

	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// VersionInfo represents the version information of the binary
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information of the binary.
// When ldflags values are absent it falls back to the VCS metadata
// embedded by the Go toolchain.
func GetVersionInfo() VersionInfo {
	commit := Commit
	buildDate := BuildDate

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if commit == "unknown" {
					commit = setting.Value
				}
			case "vcs.time":
				if buildDate == "unknown" {
					if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
						buildDate = t.UTC().Format(time.RFC3339)
					}
				}
			}
		}
	}

	return VersionInfo{
		Version:   Version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
