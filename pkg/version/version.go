// pkg/version/version.go
// Package version provides version metadata for the application.
package version

import "fmt"

// These variables are typically injected at build time using -ldflags
var (
	// Version holds the current version of protolens.
	Version = "dev"
	// Commit holds the current version commit of protolens.
	Commit = "none"
	// BuildDate holds the build date of protolens.
	BuildDate = "unknown"
)

// Struct returns version information in a structured format.
type Struct struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("Protolens %s (commit: %s, date: %s)", Version, Commit, BuildDate)
}

// AsStruct returns the structured version metadata.
func AsStruct() Struct {
	return Struct{Version: Version, Commit: Commit, BuildDate: BuildDate}
}
