// Package version provides build-time version information.
package version

// Set at build time via -ldflags.
var (
	// Version is the semantic version of the pipeline tools.
	Version = "0.2.0"

	// BuildTime is the UTC time when the binary was built.
	BuildTime = "unknown"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"
)

// String returns the full version line printed by the -version flag.
func String() string {
	return Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
