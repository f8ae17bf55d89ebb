package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String is the one-line form printed by `velox version`.
func String() string {
	return fmt.Sprintf("velox %s (commit %s, built %s)", Version, Commit, BuildDate)
}

// UserAgent identifies the binary to the exchange API when no agent is configured.
func UserAgent() string {
	return "velox/" + Version
}
