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

// String is the one-line build summary logged at startup.
func String() string {
	return fmt.Sprintf("pricewatch %s (%s, built %s)", Version, Commit, BuildDate)
}
