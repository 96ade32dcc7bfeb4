// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the one-line banner printed by -version and at startup.
func String() string {
	return fmt.Sprintf("supplybot %s (%s, built %s)", Version, GitSHA, BuildTime)
}
