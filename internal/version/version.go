// Package version holds build metadata, set with -ldflags at release time.
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

// String formats the build metadata for -version output and logs.
func String() string {
	return fmt.Sprintf("raptorhab %s (%s, built %s)", Version, GitSHA, BuildTime)
}

// UserAgent identifies the ground station to external services such as
// the wind provider.
func UserAgent() string {
	return "raptorhab-groundstation/" + Version
}
