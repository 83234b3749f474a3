package version

import "fmt"

// Version contains the application version information.
// This should be set via build-time ldflags in production:
// go build -ldflags "-X git.home.luguber.info/inful/coursebuilder/internal/version.Version=v2.1.0".
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String is the version line printed by "coursebuilder --version".
func String() string {
	return fmt.Sprintf("coursebuilder %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
