// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// ClientName is the name advertised to the gateway in clientInfo and
// in the User-Agent header.
const ClientName = "hodor-client"

// BuildInfo returns all build and runtime info as a map.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// UserAgent returns the User-Agent header value for outbound requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s/%s)", ClientName, Version, runtime.GOOS, runtime.GOARCH)
}

// ClientInfo returns the clientInfo object sent with initialize.
func ClientInfo() map[string]any {
	return map[string]any{
		"name":    ClientName,
		"version": Version,
	}
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Hodor client %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
