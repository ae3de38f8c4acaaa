// Package version holds build information, set with -ldflags at build time.
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
)
