// Package version holds the release version reported by the CLI and /healthz.
package version

// Current is bumped on release.
const Current = "0.1.0"
