// Package version carries build identification, overridden at release
// time via -ldflags "-X fleetalert/internal/version.Version=...".
package version

var Version = "dev"
