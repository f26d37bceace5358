// Package buildinfo carries version metadata set at link time.
package buildinfo

// Version is overridden with -ldflags "-X poolnet/internal/buildinfo.Version=...".
var Version = "dev"

// UserAgent is the default agent string sent to pools.
func UserAgent() string { return "poolnet/" + Version }
