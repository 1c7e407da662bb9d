// Package buildinfo carries build-time metadata injected through -ldflags.
package buildinfo

import "runtime/debug"

const unknown = "unknown"

// Context describes the running binary. It is not user-configurable and
// stays out of the settings tree.
type Context struct {
	// Version is the git tag the binary was built from
	Version string

	// BuildDate is the time the binary was built
	BuildDate string
}

// New returns a Context, falling back to the module version recorded by
// the Go toolchain when no version was injected.
func New(version, buildDate string) *Context {
	if version == "" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// Release is the identifier reported to error tracking, e.g. idconsensus@v1.2.0.
func (c *Context) Release() string {
	return "idconsensus@" + c.GetVersion()
}
