// Package buildinfo holds build-time metadata injected at startup.
package buildinfo

import "runtime/debug"

// UnknownValue is reported for metadata that was not injected.
const UnknownValue = "unknown"

// Context carries build metadata that is not user-configurable.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates a Context. An empty version falls back to the main
// module version recorded by the Go toolchain, if any.
func NewContext(version, buildDate string) *Context {
	if version == "" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the build version or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}
