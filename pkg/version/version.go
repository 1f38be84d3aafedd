package version

import "runtime/debug"

// Version is set at build time via -ldflags. When unset, the module build
// info is the best available answer.
var Version = "dev"

// Get returns the version string for this binary.
func Get() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
