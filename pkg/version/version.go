// Package version provides version information for sqlext.
//
// The version is embedded from version.txt at compile time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var versionFile string

// Version is the current version of sqlext.
var Version = strings.TrimSpace(versionFile)

// InterfaceVersion is the external language API revision implemented by the
// extension.
const InterfaceVersion = 2

// String returns the version string.
func String() string {
	return Version
}

// Full returns a full version string with the package name.
func Full() string {
	return "sqlext version " + Version
}
