// Package version provides version information for plv8.
package version

// Version is the current version of plv8.
var Version = "0.3.0"

// String returns the version string.
func String() string {
	return Version
}

// Full returns a full version string with the package name.
func Full() string {
	return "plv8 version " + Version
}
