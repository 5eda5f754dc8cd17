// Package version holds the tide release version. It is a separate package
// so both the runners and the binaries can stamp themselves without cycles.
package version

// Current is the tide release version. Bumped on release.
const Current = "0.4.2"
