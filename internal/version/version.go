package version

import (
	"fmt"

	"github.com/fatih/color"
)

// Version information for the objdb CLI.
// These variables can be overridden at build time via -ldflags.

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)

	// Version is the semantic version of the CLI.
	Version = versionMajorColor.Sprint("0") + "." + versionMinorColor.Sprint("3") + "." + versionPatchColor.Sprint("0") + "-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// Line renders the version banner including the container format version
// the binary writes.
func Line(formatVersion uint16) string {
	s := fmt.Sprintf("objdb %s (container format v%d)", Version, formatVersion)
	if GitCommit != "" {
		s += " commit " + GitCommit
	}
	if BuildDate != "" {
		s += " built " + BuildDate
	}
	return s
}
