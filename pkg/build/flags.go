// SPDX-License-Identifier: MIT
//
// Package build holds version metadata embedded at link time:
//
//	go build -ldflags "-X colorchord/pkg/build.buildName=colorchord \
//	  -X colorchord/pkg/build.buildTime=$(date -u +%FT%TZ) \
//	  -X colorchord/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X colorchord/pkg/build.buildVersion=v0.1.0"
//
// A plain go build or go run sets none of them and gets development defaults.
package build

import "fmt"

const (
	defaultName        = "colorchord"
	defaultDescription = "Real-time note finder that turns sound into coloured notes"
)

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the flags for a version line.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Package-level variables for build information, set with -ldflags -X.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = devFlags()
)

func devFlags() *ldFlags {
	return &ldFlags{
		Name:        defaultName,
		Description: defaultDescription,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize validates and copies build information from ldflags variables
// into the buildFlags struct. With no flags injected the development
// defaults stay in place. Injecting only some of them is an error.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		buildFlags = devFlags()
		return nil
	}

	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information. Initialize()
// must be called before this function to ensure the build information
// is valid.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
