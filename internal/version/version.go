package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the short git SHA of the build.
	Commit = "none"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// shortCommitLength is the number of SHA characters shown.
const shortCommitLength = 7

// Info is the resolved build metadata.
type Info struct {
	// Version is the semantic version.
	Version string
	// Commit is the short git SHA, with a "-dirty" suffix for modified trees.
	Commit string
	// BuildTime is the build or commit timestamp.
	BuildTime string
	// GoVersion is the toolchain that built the binary.
	GoVersion string
	// Platform is GOOS/GOARCH.
	Platform string
}

// Get resolves the build metadata, falling back to the VCS stamp.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	return fromBuildInfo(info, buildInfo)
}

// Short returns only the semantic version string.
func Short() string {
	return Get().Version
}

// Full returns a human-readable version string.
func Full() string {
	info := Get()

	return fmt.Sprintf("imgcast %s (commit: %s, built at: %s, %s %s)",
		info.Version, info.Commit, info.BuildTime, info.GoVersion, info.Platform)
}

// fromBuildInfo fills the fields still at their defaults from the build settings.
func fromBuildInfo(info Info, buildInfo *debug.BuildInfo) Info {
	if info.Version == "dev" && buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		info.Version = buildInfo.Main.Version
	}

	var fromVCS, modified bool

	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == "none" && setting.Value != "" {
				info.Commit = setting.Value[:min(len(setting.Value), shortCommitLength)]
				fromVCS = true
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = setting.Value
			}
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}

	if fromVCS && modified {
		info.Commit += "-dirty"
	}

	return info
}
