// Package version provides the relay version and build info.
//
//nolint:revive
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is overridden by ldflags at release time.
	Version = "dev"
	// CommitHash is the git commit at build time.
	CommitHash = ""
	// BuildTime is the build timestamp.
	BuildTime = ""
)

var readBuildInfo sync.Once

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns build info, falling back to the VCS stamp of the module.
func Get() Info {
	readBuildInfo.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	})
	return Info{
		Version:   Version,
		Commit:    CommitHash,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// ShortCommit trims the commit to seven characters.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

// String renders "version (commit)".
func (i Info) String() string {
	if c := i.ShortCommit(); c != "" {
		return fmt.Sprintf("%s (%s)", i.Version, c)
	}
	return i.Version
}

// GetInfo returns the formatted version string.
func GetInfo() string {
	return Get().String()
}

// UserAgent is the User-Agent header sent by the relay client.
func UserAgent() string {
	return "asset-relay/" + Version
}
