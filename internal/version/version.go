// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"log/slog"
	"runtime"
)

// set with -ldflags "-X github.com/sustainable-computing-io/corewatt/internal/version.version=..."
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the version information
func Info() VersionInfo {
	return VersionInfo{
		Version:   orDev(version),
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

// LogValue groups the build details under a single log attribute
func (v VersionInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", v.Version),
		slog.String("buildTime", v.BuildTime),
		slog.String("gitBranch", v.GitBranch),
		slog.String("gitCommit", v.GitCommit),
		slog.String("goVersion", v.GoVersion),
		slog.String("goOS", v.GoOS),
		slog.String("goArch", v.GoArch),
	)
}

// String is the version line printed by --version
func (v VersionInfo) String() string {
	s := "corewatt " + v.Version
	if v.GitCommit != "" {
		s += " (" + v.GitCommit + ")"
	}
	return s + " " + v.GoVersion + " " + v.GoOS + "/" + v.GoArch
}

func orDev(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}
