// Package version holds build-time version info injected via ldflags.
//
// Set at compile time:
//
//	go build -ldflags "-X github.com/NicolasHaas/pixelsync/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/pixelsync/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/pixelsync/pkg/version.date=2026-01-01"
//
// Builds without ldflags fall back to the VCS stamp embedded by the Go
// toolchain, when present.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Populated by -ldflags "-X ...".
var (
	tag    = ""        // git tag (e.g. "v0.2.0"), empty if not on a tag
	commit = "unknown" // short git commit SHA
	date   = "unknown" // build date (ISO 8601)
)

// Info describes the running build.
type Info struct {
	Tag       string
	Commit    string
	Date      string
	GoVersion string
	Modified  bool // built from a dirty tree
}

var (
	infoOnce sync.Once
	info     Info
	readInfo = debug.ReadBuildInfo
)

// Get returns the build info, filling gaps from the embedded VCS stamp.
func Get() Info {
	infoOnce.Do(func() { info = resolve(tag, commit, date) })
	return info
}

func resolve(tag, commit, date string) Info {
	in := Info{Tag: tag, Commit: commit, Date: date, GoVersion: runtime.Version()}
	bi, ok := readInfo()
	if !ok {
		return in
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if in.Commit == "unknown" && s.Value != "" {
				in.Commit = s.Value[:min(7, len(s.Value))]
			}
		case "vcs.time":
			if in.Date == "unknown" && s.Value != "" {
				in.Date = s.Value
			}
		case "vcs.modified":
			in.Modified = s.Value == "true"
		}
	}
	return in
}

// String returns the short version sent to clients.
//
//	Tagged:   "v0.2.0"
//	Untagged: "abc1234"
//	Dev:      "dev"
func String() string {
	return Get().short()
}

func (in Info) short() string {
	switch {
	case in.Tag != "":
		return in.Tag
	case in.Commit != "unknown":
		if in.Modified {
			return in.Commit + "-dirty"
		}
		return in.Commit
	default:
		return "dev"
	}
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	in := Get()
	switch {
	case in.Tag != "":
		return in.Tag + " (" + in.Commit + ") built " + in.Date
	case in.Commit != "unknown":
		return in.short() + " built " + in.Date
	default:
		return "dev"
	}
}

// LogAttrs returns the build info as slog key/value pairs.
func LogAttrs() []any {
	in := Get()
	return []any{"version", in.short(), "commit", in.Commit, "built", in.Date, "go", in.GoVersion}
}
