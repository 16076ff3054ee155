package client

import (
	"runtime/debug"
	"strings"
	"sync"

	"github.com/groundfault/groundfault/core/stacktrace"
)

var (
	buildInfoOnce sync.Once
	moduleVersion map[string]string
)

func loadBuildInfo() {
	buildInfoOnce.Do(func() {
		moduleVersion = make(map[string]string)
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if info.Main.Version != "" {
			moduleVersion[info.Main.Path] = info.Main.Version
		}
		for _, dep := range info.Deps {
			if dep.Replace != nil {
				moduleVersion[dep.Path] = dep.Replace.Version
				continue
			}
			moduleVersion[dep.Path] = dep.Version
		}
	})
}

// frameVersions resolves versions for just the modules appearing in the
// captured frames, keyed by frame module path. Each distinct module is
// looked up once per capture; modules without build info are omitted.
func frameVersions(frames []stacktrace.Frame) map[string]string {
	out := make(map[string]string, len(frames))
	for _, f := range frames {
		if f.Module == "" {
			continue
		}
		if _, done := out[f.Module]; done {
			continue
		}
		if v, ok := VersionFor(f.Module); ok {
			out[f.Module] = v
		}
	}
	return out
}

// VersionFor resolves the version of the module containing pkgPath by
// stripping trailing path segments until a known module matches.
func VersionFor(pkgPath string) (string, bool) {
	loadBuildInfo()
	for path := pkgPath; path != ""; {
		if v, ok := moduleVersion[path]; ok {
			return v, true
		}
		idx := strings.LastIndex(path, "/")
		if idx < 0 {
			break
		}
		path = path[:idx]
	}
	return "", false
}
