package version

import (
	"runtime/debug"
	"strings"
	"sync"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
)

// SemVer overrides the release version at build time:
//
//	-ldflags "-X github.com/jakebutler/pithy-jaunt-sub000/internals/version.SemVer=1.2.3"
var SemVer = ""

var (
	revisionOnce sync.Once
	revision     string
)

// Version returns the release version with the VCS revision as build
// metadata when the binary was built from a checkout, e.g. 0.1.0+a1b2c3d4e5f6.
func Version() string {
	v := strings.TrimSpace(SemVer)
	if v == "" {
		v = conf.Version
	}
	rev := Revision()
	if rev == "" {
		return v
	}
	if strings.Contains(v, "+") {
		return v + "." + rev
	}
	return v + "+" + rev
}

// Revision is the short VCS revision, suffixed with .dirty for modified trees.
func Revision() string {
	revisionOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok || info == nil {
			return
		}
		revision = revisionFrom(info.Settings)
	})
	return revision
}

func revisionFrom(settings []debug.BuildSetting) string {
	var rev string
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = strings.TrimSpace(s.Value)
		case "vcs.modified":
			dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
		}
	}
	if rev == "" {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += ".dirty"
	}
	return rev
}
