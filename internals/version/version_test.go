package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
)

func TestRevisionFrom(t *testing.T) {
	got := revisionFrom([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
	})
	if got != "0123456789ab.dirty" {
		t.Fatalf("unexpected revision %q", got)
	}
	if got := revisionFrom(nil); got != "" {
		t.Fatalf("expected empty revision, got %q", got)
	}
}

func TestVersionPrefersSemVer(t *testing.T) {
	original := SemVer
	t.Cleanup(func() { SemVer = original })

	SemVer = ""
	if !strings.HasPrefix(Version(), conf.Version) {
		t.Fatalf("expected config version prefix, got %q", Version())
	}
	SemVer = "9.9.9"
	if !strings.HasPrefix(Version(), "9.9.9") {
		t.Fatalf("expected semver prefix, got %q", Version())
	}
}
