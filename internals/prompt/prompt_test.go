package prompt

import (
	"strings"
	"testing"
)

func TestMentionedFiles(t *testing.T) {
	files := MentionedFiles("Update internal/server/router.go and the handler in app/api/tasks. Also touch internal/server/router.go again.")
	if len(files) != 2 {
		t.Fatalf("expected two unique files, got %v", files)
	}
	if files[0] != "internal/server/router.go" {
		t.Fatalf("unexpected first file %q", files[0])
	}
}

func TestBuildIncludesTaskAndFiles(t *testing.T) {
	got := Build(Input{Title: "Fix login", Description: "The bug lives in lib/auth/session.ts", Priority: "high"})
	if !strings.Contains(got.Text, "# Task: Fix login") {
		t.Fatalf("missing title: %s", got.Text)
	}
	if !strings.Contains(got.Text, "Priority: high") {
		t.Fatalf("missing priority: %s", got.Text)
	}
	if !strings.Contains(got.Text, "- lib/auth/session.ts") {
		t.Fatalf("missing file hint: %s", got.Text)
	}
}

func TestBuildOmitsNormalPriority(t *testing.T) {
	got := Build(Input{Title: "Tidy", Priority: "normal"})
	if strings.Contains(got.Text, "Priority:") {
		t.Fatalf("normal priority should be omitted: %s", got.Text)
	}
	if len(got.MentionedFiles) != 0 {
		t.Fatalf("expected no files, got %v", got.MentionedFiles)
	}
}
