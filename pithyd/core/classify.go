package core

import (
	"strings"
	"unicode/utf8"

	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

// FailureCategory is the structured reason a workspace reports for a failed run.
type FailureCategory string

const (
	CategoryPatchFailed     FailureCategory = "patch_failed"
	CategoryApplyFailed     FailureCategory = "apply_failed"
	CategoryMergeConflict   FailureCategory = "merge_conflict"
	CategoryMalformedOutput FailureCategory = "malformed_output"
	CategoryAgentError      FailureCategory = "agent_error"
	CategoryInfrastructure  FailureCategory = "infrastructure"
	CategoryTimeout         FailureCategory = "timeout"
)

var FailureCategories = []string{
	string(CategoryPatchFailed),
	string(CategoryApplyFailed),
	string(CategoryMergeConflict),
	string(CategoryMalformedOutput),
	string(CategoryAgentError),
	string(CategoryInfrastructure),
	string(CategoryTimeout),
}

// Reviewable reports whether the failure produced work a human can still salvage.
func (c FailureCategory) Reviewable() bool {
	switch c {
	case CategoryPatchFailed, CategoryApplyFailed, CategoryMergeConflict, CategoryMalformedOutput:
		return true
	}
	return false
}

var (
	reviewableErrorHints   = []string{"patch", "apply", "conflict", "context", "does not exist", "malformed"}
	reviewableDetailsHints = []string{"patch", "apply", "git apply"}
)

// ClassifyFailure decides the status of a failed task. A structured category
// wins; otherwise the error text and details are searched for patch hints.
func ClassifyFailure(category FailureCategory, errText, details string) db.TaskStatus {
	if category != "" {
		if category.Reviewable() {
			return db.TaskStatusNeedsReview
		}
		return db.TaskStatusFailed
	}
	if containsAny(errText, reviewableErrorHints) || containsAny(details, reviewableDetailsHints) {
		return db.TaskStatusNeedsReview
	}
	return db.TaskStatusFailed
}

func containsAny(text string, hints []string) bool {
	if text == "" {
		return false
	}
	text = strings.ToLower(text)
	for _, hint := range hints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

const maxErrorLogLength = 10000

// FailureLog joins the error and its details into the text stored on the log entry.
func FailureLog(errText, details string) string {
	full := errText
	if details != "" {
		full = errText + "\n\nDetails:\n" + details
	}
	return truncateLog(full)
}

// truncateLog caps text at maxErrorLogLength characters, not bytes.
func truncateLog(text string) string {
	if utf8.RuneCountInString(text) <= maxErrorLogLength {
		return text
	}
	runes := 0
	for i := range text {
		if runes == maxErrorLogLength {
			return text[:i] + "\n... (truncated)"
		}
		runes++
	}
	return text
}
