// Package prompt builds the instructions handed to the coding agent inside a workspace.
package prompt

import (
	"regexp"
	"strings"
)

type Input struct {
	Title       string
	Description string
	Priority    string
}

type Enhanced struct {
	Text           string
	MentionedFiles []string
}

var filePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\w/\-\[\]]+\.(?:go|ts|tsx|js|jsx|py|md|json|ya?ml|css|scss|html|vue|svelte|sql|toml)\b`),
	regexp.MustCompile(`(?:src|app|lib|internal|internals|cmd|pkg|components|pages|api|routes?)/[\w/\-\[\]]+`),
}

// MentionedFiles returns the unique file paths referenced in text, in order of appearance.
func MentionedFiles(text string) []string {
	seen := map[string]bool{}
	files := []string{}
	for _, pattern := range filePatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			match = strings.TrimSpace(match)
			if match == "" || seen[match] || coveredBy(files, match) {
				continue
			}
			seen[match] = true
			files = append(files, match)
		}
	}
	return files
}

func coveredBy(files []string, candidate string) bool {
	for _, file := range files {
		if strings.HasPrefix(file, candidate) {
			return true
		}
	}
	return false
}

// Build renders the agent prompt for a task.
func Build(in Input) Enhanced {
	description := strings.TrimSpace(in.Description)
	files := MentionedFiles(in.Title + "\n" + description)

	var b strings.Builder
	b.WriteString("# Task: ")
	b.WriteString(strings.TrimSpace(in.Title))
	b.WriteString("\n")
	if in.Priority != "" && in.Priority != "normal" {
		b.WriteString("Priority: ")
		b.WriteString(in.Priority)
		b.WriteString("\n")
	}
	if description != "" {
		b.WriteString("\n")
		b.WriteString(description)
		b.WriteString("\n")
	}
	if len(files) > 0 {
		b.WriteString("\n## Files to focus on\n")
		for _, file := range files {
			b.WriteString("- ")
			b.WriteString(file)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n## Guidelines\n")
	b.WriteString("- Keep the change focused on the task.\n")
	b.WriteString("- Produce a patch that applies cleanly to the target branch.\n")
	b.WriteString("- Open a pull request describing the change when done.\n")

	return Enhanced{Text: b.String(), MentionedFiles: files}
}
