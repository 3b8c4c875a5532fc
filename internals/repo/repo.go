package repo

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

type commandFunc func(name string, args ...string) *exec.Cmd

var execCommand commandFunc = exec.Command

var ErrNoRemote = errors.New("repository has no origin remote")

// Info describes the checkout a task is created from.
type Info struct {
	// RemoteURL is the https form of origin.
	RemoteURL string
	// RepoID is owner/name for hosted remotes, otherwise the remote path.
	RepoID string
	// DefaultBranch is origin's HEAD, empty when unknown.
	DefaultBranch string
}

func CheckRepo(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}
	output, err := git(path, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return fmt.Errorf("git check failed: %w", err)
	}
	if output != "true" {
		return fmt.Errorf("not a git worktree")
	}
	return nil
}

// Detect reads origin from the checkout at path.
func Detect(path string) (Info, error) {
	if err := CheckRepo(path); err != nil {
		return Info{}, err
	}
	remote, err := git(path, "remote", "get-url", "origin")
	if err != nil {
		if strings.Contains(err.Error(), "No such remote") {
			return Info{}, ErrNoRemote
		}
		return Info{}, err
	}
	remoteURL, repoID, err := NormalizeRemote(remote)
	if err != nil {
		return Info{}, err
	}
	result := Info{RemoteURL: remoteURL, RepoID: repoID}
	if head, err := git(path, "symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		result.DefaultBranch = strings.TrimPrefix(head, "origin/")
	}
	return result, nil
}

// NormalizeRemote turns scp-style and ssh remotes into https URLs and
// derives the repository id from the path.
func NormalizeRemote(remote string) (string, string, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return "", "", ErrNoRemote
	}

	var host, path string
	if at := strings.Index(remote, "@"); at >= 0 && !strings.Contains(remote, "://") {
		rest := remote[at+1:]
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return "", "", fmt.Errorf("unrecognised remote %q", remote)
		}
		host, path = rest[:colon], rest[colon+1:]
	} else {
		parsed, err := url.Parse(remote)
		if err != nil || parsed.Host == "" {
			return "", "", fmt.Errorf("unrecognised remote %q", remote)
		}
		host, path = parsed.Hostname(), parsed.Path
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	if path == "" {
		return "", "", fmt.Errorf("remote %q has no repository path", remote)
	}
	return "https://" + host + "/" + path, path, nil
}

func git(path string, args ...string) (string, error) {
	cmd := execCommand("git", append([]string{"-C", path}, args...)...)
	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if text == "" {
			text = err.Error()
		}
		return "", errors.New(text)
	}
	return text, nil
}
