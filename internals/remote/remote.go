package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

func (m MergeMethod) Valid() bool {
	switch m {
	case MergeMethodMerge, MergeMethodSquash, MergeMethodRebase:
		return true
	}
	return false
}

// PullRequest identifies a pull request on a code host.
type PullRequest struct {
	Owner  string
	Repo   string
	Number int
}

type MergeResult struct {
	Merged  bool   `json:"merged"`
	SHA     string `json:"sha,omitempty"`
	Message string `json:"message,omitempty"`
}

// Merger merges pull requests on the code host.
type Merger interface {
	Merge(ctx context.Context, pr PullRequest, method MergeMethod) (MergeResult, error)
}

var ErrInvalidPullRequestURL = errors.New("invalid pull request url")

var pullNumberPattern = regexp.MustCompile(`/pull/(\d+)`)

// ParsePullRequestURL extracts owner, repo and number from a URL like
// https://github.com/<owner>/<repo>/pull/<n>.
func ParsePullRequestURL(raw string) (PullRequest, error) {
	match := pullNumberPattern.FindStringSubmatch(raw)
	if match == nil {
		return PullRequest{}, fmt.Errorf("%w: %s", ErrInvalidPullRequestURL, raw)
	}
	number, err := strconv.Atoi(match[1])
	if err != nil {
		return PullRequest{}, fmt.Errorf("%w: %s", ErrInvalidPullRequestURL, raw)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return PullRequest{}, fmt.Errorf("%w: %s", ErrInvalidPullRequestURL, raw)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 4 || parts[2] != "pull" {
		return PullRequest{}, fmt.Errorf("%w: %s", ErrInvalidPullRequestURL, raw)
	}
	return PullRequest{Owner: parts[0], Repo: parts[1], Number: number}, nil
}
