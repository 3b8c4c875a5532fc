package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const githubAPIURL = "https://api.github.com"

var ErrAuthRequired = errors.New("github token required")

// GitHub merges pull requests through the GitHub REST API.
type GitHub struct {
	baseURL string
	client  *http.Client
}

var _ Merger = (*GitHub)(nil)

type GitHubOption func(*GitHub)

func WithGitHubBaseURL(baseURL string) GitHubOption {
	return func(g *GitHub) {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewGitHub returns a merger authenticated with token. An empty token yields a
// merger whose calls fail with ErrAuthRequired.
func NewGitHub(token string, opts ...GitHubOption) *GitHub {
	g := &GitHub{baseURL: githubAPIURL}
	if token != "" {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		g.client = oauth2.NewClient(context.Background(), source)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type githubMergeResponse struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

func (g *GitHub) Merge(ctx context.Context, pr PullRequest, method MergeMethod) (MergeResult, error) {
	if g.client == nil {
		return MergeResult{}, ErrAuthRequired
	}
	if !method.Valid() {
		return MergeResult{}, fmt.Errorf("unsupported merge method: %s", method)
	}

	body, err := json.Marshal(map[string]string{"merge_method": string(method)})
	if err != nil {
		return MergeResult{}, err
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/merge", g.baseURL, pr.Owner, pr.Repo, pr.Number)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return MergeResult{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.client.Do(req)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge pull request %d: %w", pr.Number, err)
	}
	defer resp.Body.Close()

	var payload githubMergeResponse
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if resp.StatusCode != http.StatusOK {
		message := payload.Message
		if message == "" {
			message = resp.Status
		}
		return MergeResult{Merged: false, Message: message}, fmt.Errorf("merge pull request %d: %s", pr.Number, message)
	}
	return MergeResult{Merged: payload.Merged, SHA: payload.SHA, Message: payload.Message}, nil
}
