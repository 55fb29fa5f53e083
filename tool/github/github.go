// Package github implements the GitHub tool client on top of an OAuth2
// authenticated HTTP client.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// Name is the tool name the GitHub client is registered under.
const Name = "github"

// Description is shown to the model.
const Description = "Access the user's GitHub account. Actions: list_repos (list the user's repositories), " +
	"search_issues (search issues and pull requests with GitHub search syntax), " +
	"create_issue (open an issue in owner/repo)."

// DefaultBaseURL is the GitHub REST API root.
const DefaultBaseURL = "https://api.github.com"

// Endpoint is GitHub's OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://github.com/login/oauth/authorize",
	TokenURL: "https://github.com/login/oauth/access_token",
}

// Actions.
const (
	ActionListRepos    = "list_repos"
	ActionSearchIssues = "search_issues"
	ActionCreateIssue  = "create_issue"
)

// Args is the GitHub tool input.
type Args struct {
	Action string `json:"action" jsonschema:"enum=list_repos,enum=search_issues,enum=create_issue"`
	Query  string `json:"query,omitempty" jsonschema:"description=Search query for search_issues"`
	Repo   string `json:"repo,omitempty" jsonschema:"description=Repository as owner/name for create_issue"`
	Title  string `json:"title,omitempty" jsonschema:"description=Issue title for create_issue"`
	Body   string `json:"body,omitempty" jsonschema:"description=Issue body for create_issue"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

// Repo is a repository summary.
type Repo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
	Private     bool   `json:"private"`
	Stars       int    `json:"stargazers_count"`
	Language    string `json:"language"`
}

// Issue is an issue or pull request summary.
type Issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	RepoURL string `json:"repository_url"`
}

// Options configure the client.
type Options struct {
	BaseURL string
}

// Client calls the GitHub REST API.
type Client struct {
	http *http.Client
	opts Options
}

// NewClient creates a client; httpClient must attach credentials (see
// oauth2.NewClient).
func NewClient(httpClient *http.Client, optFns ...func(o *Options)) *Client {
	opts := Options{BaseURL: DefaultBaseURL}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{http: httpClient, opts: opts}
}

// Run dispatches one tool action and returns the model text plus UI data.
func (c *Client) Run(ctx context.Context, args Args) (string, any, error) {
	limit := args.Limit
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	switch args.Action {
	case ActionListRepos:
		repos, err := c.ListRepos(ctx, limit)
		if err != nil {
			return "", nil, err
		}
		return formatRepos(repos), repos, nil
	case ActionSearchIssues:
		if strings.TrimSpace(args.Query) == "" {
			return "", nil, errors.New("query is required for search_issues")
		}
		issues, err := c.SearchIssues(ctx, args.Query, limit)
		if err != nil {
			return "", nil, err
		}
		return formatIssues(issues), issues, nil
	case ActionCreateIssue:
		if args.Repo == "" || args.Title == "" {
			return "", nil, errors.New("repo and title are required for create_issue")
		}
		issue, err := c.CreateIssue(ctx, args.Repo, args.Title, args.Body)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Created issue #%d: %s", issue.Number, issue.HTMLURL), issue, nil
	default:
		return "", nil, fmt.Errorf("unknown action %q", args.Action)
	}
}

// ListRepos lists repositories of the authenticated user, most recently updated first.
func (c *Client) ListRepos(ctx context.Context, limit int) ([]Repo, error) {
	q := url.Values{}
	q.Set("sort", "updated")
	q.Set("per_page", strconv.Itoa(limit))

	var repos []Repo
	if err := c.do(ctx, http.MethodGet, "/user/repos?"+q.Encode(), nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// SearchIssues searches issues and pull requests.
func (c *Client) SearchIssues(ctx context.Context, query string, limit int) ([]Issue, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("per_page", strconv.Itoa(limit))

	var resp struct {
		Items []Issue `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/issues?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// CreateIssue opens an issue in repo ("owner/name").
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("repo must be owner/name, got %q", repo)
	}

	payload := map[string]string{"title": title, "body": body}
	var issue Issue
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/issues"
	if err := c.do(ctx, http.MethodPost, path, payload, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.opts.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("github response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("github API returned status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("github API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}

func formatRepos(repos []Repo) string {
	if len(repos) == 0 {
		return "No repositories found."
	}
	var sb strings.Builder
	for i, r := range repos {
		fmt.Fprintf(&sb, "%d. %s", i+1, r.FullName)
		if r.Private {
			sb.WriteString(" (private)")
		}
		if r.Language != "" {
			fmt.Fprintf(&sb, " [%s]", r.Language)
		}
		fmt.Fprintf(&sb, " ★%d", r.Stars)
		if r.Description != "" {
			fmt.Fprintf(&sb, " - %s", r.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatIssues(issues []Issue) string {
	if len(issues) == 0 {
		return "No issues found."
	}
	var sb strings.Builder
	for _, is := range issues {
		fmt.Fprintf(&sb, "#%d [%s] %s %s\n", is.Number, is.State, is.Title, is.HTMLURL)
	}
	return strings.TrimRight(sb.String(), "\n")
}
