// Package search provides the Brave Search backed web search tool client.
package search

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
	"time"
)

// Name is the tool name search is registered under.
const Name = "search"

// Description is shown to the model.
const Description = "Search the web for current information. Returns titles, URLs and snippets of the top results."

// DefaultBaseURL is the Brave Search API root.
const DefaultBaseURL = "https://api.search.brave.com/res/v1"

const (
	defaultCount = 5
	maxCount     = 20
)

// Type selects the result vertical.
type Type string

// Supported verticals.
const (
	TypeWeb  Type = "web"
	TypeNews Type = "news"
)

// Args is the search tool input.
type Args struct {
	Query string `json:"query" jsonschema:"description=The search query"`
	Count int    `json:"count,omitempty" jsonschema:"description=Number of results (1-20),minimum=1,maximum=20"`
	Type  Type   `json:"type,omitempty" jsonschema:"description=Result vertical,enum=web,enum=news"`
}

// Hit is one search result.
type Hit struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, args Args) ([]Hit, error)
}

// Options configure the Brave client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
}

// BraveClient queries the Brave Search API.
type BraveClient struct {
	apiKey string
	opts   Options
}

// ErrNoAPIKey is returned by NewBraveClient for an empty key.
var ErrNoAPIKey = errors.New("brave api key not configured")

// NewBraveClient creates a Brave Search client.
func NewBraveClient(apiKey string, optFns ...func(o *Options)) (*BraveClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}

	opts := Options{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &BraveClient{apiKey: apiKey, opts: opts}, nil
}

// Search implements Searcher.
func (c *BraveClient) Search(ctx context.Context, args Args) ([]Hit, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, errors.New("query is empty")
	}

	count := args.Count
	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}

	endpoint := "/web/search"
	if args.Type == TypeNews {
		endpoint = "/news/search"
	}

	searchURL, err := url.Parse(strings.TrimRight(c.opts.BaseURL, "/") + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if args.Type == TypeNews {
		return parseNews(body)
	}
	return parseWeb(body)
}

func parseWeb(body []byte) ([]Hit, error) {
	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	hits := make([]Hit, 0, len(braveResp.Web.Results))
	for _, r := range braveResp.Web.Results {
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Snippet: stripTags(r.Description), PublishedAt: r.Age})
	}
	return hits, nil
}

func parseNews(body []byte) ([]Hit, error) {
	var braveResp struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	hits := make([]Hit, 0, len(braveResp.Results))
	for _, r := range braveResp.Results {
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Snippet: stripTags(r.Description), PublishedAt: r.Age})
	}
	return hits, nil
}

// stripTags removes the <strong> highlighting Brave puts into snippets.
func stripTags(s string) string {
	r := strings.NewReplacer("<strong>", "", "</strong>", "")
	return r.Replace(s)
}

// Format renders hits as the text handed back to the model.
func Format(query string, hits []Hit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, h := range hits {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n", i+1, h.Title, h.URL)
		if h.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", h.Snippet)
		}
		if h.PublishedAt != "" {
			fmt.Fprintf(&sb, "   Published: %s\n", h.PublishedAt)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
