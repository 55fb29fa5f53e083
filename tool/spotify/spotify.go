// Package spotify implements the Spotify tool client on top of an OAuth2
// authenticated HTTP client.
package spotify

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

// Name is the tool name the Spotify client is registered under.
const Name = "spotify"

// Description is shown to the model.
const Description = "Access the user's Spotify account. Actions: search (find tracks, artists or albums), " +
	"now_playing (what the user is currently listening to)."

// DefaultBaseURL is the Spotify Web API root.
const DefaultBaseURL = "https://api.spotify.com/v1"

// Endpoint is Spotify's OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.spotify.com/authorize",
	TokenURL: "https://accounts.spotify.com/api/token",
}

// Actions.
const (
	ActionSearch     = "search"
	ActionNowPlaying = "now_playing"
)

// Args is the Spotify tool input.
type Args struct {
	Action string `json:"action" jsonschema:"enum=search,enum=now_playing"`
	Query  string `json:"query,omitempty" jsonschema:"description=Search query for search"`
	Type   string `json:"type,omitempty" jsonschema:"enum=track,enum=artist,enum=album"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20"`
}

// Item is a track, artist or album summary.
type Item struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Artists []string `json:"artists,omitempty"`
	Album   string   `json:"album,omitempty"`
	URL     string   `json:"url"`
}

// Options configure the client.
type Options struct {
	BaseURL string
}

// Client calls the Spotify Web API.
type Client struct {
	http *http.Client
	opts Options
}

// NewClient creates a client; httpClient must attach credentials.
func NewClient(httpClient *http.Client, optFns ...func(o *Options)) *Client {
	opts := Options{BaseURL: DefaultBaseURL}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{http: httpClient, opts: opts}
}

// Run dispatches one tool action and returns the model text plus UI data.
func (c *Client) Run(ctx context.Context, args Args) (string, any, error) {
	switch args.Action {
	case ActionSearch:
		if strings.TrimSpace(args.Query) == "" {
			return "", nil, errors.New("query is required for search")
		}
		items, err := c.Search(ctx, args.Query, args.Type, args.Limit)
		if err != nil {
			return "", nil, err
		}
		return formatItems(items), items, nil
	case ActionNowPlaying:
		item, err := c.NowPlaying(ctx)
		if err != nil {
			return "", nil, err
		}
		if item == nil {
			return "Nothing is playing right now.", nil, nil
		}
		return "Now playing: " + describe(*item), item, nil
	default:
		return "", nil, fmt.Errorf("unknown action %q", args.Action)
	}
}

type apiArtist struct {
	Name         string            `json:"name"`
	ExternalURLs map[string]string `json:"external_urls"`
}

type apiTrack struct {
	Name         string                `json:"name"`
	Artists      []apiArtist           `json:"artists"`
	Album        struct{ Name string } `json:"album"`
	ExternalURLs map[string]string     `json:"external_urls"`
}

func (t apiTrack) item() Item {
	return Item{Type: "track", Name: t.Name, Artists: names(t.Artists), Album: t.Album.Name, URL: t.ExternalURLs["spotify"]}
}

// Search finds catalog items. kind defaults to "track".
func (c *Client) Search(ctx context.Context, query, kind string, limit int) ([]Item, error) {
	if kind == "" {
		kind = "track"
	}
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", kind)
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Tracks struct {
			Items []apiTrack `json:"items"`
		} `json:"tracks"`
		Artists struct {
			Items []apiArtist `json:"items"`
		} `json:"artists"`
		Albums struct {
			Items []struct {
				Name         string            `json:"name"`
				Artists      []apiArtist       `json:"artists"`
				ExternalURLs map[string]string `json:"external_urls"`
			} `json:"items"`
		} `json:"albums"`
	}

	status, err := c.get(ctx, "/search?"+q.Encode(), &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}

	var items []Item
	for _, t := range resp.Tracks.Items {
		items = append(items, t.item())
	}
	for _, a := range resp.Artists.Items {
		items = append(items, Item{Type: "artist", Name: a.Name, URL: a.ExternalURLs["spotify"]})
	}
	for _, al := range resp.Albums.Items {
		items = append(items, Item{Type: "album", Name: al.Name, Artists: names(al.Artists), URL: al.ExternalURLs["spotify"]})
	}
	return items, nil
}

// NowPlaying returns the currently playing track, or nil when idle.
func (c *Client) NowPlaying(ctx context.Context) (*Item, error) {
	var resp struct {
		IsPlaying bool      `json:"is_playing"`
		Item      *apiTrack `json:"item"`
	}

	status, err := c.get(ctx, "/me/player/currently-playing", &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || resp.Item == nil {
		return nil, nil
	}

	item := resp.Item.item()
	return &item, nil
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.opts.BaseURL, "/")+path, nil)
	if err != nil {
		return 0, fmt.Errorf("spotify request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("spotify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("spotify response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return resp.StatusCode, fmt.Errorf("spotify API returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return resp.StatusCode, fmt.Errorf("spotify API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode spotify response: %w", err)
	}
	return resp.StatusCode, nil
}

func names(artists []apiArtist) []string {
	out := make([]string, 0, len(artists))
	for _, a := range artists {
		out = append(out, a.Name)
	}
	return out
}

func describe(it Item) string {
	s := it.Name
	if len(it.Artists) > 0 {
		s += " by " + strings.Join(it.Artists, ", ")
	}
	if it.Album != "" {
		s += " (" + it.Album + ")"
	}
	return s
}

func formatItems(items []Item) string {
	if len(items) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, it.Type, describe(it))
		if it.URL != "" {
			fmt.Fprintf(&sb, " %s", it.URL)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
