package tool

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hupe1980/agentstream/connection"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/tool/calculator"
	"github.com/hupe1980/agentstream/tool/github"
	memtool "github.com/hupe1980/agentstream/tool/memory"
	"github.com/hupe1980/agentstream/tool/search"
	"github.com/hupe1980/agentstream/tool/spotify"
)

// CapabilitySet lists the clients a run may expose as tools. Zero values
// disable the corresponding tool.
type CapabilitySet struct {
	// Calculator enables the arithmetic tool.
	Calculator bool

	// Search backs the web search tool; nil when no API key is configured.
	Search search.Searcher

	// Memory backs the memory tool. It is only exposed when UserID is set.
	Memory core.DocumentStore
	UserID string

	// Connections resolves the user's linked accounts for GitHub and Spotify.
	Connections core.ConnectionStore
	GitHub      *oauth2.Config
	Spotify     *oauth2.Config

	// GitHubOptions and SpotifyOptions override the API endpoints.
	GitHubOptions  []func(o *github.Options)
	SpotifyOptions []func(o *spotify.Options)

	// Native enables provider executed tools.
	Native NativeTools
}

// NativeTools configures the tools the provider runs itself.
type NativeTools struct {
	WebSearch        bool
	WebSearchMaxUses int64
	UserLocation     *model.UserLocation

	WebFetch        bool
	WebFetchMaxUses int64
	AllowedHosts    []string
}

// Provider tool names.
const (
	WebSearchName = "web_search"
	WebFetchName  = "web_fetch"
)

// Specs returns the declarations of the enabled native tools.
func (n NativeTools) Specs() []model.ToolSpec {
	var specs []model.ToolSpec
	if n.WebSearch {
		var loc *model.UserLocation
		if !n.UserLocation.IsZero() {
			loc = n.UserLocation
		}
		specs = append(specs, model.ToolSpec{
			Kind:         model.ToolWebSearch,
			Name:         WebSearchName,
			MaxUses:      n.WebSearchMaxUses,
			UserLocation: loc,
		})
	}
	if n.WebFetch {
		specs = append(specs, model.ToolSpec{
			Kind:         model.ToolWebFetch,
			Name:         WebFetchName,
			MaxUses:      n.WebFetchMaxUses,
			AllowedHosts: n.AllowedHosts,
		})
	}
	return specs
}

// BuildTools assembles the locally executed tools enabled by caps. Tools
// whose dependency is missing are omitted rather than exposed in a failing
// state. The returned names are unique, including against native tools.
func BuildTools(ctx context.Context, caps CapabilitySet) ([]Tool, error) {
	var tools []Tool

	if caps.Calculator {
		tools = append(tools, newCalculatorTool())
	}

	if caps.Search != nil {
		tools = append(tools, newSearchTool(caps.Search))
	}

	if caps.Memory != nil && caps.UserID != "" {
		tools = append(tools, newMemoryTool(memtool.New(caps.Memory)))
	}

	gh, err := oauthClient(ctx, caps, core.ProviderGitHub, caps.GitHub)
	if err != nil {
		return nil, err
	}
	if gh != nil {
		tools = append(tools, newGitHubTool(github.NewClient(gh, caps.GitHubOptions...)))
	}

	sp, err := oauthClient(ctx, caps, core.ProviderSpotify, caps.Spotify)
	if err != nil {
		return nil, err
	}
	if sp != nil {
		tools = append(tools, newSpotifyTool(spotify.NewClient(sp, caps.SpotifyOptions...)))
	}

	names := make([]string, 0, len(tools)+2)
	for _, t := range tools {
		names = append(names, t.Name())
	}
	for _, s := range caps.Native.Specs() {
		names = append(names, s.Name)
	}
	if err := AssertUnique(names); err != nil {
		return nil, err
	}

	return tools, nil
}

// oauthClient returns nil when the user has no connection for provider.
func oauthClient(ctx context.Context, caps CapabilitySet, provider string, cfg *oauth2.Config) (*http.Client, error) {
	if caps.Connections == nil || caps.UserID == "" {
		return nil, nil
	}
	client, err := connection.HTTPClient(ctx, caps.Connections, caps.UserID, provider, cfg)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s connection: %w", provider, err)
	}
	return client, nil
}

func newCalculatorTool() *FunctionTool {
	return NewFunctionToolFromStruct(calculator.Name, calculator.Description,
		func(_ *core.ToolContext, args calculator.Args) (any, error) {
			return calculator.Evaluate(args.Expression)
		})
}

func newSearchTool(s search.Searcher) *FunctionTool {
	return NewFunctionToolFromStruct(search.Name, search.Description,
		func(tc *core.ToolContext, args search.Args) (any, error) {
			_ = tc.Progress("searching", map[string]any{"query": args.Query})

			hits, err := s.Search(tc.Context(), args)
			if err != nil {
				return nil, err
			}
			return Result{Text: search.Format(args.Query, hits), Data: map[string]any{"hits": hits}}, nil
		})
}

func newMemoryTool(a *memtool.Adapter) *FunctionTool {
	return NewFunctionToolFromStruct(memtool.Name, memtool.Description,
		func(tc *core.ToolContext, cmd memtool.Command) (any, error) {
			return a.Execute(tc.Context(), tc.UserID(), cmd)
		}).WithKind(model.ToolMemory)
}

func newGitHubTool(c *github.Client) *FunctionTool {
	return NewFunctionToolFromStruct(github.Name, github.Description,
		func(tc *core.ToolContext, args github.Args) (any, error) {
			text, data, err := c.Run(tc.Context(), args)
			if err != nil {
				return nil, err
			}
			return Result{Text: text, Data: data}, nil
		})
}

func newSpotifyTool(c *spotify.Client) *FunctionTool {
	return NewFunctionToolFromStruct(spotify.Name, spotify.Description,
		func(tc *core.ToolContext, args spotify.Args) (any, error) {
			text, data, err := c.Run(tc.Context(), args)
			if err != nil {
				return nil, err
			}
			return Result{Text: text, Data: data}, nil
		})
}
