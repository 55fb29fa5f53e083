package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/config"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/model/anthropic"
	"github.com/hupe1980/agentstream/model/openai"
	"github.com/hupe1980/agentstream/observability"
	"github.com/hupe1980/agentstream/prompt"
	"github.com/hupe1980/agentstream/runner"
	"github.com/hupe1980/agentstream/server"
	"github.com/hupe1980/agentstream/store/sqlite"
	"github.com/hupe1980/agentstream/tool"
	"github.com/hupe1980/agentstream/tool/github"
	"github.com/hupe1980/agentstream/tool/search"
	"github.com/hupe1980/agentstream/tool/spotify"
)

// services is everything a command needs, built from the configuration.
type services struct {
	app      *agentstream.AgentStream
	logger   zerolog.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry
	tracer   *observability.Tracer

	closers []func(context.Context) error
}

func (s *services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(logging.ZerologLevel(logging.ParseLevel(cfg.Level))).
		With().Timestamp().Str("service", "agentstream").Logger()
}

func buildServices(cfg *config.Config, logOut io.Writer) (*services, error) {
	s := &services{logger: newLogger(cfg.Logging, logOut)}
	logger := logging.NewZerologAdapter(s.logger)

	if cfg.Observability.Metrics {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = observability.NewMetrics(s.registry)
	}

	if cfg.Observability.Tracing.Enabled {
		tracer, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "agentstream",
			ServiceVersion: version,
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			Insecure:       cfg.Observability.Tracing.Insecure,
		})
		s.tracer = tracer
		s.closers = append(s.closers, shutdown)
	}

	caps, err := capabilities(cfg)
	if err != nil {
		return nil, err
	}

	opts := []func(o *agentstream.Options){func(o *agentstream.Options) {
		o.Logger = logger
		o.EnableMemory = cfg.Tools.Memory
		o.Instructions = cfg.Agent.Instructions
		if cfg.Agent.SystemPrompt != "" {
			o.Prompt = prompt.New(func(po *prompt.Options) { po.Template = cfg.Agent.SystemPrompt })
		}
		o.RunnerOptions = append(o.RunnerOptions, func(ro *runner.Options) {
			ro.ModelProvider = modelProvider(cfg.Model)
			ro.Capabilities.Calculator = caps.Calculator
			ro.Capabilities.Search = caps.Search
			ro.Capabilities.GitHub = caps.GitHub
			ro.Capabilities.GitHubOptions = caps.GitHubOptions
			ro.Capabilities.Spotify = caps.Spotify
			ro.Capabilities.SpotifyOptions = caps.SpotifyOptions
			ro.Capabilities.Native = caps.Native
			ro.MaxIterations = cfg.Agent.MaxIterations
			ro.MaxParallelTools = cfg.Agent.MaxParallelTools
			ro.CacheMinMessages = cfg.Agent.CacheMinMessages
			if cfg.Model.MaxTokens > 0 {
				ro.MaxTokens = cfg.Model.MaxTokens
			}
			if cm := cfg.Agent.ContextManagement; cm != nil {
				ro.ContextManagement = &model.ContextManagement{
					TriggerInputTokens: cm.TriggerInputTokens,
					KeepToolUses:       cm.KeepToolUses,
					ClearAtLeastTokens: cm.ClearAtLeastTokens,
					ExcludeTools:       cm.ExcludeTools,
				}
			}
			ro.Metrics = s.metrics
			ro.Tracer = s.tracer
		})
	}}

	if cfg.Storage.Driver == "sqlite" {
		store, err := sqlite.New(cfg.Storage.Path, func(o *sqlite.Options) {
			o.Metrics = s.metrics
			o.Logger = logger
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })
		opts = append(opts, func(o *agentstream.Options) {
			o.ChatStore = store.Chats()
			o.DocumentStore = store
		})
	}

	s.app = agentstream.New(opts...)
	return s, nil
}

// capabilities maps the tool configuration onto the registry's inputs.
// Connections are wired by the façade.
func capabilities(cfg *config.Config) (tool.CapabilitySet, error) {
	t := cfg.Tools
	caps := tool.CapabilitySet{
		Calculator: t.Calculator,
		Native: tool.NativeTools{
			WebSearch:        t.WebSearch.Enabled,
			WebSearchMaxUses: t.WebSearch.MaxUses,
			WebFetch:         t.WebFetch.Enabled,
			WebFetchMaxUses:  t.WebFetch.MaxUses,
			AllowedHosts:     t.WebFetch.AllowedHosts,
		},
	}

	if t.Search.APIKey != "" {
		client, err := search.NewBraveClient(t.Search.APIKey, func(o *search.Options) {
			if t.Search.BaseURL != "" {
				o.BaseURL = t.Search.BaseURL
			}
		})
		if err != nil {
			return caps, fmt.Errorf("search tool: %w", err)
		}
		caps.Search = client
	}

	if t.GitHub.Enabled {
		caps.GitHub = oauthConfig(t.GitHub, github.Endpoint)
		if t.GitHub.BaseURL != "" {
			caps.GitHubOptions = append(caps.GitHubOptions, func(o *github.Options) { o.BaseURL = t.GitHub.BaseURL })
		}
	}
	if t.Spotify.Enabled {
		caps.Spotify = oauthConfig(t.Spotify, spotify.Endpoint)
		if t.Spotify.BaseURL != "" {
			caps.SpotifyOptions = append(caps.SpotifyOptions, func(o *spotify.Options) { o.BaseURL = t.Spotify.BaseURL })
		}
	}

	return caps, nil
}

func oauthConfig(c config.OAuthConfig, endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		Endpoint:     endpoint,
	}
}

// modelProvider creates a provider adapter per run so that every request
// can bring its own API key.
func modelProvider(cfg config.ModelConfig) runner.ModelProvider {
	return func(apiKey string) (model.Model, error) {
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		if apiKey == "" {
			return nil, &core.AgentError{
				Type:    core.ErrorAuthentication,
				Status:  http.StatusUnauthorized,
				Message: "no API key was provided",
			}
		}

		switch cfg.Provider {
		case "openai":
			return openai.NewModel(func(o *openai.Options) {
				o.APIKey = apiKey
				o.BaseURL = cfg.BaseURL
				o.MaxRetries = cfg.MaxRetries
				if cfg.Name != "" {
					o.Model = cfg.Name
				}
			}), nil
		default:
			return anthropic.NewModel(func(o *anthropic.Options) {
				o.APIKey = apiKey
				o.BaseURL = cfg.BaseURL
				o.MaxRetries = cfg.MaxRetries
				if cfg.Name != "" {
					o.Model = sdk.Model(cfg.Name)
				}
			}), nil
		}
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	svc, err := buildServices(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := svc.Close(shutdownCtx); err != nil {
			svc.logger.Warn().Err(err).Msg("serve.close.failed")
		}
	}()

	srv := server.New(svc.app, func(o *server.Options) {
		o.Addr = cfg.Server.Addr()
		o.AllowedOrigins = cfg.Server.AllowedOrigins
		o.ReadTimeout = cfg.Server.ReadTimeout
		o.IdleTimeout = cfg.Server.IdleTimeout
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		o.HeartbeatInterval = cfg.Server.HeartbeatInterval
		o.DefaultAPIKey = cfg.Model.APIKey
		o.AccessTokens = cfg.Server.AccessTokens
		o.UserID = cfg.Server.UserID
		o.Effort = cfg.Agent.Effort
		o.ThinkingBudget = cfg.Agent.ThinkingBudget
		o.Logger = svc.logger
		o.Metrics = svc.metrics
		if svc.registry != nil {
			o.Gatherer = svc.registry
		}
		o.Tracer = svc.tracer
	})

	svc.logger.Info().
		Str("provider", cfg.Model.Provider).
		Str("storage", cfg.Storage.Driver).
		Bool("metrics", cfg.Observability.Metrics).
		Bool("tracing", cfg.Observability.Tracing.Enabled).
		Msg("serve.start")

	return srv.ListenAndServe(ctx)
}
