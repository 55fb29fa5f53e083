package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "sp"}))
	return NewClient(httpClient, func(o *Options) { o.BaseURL = srv.URL })
}

func TestClient_SearchTracks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		assert.Equal(t, "Bearer sp", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"tracks":{"items":[{"name":"Song","artists":[{"name":"Band"}],"album":{"name":"LP"},"external_urls":{"spotify":"https://open.spotify.com/track/1"}}]}}`))
	})

	text, data, err := c.Run(context.Background(), Args{Action: ActionSearch, Query: "song"})
	require.NoError(t, err)
	assert.Equal(t, "1. [track] Song by Band (LP) https://open.spotify.com/track/1", text)
	items := data.([]Item)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"Band"}, items[0].Artists)
}

func TestClient_NowPlaying(t *testing.T) {
	var idle atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if idle.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"is_playing":true,"item":{"name":"Song","artists":[{"name":"Band"}],"album":{"name":"LP"}}}`))
	})

	text, _, err := c.Run(context.Background(), Args{Action: ActionNowPlaying})
	require.NoError(t, err)
	assert.Equal(t, "Now playing: Song by Band (LP)", text)

	idle.Store(true)
	text, data, err := c.Run(context.Background(), Args{Action: ActionNowPlaying})
	require.NoError(t, err)
	assert.Equal(t, "Nothing is playing right now.", text)
	assert.Nil(t, data)
}

func TestClient_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"status":403,"message":"Insufficient client scope"}}`))
	})

	_, _, err := c.Run(context.Background(), Args{Action: ActionNowPlaying})
	assert.ErrorContains(t, err, "Insufficient client scope")

	_, _, err = c.Run(context.Background(), Args{Action: ActionSearch})
	assert.ErrorContains(t, err, "query is required")
}
