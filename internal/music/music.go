// Package music drives the music-control session over its /next
// endpoint.
package music

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/veronica/internal/config"
	"github.com/nugget/veronica/internal/httpkit"
)

// ErrNotConfigured is returned when no session URL is set.
var ErrNotConfigured = errors.New("music: session url not configured")

// Playback control actions accepted by the session.
const (
	ActionNext    = "next"
	ActionDetails = "details"
	ActionPlay    = "play"
	ActionPause   = "pause"
)

// Controls lists the actions accepted by [Client.Control].
var Controls = []string{ActionNext, ActionDetails, ActionPlay, ActionPause}

// command is the body posted to /next.
type command struct {
	Action string `json:"action"`
	Genre  string `json:"genre,omitempty"`
	Query  string `json:"query,omitempty"`
}

// Client talks to the music-control session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a music client from cfg.
func New(cfg config.MusicConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:     logger.With("component", "music"),
	}
}

// Control sends a playback action and returns the session state.
func (c *Client) Control(ctx context.Context, action string) (json.RawMessage, error) {
	return c.send(ctx, command{Action: action})
}

// RandomSong starts a random song of genre and returns what is playing.
func (c *Client) RandomSong(ctx context.Context, genre string) (json.RawMessage, error) {
	return c.send(ctx, command{Action: "randomSong", Genre: genre})
}

// SearchSong plays the best match for query and returns what is playing.
func (c *Client) SearchSong(ctx context.Context, query string) (json.RawMessage, error) {
	return c.send(ctx, command{Action: "searchSong", Query: query})
}

func (c *Client) send(ctx context.Context, cmd command) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	c.logger.Debug("music command", "action", cmd.Action, "genre", cmd.Genre, "query", cmd.Query)

	data, err := httpkit.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/next", cmd)
	if err != nil {
		return nil, fmt.Errorf("music %s: %w", cmd.Action, err)
	}
	return data, nil
}
