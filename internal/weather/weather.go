// Package weather fetches current conditions from weatherapi.com.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nugget/veronica/internal/config"
	"github.com/nugget/veronica/internal/httpkit"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("weather: api key not configured")

// Client looks up current conditions for one fixed location.
type Client struct {
	baseURL    string
	apiKey     string
	location   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a weather client from cfg.
func New(cfg config.WeatherConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		location:   cfg.Location,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:     logger.With("component", "weather"),
	}
}

// Current returns the provider's current-conditions document verbatim.
// Results are not cached.
func (c *Client) Current(ctx context.Context) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", c.location)
	endpoint := c.baseURL + "/v1/current.json?" + q.Encode()

	data, err := httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("weather lookup for %s: %w", c.location, err)
	}
	c.logger.Debug("weather fetched", "location", c.location, "bytes", len(data))
	return data, nil
}
