// Package trainstatus scrapes live running status for Indian Railways
// trains from runningstatus.in.
package trainstatus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nugget/veronica/internal/config"
	"github.com/nugget/veronica/internal/httpkit"
)

// ErrStatusUnavailable is returned when the status page has no
// recognizable status card.
var ErrStatusUnavailable = errors.New("train status unavailable")

// DateLayout is the date format used in status page URLs.
const DateLayout = "20060102"

var datePattern = regexp.MustCompile(`^\d{8}$`)

// Status is the scraped status of one train on one day.
type Status struct {
	TrainName    string `json:"trainName"`
	TrainContent string `json:"trainContent"`
}

// Parse extracts the train name and status line from a status page.
// The name is the card header's h1; the status is the third line of
// the header text, up to the first "|".
func Parse(r io.Reader) (*Status, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse status page: %w", err)
	}

	card := doc.Find(".card-header")
	if card.Length() == 0 {
		return nil, ErrStatusUnavailable
	}

	name := strings.TrimSpace(card.Find("h1").First().Text())
	lines := strings.Split(card.Text(), "\n")

	var content string
	if len(lines) > 2 {
		content = statusPart(lines[2])
	}
	if content == "" {
		for _, l := range lines {
			if c := statusPart(l); c != "" && c != name {
				content = c
				break
			}
		}
	}
	if name == "" || content == "" {
		return nil, ErrStatusUnavailable
	}
	return &Status{TrainName: name, TrainContent: content}, nil
}

func statusPart(line string) string {
	before, _, _ := strings.Cut(line, "|")
	return strings.TrimSpace(before)
}

// Client looks up train status pages.
type Client struct {
	baseURL      string
	defaultTrain int
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a client from cfg.
func New(cfg config.TrainStatusConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		defaultTrain: cfg.DefaultTrain,
		httpClient:   httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:       logger.With("component", "trainstatus"),
		now:          time.Now,
	}
}

// Lookup fetches the status of train on date (YYYYMMDD). A zero train
// uses the configured default; an empty date means today.
func (c *Client) Lookup(ctx context.Context, train int, date string) (*Status, error) {
	if train == 0 {
		train = c.defaultTrain
	}
	if train <= 0 {
		return nil, fmt.Errorf("invalid train number %d", train)
	}
	if date == "" {
		date = c.now().Format(DateLayout)
	}
	if !datePattern.MatchString(date) {
		return nil, fmt.Errorf("invalid date %q: want YYYYMMDD", date)
	}

	url := fmt.Sprintf("%s/status/%d-on-%s", c.baseURL, train, date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 256)
		return nil, fmt.Errorf("status page %s: HTTP %d: %s", url, resp.StatusCode, body)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	status, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("train %d on %s: %w", train, date, err)
	}
	c.logger.Debug("train status fetched", "train", train, "date", date, "name", status.TrainName)
	return status, nil
}
