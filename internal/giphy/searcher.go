// Package giphy looks up GIF URLs for a search query on the Giphy API.
package giphy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

//go:generate mockgen -source=searcher.go -destination=mocks/searcher_mock.go -package=mocks

// DefaultQuery is used when a search names no query.
const DefaultQuery = "funny"

// ErrSearchFailed wraps every lookup failure.
var ErrSearchFailed = errors.New("giphy search failed")

// Searcher returns image URLs matching a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Config holds the Giphy client settings.
type Config struct {
	APIKey  string
	BaseURL string
	Limit   int
	Rating  string
	Timeout time.Duration
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client is a Searcher backed by the Giphy search endpoint. Failures are
// reported once and never retried; repeated failures open a circuit breaker
// that fails fast until the upstream recovers.
type Client struct {
	http *http.Client
	cfg  Config
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
}

type gif struct {
	Images struct {
		FixedHeight struct {
			URL string `json:"url"`
		} `json:"fixed_height"`
	} `json:"images"`
}

type searchResponse struct {
	Data []gif `json:"data"`
}

// NewClient returns a Giphy client.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.giphy.com/v1/gifs/search"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Rating == "" {
		cfg.Rating = "g"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:        "giphy",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A caller hanging up says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
		cb:   gobreaker.NewCircuitBreaker(st),
		log:  log,
	}
}

// Search returns the fixed-height image URLs for query.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	if query == "" {
		query = DefaultQuery
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.search(ctx, query)
	})
	if err != nil {
		c.log.Warn("Giphy search failed", zap.String("query", query), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	return res.([]string), nil
}

func (c *Client) search(ctx context.Context, query string) ([]string, error) {
	params := url.Values{}
	params.Set("api_key", c.cfg.APIKey)
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(c.cfg.Limit))
	params.Set("rating", c.cfg.Rating)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	urls := lo.FilterMap(body.Data, func(item gif, _ int) (string, bool) {
		return item.Images.FixedHeight.URL, item.Images.FixedHeight.URL != ""
	})
	return urls, nil
}
