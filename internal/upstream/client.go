// Package upstream provides the per-connector HTTP facade to the *arr
// family servers the engine mirrors and dispatches searches against. It
// generalizes the teacher's provider/bdl rate-limited client into a
// facade shaped around each connector's own base URL and API key, with
// wire-error categorization feeding the engine's own taxonomy rather than
// retrying blindly.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/engels74/comradarr-sub004/internal/apperr"
)

// Client is the shared HTTP facade for one connector.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	userAgent   string
	maxAttempts int
	logger      *slog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
}

// NewClient builds a Client with base URLs normalized per §6 (trailing
// slash stripped).
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		userAgent:   cfg.UserAgent,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SystemStatusResponse is the decoded GET /system/status body.
type SystemStatusResponse struct {
	Version string `json:"version"`
}

// HealthCheck is one entry in the GET /health response array.
type HealthCheck struct {
	Source  string `json:"source"`
	Type    string `json:"type"` // ok, warning, error
	Message string `json:"message"`
}

// Ping calls GET /ping; a 200 response means the connector is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/ping", nil)
	return err
}

// SystemStatus calls GET /system/status.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatusResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/system/status", nil)
	if err != nil {
		return nil, err
	}
	var out SystemStatusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode system status", err)
	}
	return &out, nil
}

// Health calls GET /health, returning the raw health-check list the
// reconnect controller derives healthy/degraded from.
func (c *Client) Health(ctx context.Context) ([]HealthCheck, error) {
	body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var out []HealthCheck
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode health response", err)
	}
	return out, nil
}

// SeriesRecord is one entry in the series catalog listing.
type SeriesRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Monitored bool   `json:"monitored"`
}

// MovieRecord is one entry in the movie catalog listing.
type MovieRecord struct {
	ID                  int64   `json:"id"`
	Title               string  `json:"title"`
	HasFile             bool    `json:"hasFile"`
	Monitored           bool    `json:"monitored"`
	QualityCutoffNotMet bool    `json:"qualityCutoffNotMet"`
	Quality             *string `json:"quality"`
}

// EpisodeRecord is one entry in the episode catalog listing.
type EpisodeRecord struct {
	ID                  int64   `json:"id"`
	SeriesID            int64   `json:"seriesId"`
	SeasonNumber        int     `json:"seasonNumber"`
	EpisodeNumber       int     `json:"episodeNumber"`
	HasFile             bool    `json:"hasFile"`
	Monitored           bool    `json:"monitored"`
	QualityCutoffNotMet bool    `json:"qualityCutoffNotMet"`
	Quality             *string `json:"quality"`
}

// ListSeries calls GET /series.
func (c *Client) ListSeries(ctx context.Context) ([]SeriesRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/series", nil)
	if err != nil {
		return nil, err
	}
	var out []SeriesRecord
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode series list", err)
	}
	return out, nil
}

// ListMovies calls GET /movie.
func (c *Client) ListMovies(ctx context.Context) ([]MovieRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/movie", nil)
	if err != nil {
		return nil, err
	}
	var out []MovieRecord
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode movie list", err)
	}
	return out, nil
}

// ListEpisodes calls GET /episode?seriesId=….
func (c *Client) ListEpisodes(ctx context.Context, seriesID int64) ([]EpisodeRecord, error) {
	q := url.Values{"seriesId": {strconv.FormatInt(seriesID, 10)}}
	body, err := c.do(ctx, http.MethodGet, "/episode?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out []EpisodeRecord
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode episode list", err)
	}
	return out, nil
}

// SearchName is the `name` field of a dispatch-search command body (§6).
type SearchName string

const (
	SearchEpisode SearchName = "EpisodeSearch"
	SearchSeason  SearchName = "SeasonSearch"
	SearchMovie   SearchName = "MoviesSearch"
)

// DispatchResult is the decoded POST /command response.
type DispatchResult struct {
	CommandID string `json:"id"`
	Status    string `json:"status"`
}

// DispatchSearch calls POST /command with {name, ids}.
func (c *Client) DispatchSearch(ctx context.Context, name SearchName, ids []int64) (*DispatchResult, error) {
	payload, err := json.Marshal(struct {
		Name SearchName `json:"name"`
		IDs  []int64    `json:"ids"`
	}{Name: name, IDs: ids})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "encode dispatch body", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/command", payload)
	if err != nil {
		return nil, err
	}
	var out DispatchResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode dispatch result", err)
	}
	return &out, nil
}

// CommandStatusResult is the decoded GET /command/{id} response.
type CommandStatusResult struct {
	CommandID string `json:"id"`
	Status    string `json:"status"` // queued, started, completed, failed
}

// CommandStatus calls GET /command/{id}.
func (c *Client) CommandStatus(ctx context.Context, commandID string) (*CommandStatusResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/command/"+url.PathEscape(commandID), nil)
	if err != nil {
		return nil, err
	}
	var out CommandStatusResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "decode command status", err)
	}
	return &out, nil
}

// do performs a retried request against path, returning the raw response
// body on a 2xx status. Retries per §6: max attempts, exponential 1s->2s->4s
// +/-25% jitter capped at 30s, honoring Retry-After; only kinds the
// taxonomy marks retryable are retried.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var result []byte
	attempt := 0
	operation := func() error {
		attempt++
		out, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			result = out
			return nil
		}

		appErr, _ := apperr.As(err)
		if appErr == nil || !appErr.Retryable() || attempt >= c.maxAttempts {
			return backoff.Permanent(err)
		}
		// Retry-After is waited out first; the library's own computed
		// delay still follows before the next attempt.
		if appErr.Kind == apperr.KindRateLimit && appErr.RetryAfter > 0 {
			select {
			case <-time.After(appErr.RetryAfter):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	if err != nil {
		if perr, ok := err.(*backoff.PermanentError); ok {
			return nil, perr.Err
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "build request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "read response body", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, classifyStatusError(resp, respBody)
}

// classifyStatusError maps an HTTP status to the §6 wire-error taxonomy.
func classifyStatusError(resp *http.Response, body []byte) error {
	msg := truncate(body, 200)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.New(apperr.KindAuth, "authentication failed: "+msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, "not found: "+msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := apperr.New(apperr.KindRateLimit, "rate limited: "+msg)
		e.StatusCode = resp.StatusCode
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return e
	case resp.StatusCode >= 500:
		e := apperr.New(apperr.KindServer, "server error: "+msg)
		e.StatusCode = resp.StatusCode
		return e
	default:
		e := apperr.New(apperr.KindUnknown, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg))
		e.StatusCode = resp.StatusCode
		return e
	}
}

// classifyTransportError maps a transport-level failure to network/ssl/
// timeout per §6.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, "request timed out", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "x509"):
		return apperr.Wrap(apperr.KindSSL, "tls handshake failed", err)
	case strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "context deadline exceeded"):
		return apperr.Wrap(apperr.KindTimeout, "request timed out", err)
	case strings.Contains(msg, "connection refused"):
		e := apperr.Wrap(apperr.KindNetwork, "connection refused", err)
		e.NetworkErr = "connection_refused"
		return e
	case strings.Contains(msg, "no such host"):
		e := apperr.Wrap(apperr.KindNetwork, "dns lookup failed", err)
		e.NetworkErr = "dns_failure"
		return e
	default:
		return apperr.Wrap(apperr.KindNetwork, "network error", err)
	}
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
