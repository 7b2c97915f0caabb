// Package nasa talks to the NASA open API to pull the astronomy picture of the
// day.
package nasa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jdholdren/apod/internal/apod"
)

const (
	apodPath = "/planetary/apod"

	// An APOD record is a few KB, anything past this isn't one.
	maxBodyBytes = 1 << 20
)

// Config is everything needed to reach the endpoint.
type Config struct {
	BaseURL   string        `env:"BASE_URL, default=https://api.nasa.gov"`
	APIKey    string        `env:"API_KEY, required"`
	Timeout   time.Duration `env:"TIMEOUT, default=10s"`
	UserAgent string        `env:"USER_AGENT, default=apod-ingest/1.0"`
}

// Client fetches raw APOD records.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) Client {
	return Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Fetch retrieves the record for the given day, or the API's current day if
// date is zero.
//
// The decoded object is returned untouched. Failures are always a [*FetchError].
func (c Client) Fetch(ctx context.Context, date apod.Date) (apod.RawRecord, error) {
	u, err := c.endpoint(date)
	if err != nil {
		return nil, &FetchError{Kind: KindConfig, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: fmt.Errorf("error getting apod: %w", redact(err, c.cfg.APIKey))}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Err: fmt.Errorf("error reading body: %w", err)}
	}
	if len(body) > maxBodyBytes {
		return nil, &FetchError{Kind: KindParse, Err: fmt.Errorf("response body over %d bytes", maxBodyBytes)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.WarnContext(ctx, "unexpected apod status", "status_code", resp.StatusCode, "body", snippet(body))
		return nil, &FetchError{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	var raw apod.RawRecord
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &FetchError{Kind: KindParse, Err: fmt.Errorf("error decoding apod: %w", err)}
	}
	if raw == nil {
		return nil, &FetchError{Kind: KindParse, Err: errors.New("response was not a json object")}
	}

	return raw, nil
}

func (c Client) endpoint(date apod.Date) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + apodPath)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: needs a scheme and host", c.cfg.BaseURL)
	}

	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	if !date.IsZero() {
		q.Set("date", date.String())
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Keeps the api key out of logs: url errors include the full request url.
func redact(err error, key string) error {
	var urlErr *url.Error
	if key == "" || !errors.As(err, &urlErr) {
		return err
	}

	return &url.Error{
		Op:  urlErr.Op,
		URL: strings.ReplaceAll(urlErr.URL, key, "REDACTED"),
		Err: urlErr.Err,
	}
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit])
	}

	return string(body)
}
