// Package catalog fetches structured movie records from an external catalog
// scraper service. Scraping itself lives behind that service.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/upstream"
)

const defaultTimeout = 8 * time.Second

// Source is what the movie service needs from a catalog.
type Source interface {
	FetchMovie(ctx context.Context, code string) (*data.MovieDetail, error)
}

// HTTPSource calls GET <base>/movies/<code> and expects a MovieDetail JSON body.
type HTTPSource struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource returns nil when baseURL is empty or invalid.
func NewHTTPSource(baseURL string, timeout time.Duration, rps float64) *HTTPSource {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if baseURL == "" || err != nil || base.Host == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &HTTPSource{base: base, http: &http.Client{Timeout: timeout}, limiter: lim}
}

// NewHTTPSourceFromEnv reads CATALOG_API_URL, CATALOG_TIMEOUT_MS and CATALOG_RPS.
// It returns nil when CATALOG_API_URL is unset.
func NewHTTPSourceFromEnv() *HTTPSource {
	timeout := defaultTimeout
	if v := os.Getenv("CATALOG_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	rps := 0.0
	if v := os.Getenv("CATALOG_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			rps = f
		}
	}
	return NewHTTPSource(os.Getenv("CATALOG_API_URL"), timeout, rps)
}

func (s *HTTPSource) FetchMovie(ctx context.Context, code string) (*data.MovieDetail, error) {
	const op = "catalog"
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, data.Invalid("movie code is required")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &data.UpstreamError{Op: op, Err: err}
	}
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/movies/" + url.PathEscape(code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &data.UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &data.UpstreamError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("catalog %s: %w", code, data.ErrNotFound)
	}
	b, err := upstream.ReadBody(op, resp)
	if err != nil {
		return nil, err
	}
	var d data.MovieDetail
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if d.Title == "" && len(d.Magnets) == 0 {
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("empty record for %s", code)}
	}
	return &d, nil
}
