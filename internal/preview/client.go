// Package preview resolves magnet links into display metadata through an
// external preview service.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/magnet"
	"github.com/tinoosan/magnetron/internal/metrics"
	"github.com/tinoosan/magnetron/internal/upstream"
)

const (
	defaultBaseURL = "https://whatslink.info/api/v1/link"
	defaultTimeout = 8 * time.Second
)

// Resolver is what the processor needs from a preview service.
type Resolver interface {
	Preview(ctx context.Context, link string) (*data.Preview, error)
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	// RPS and Burst bound outbound request rate. Zero RPS disables limiting.
	RPS   float64
	Burst int
	Cache Cache
	Log   *slog.Logger
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	cache   Cache
	group   singleflight.Group
	log     *slog.Logger
}

var _ Resolver = (*Client)(nil)

// NewClient builds a client; an unparsable BaseURL falls back to the default.
func NewClient(o Options) *Client {
	base, err := url.Parse(o.BaseURL)
	if o.BaseURL == "" || err != nil || base.Host == "" {
		base, _ = url.Parse(defaultBaseURL)
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if o.RPS > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(o.RPS), burst)
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: o.Timeout},
		limiter: lim,
		cache:   o.Cache,
		log:     o.Log,
	}
}

// NewClientFromEnv reads PREVIEW_API_URL, PREVIEW_TIMEOUT_MS and PREVIEW_RPS.
func NewClientFromEnv(cache Cache, log *slog.Logger) *Client {
	o := Options{BaseURL: os.Getenv("PREVIEW_API_URL"), RPS: 1, Burst: 2, Cache: cache, Log: log}
	if v := os.Getenv("PREVIEW_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			o.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("PREVIEW_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps >= 0 {
			o.RPS = rps
		}
	}
	return NewClient(o)
}

func (c *Client) HTTP() *http.Client { return c.http }

// wire shape of the preview API
type linkResp struct {
	Error       string `json:"error"`
	Type        string `json:"type"`
	FileType    string `json:"file_type"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Count       int    `json:"count"`
	Screenshots []struct {
		Time       int64  `json:"time"`
		Screenshot string `json:"screenshot"`
	} `json:"screenshots"`
	Files []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"files"`
}

// Preview returns metadata for a magnet link. Only magnets are accepted.
func (c *Client) Preview(ctx context.Context, link string) (*data.Preview, error) {
	hash := magnet.ExtractHash(link)
	if !magnet.IsMagnet(link) || hash == "" {
		return nil, data.Invalid("preview needs a magnet link, got %q", link)
	}
	if c.cache != nil {
		if p, ok, err := c.cache.Get(ctx, hash); err != nil {
			c.log.Warn("preview cache get", "hash", hash, "err", err)
		} else if ok {
			metrics.PreviewRequests.WithLabelValues("cache").Inc()
			return p, nil
		}
	}

	v, err, _ := c.group.Do(hash, func() (any, error) {
		return c.fetch(ctx, magnet.FromHash(hash))
	})
	if err != nil {
		metrics.PreviewRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.PreviewRequests.WithLabelValues("ok").Inc()
	p := v.(*data.Preview)
	if c.cache != nil {
		if err := c.cache.Set(ctx, hash, p); err != nil {
			c.log.Warn("preview cache set", "hash", hash, "err", err)
		}
	}
	return p.Clone(), nil
}

func (c *Client) fetch(ctx context.Context, canonical string) (*data.Preview, error) {
	const op = "preview"
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &data.UpstreamError{Op: op, Err: err}
	}
	u := *c.baseURL
	q := u.Query()
	q.Set("url", canonical)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &data.UpstreamError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &data.UpstreamError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := upstream.ReadBody(op, resp)
	if err != nil {
		return nil, err
	}
	var lr linkResp
	if err := json.Unmarshal(b, &lr); err != nil {
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if lr.Error != "" {
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(lr.Error)}
	}
	if lr.Name == "" {
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("empty preview")}
	}
	return toPreview(lr), nil
}

func toPreview(lr linkResp) *data.Preview {
	p := &data.Preview{
		Name:     lr.Name,
		Type:     lr.Type,
		FileType: lr.FileType,
		Size:     lr.Size,
		Count:    lr.Count,
	}
	for _, s := range lr.Screenshots {
		if s.Screenshot != "" {
			p.Screenshots = append(p.Screenshots, s.Screenshot)
		}
	}
	for _, f := range lr.Files {
		p.Files = append(p.Files, data.PreviewFile{Path: f.Name, Size: f.Size})
	}
	return p
}
