// Package upstream holds the response checks shared by clients of external
// sites (preview service, catalog scraper).
package upstream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/tinoosan/magnetron/internal/data"
)

// MaxBody caps how much of an upstream response is read.
const MaxBody = 4 << 20

var banMarkers = [][]byte{
	[]byte("access denied"),
	[]byte("you have been banned"),
	[]byte("rate limited"),
	[]byte("too many requests"),
	[]byte("cf-error-details"),
}

// ReadBody reads a response and turns non-2xx statuses and ban pages into
// *data.UpstreamError.
func ReadBody(op string, resp *http.Response) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxBody))
	if err != nil {
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Banned: true}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(b))}
	case Banned(b):
		return nil, &data.UpstreamError{Op: op, StatusCode: resp.StatusCode, Banned: true}
	}
	return b, nil
}

// Banned reports whether body looks like a block page rather than content.
func Banned(body []byte) bool {
	lower := bytes.ToLower(body)
	// JSON bodies are real answers even when a field mentions one of the markers.
	if t := bytes.TrimSpace(lower); len(t) > 0 && (t[0] == '{' || t[0] == '[') {
		return false
	}
	for _, m := range banMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
