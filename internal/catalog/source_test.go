package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tinoosan/magnetron/internal/data"
)

func TestFetchMovie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/movies/ABC-123":
			_, _ = w.Write([]byte(`{"title":"ABC-123 Title","cover":"c.jpg","actors":["a"],"magnets":[{"title":"ABC-123-C","link":"magnet:?xt=urn:btih:aa","isHD":true,"hasSubtitle":true,"numberSize":5000}]}`))
		case "/api/movies/BAN-1":
			w.WriteHeader(http.StatusForbidden)
		case "/api/movies/PAGE-1":
			_, _ = w.Write([]byte(`<html>Access Denied</html>`))
		case "/api/movies/EMPTY-1":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	s := NewHTTPSource(srv.URL+"/api/", time.Second, 0)
	ctx := context.Background()

	d, err := s.FetchMovie(ctx, "ABC-123")
	if err != nil {
		t.Fatalf("FetchMovie: %v", err)
	}
	if d.Title != "ABC-123 Title" || len(d.Magnets) != 1 || !d.Magnets[0].HasSubtitle || d.Magnets[0].NumberSize != 5000 {
		t.Fatalf("unexpected detail %+v", d)
	}

	tests := []struct {
		code   string
		check  func(error) bool
		banned bool
	}{
		{"BAN-1", func(err error) bool { return errors.Is(err, data.ErrUpstream) }, true},
		{"PAGE-1", func(err error) bool { return errors.Is(err, data.ErrUpstream) }, true},
		{"EMPTY-1", func(err error) bool { return errors.Is(err, data.ErrUpstream) }, false},
		{"NOPE-9", func(err error) bool { return errors.Is(err, data.ErrNotFound) }, false},
		{" ", func(err error) bool { return errors.Is(err, data.ErrValidation) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := s.FetchMovie(ctx, tt.code)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			var ue *data.UpstreamError
			if errors.As(err, &ue) && ue.Banned != tt.banned {
				t.Fatalf("banned = %v want %v", ue.Banned, tt.banned)
			}
		})
	}
}

func TestFetchMovieTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	_, err := NewHTTPSource(srv.URL, 20*time.Millisecond, 0).FetchMovie(context.Background(), "X-1")
	if !errors.Is(err, data.ErrUpstream) {
		t.Fatalf("expected upstream error on timeout, got %v", err)
	}
}

func TestNewHTTPSourceRejectsEmpty(t *testing.T) {
	if NewHTTPSource("", 0, 0) != nil {
		t.Fatal("empty base url should give nil source")
	}
	t.Setenv("CATALOG_API_URL", "")
	if NewHTTPSourceFromEnv() != nil {
		t.Fatal("unset env should give nil source")
	}
}
