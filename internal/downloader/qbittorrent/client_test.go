package qbittorrent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/settings"
)

type fakeQB struct {
	logins atomic.Int32
	added  atomic.Value // url.Values
}

func (f *fakeQB) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("username") != "admin" || r.Form.Get("password") != "secret" {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "sess-1"})
		_, _ = w.Write([]byte("Ok."))
	})
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ck, err := r.Cookie("SID")
			if err != nil || ck.Value != "sess-1" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/api/v2/torrents/add", authed(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.added.Store(r.PostForm)
		if strings.Contains(r.PostForm.Get("urls"), "bad") {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		_, _ = w.Write([]byte("Ok."))
	}))
	mux.HandleFunc("/api/v2/torrents/info", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"hash":"ABCDEF0123456789ABCDEF0123456789ABCDEF01","name":"one","size":100,"progress":1,"state":"uploading","dlspeed":0,"upspeed":5,"eta":8640000,"save_path":"/dl","content_path":"/dl/one"},
			{"hash":"b","name":"two","size":50,"progress":0.5,"state":"someNewState"}
		]`))
	}))
	mux.HandleFunc("/api/v2/transfer/info", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"dl_info_speed":10,"up_info_speed":20,"dl_info_data":30,"up_info_data":40}`))
	}))
	mux.HandleFunc("/api/v2/app/version", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("v4.6.2"))
	}))
	return mux
}

func newTestClient(t *testing.T, user, pass string) (*Client, *fakeQB) {
	t.Helper()
	f := &fakeQB{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(settings.DownloaderConfig{Name: data.QBittorrent, Host: srv.URL, Username: user, Password: pass}, srv.Client()), f
}

func TestSessionCookieIsReused(t *testing.T) {
	c, f := newTestClient(t, "admin", "secret")
	ctx := context.Background()

	res, err := c.AddTorrent(ctx, "magnet:?xt=urn:btih:abc", downloadcfg.AddOptions{SavePath: "/dl", Category: "movies", Tags: []string{"a", "b"}})
	if err != nil || !res.Success {
		t.Fatalf("AddTorrent = %+v, %v", res, err)
	}
	if _, err := c.GetTorrents(ctx); err != nil {
		t.Fatalf("GetTorrents: %v", err)
	}
	_ = c.GetStats(ctx)
	if n := f.logins.Load(); n != 1 {
		t.Fatalf("expected one login, got %d", n)
	}

	form := f.added.Load().(url.Values)
	if form.Get("savepath") != "/dl" || form.Get("category") != "movies" || form.Get("tags") != "a,b" {
		t.Fatalf("options not encoded: %v", form)
	}
}

func TestAddTorrentRejected(t *testing.T) {
	c, _ := newTestClient(t, "admin", "secret")
	res, err := c.AddTorrent(context.Background(), "magnet:?bad", downloadcfg.AddOptions{})
	if err != nil {
		t.Fatalf("refusal should not be an error: %v", err)
	}
	if res.Success || res.Message == "" {
		t.Fatalf("expected failed result with message, got %+v", res)
	}
}

func TestBadCredentials(t *testing.T) {
	c, _ := newTestClient(t, "admin", "wrong")
	_, err := c.GetTorrents(context.Background())
	if !errors.Is(err, data.ErrDownloaderUnavailable) || !errors.Is(err, errAuth) {
		t.Fatalf("expected unavailable auth error, got %v", err)
	}
	res := c.TestConnection(context.Background())
	if res.Success {
		t.Fatalf("TestConnection should fail: %+v", res)
	}
}

func TestGetTorrentsMapping(t *testing.T) {
	c, _ := newTestClient(t, "admin", "secret")
	ts, err := c.GetTorrents(context.Background())
	if err != nil {
		t.Fatalf("GetTorrents: %v", err)
	}
	if len(ts) != 2 {
		t.Fatalf("expected 2 torrents got %d", len(ts))
	}
	if ts[0].Hash != "abcdef0123456789abcdef0123456789abcdef01" || ts[0].Status != data.TorrentSeeding || !ts[0].Complete() {
		t.Fatalf("unexpected first torrent %+v", ts[0])
	}
	if ts[1].Status != data.TorrentPaused {
		t.Fatalf("unknown state should map to paused, got %s", ts[1].Status)
	}
}

func TestStatsAndVersion(t *testing.T) {
	c, _ := newTestClient(t, "admin", "secret")
	got := c.GetStats(context.Background())
	want := data.TransferStats{DownloadSpeed: 10, UploadSpeed: 20, TotalDownloaded: 30, TotalUploaded: 40}
	if got != want {
		t.Fatalf("GetStats = %+v want %+v", got, want)
	}
	res := c.TestConnection(context.Background())
	if !res.Success || !strings.Contains(res.Message, "v4.6.2") {
		t.Fatalf("TestConnection = %+v", res)
	}
}

func TestStatsNeverFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(settings.DownloaderConfig{Name: data.QBittorrent, Host: srv.URL}, nil)
	if got := c.GetStats(context.Background()); got != (data.TransferStats{}) {
		t.Fatalf("expected zero stats, got %+v", got)
	}
	if _, err := c.AddTorrent(context.Background(), "magnet:?x", downloadcfg.AddOptions{}); !errors.Is(err, data.ErrDownloaderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestMapState(t *testing.T) {
	tests := map[string]data.TorrentStatus{
		"downloading":        data.TorrentDownloading,
		"metaDL":             data.TorrentDownloading,
		"stalledDL":          data.TorrentStalled,
		"stalledUP":          data.TorrentSeeding,
		"pausedUP":           data.TorrentPaused,
		"stoppedDL":          data.TorrentPaused,
		"checkingResumeData": data.TorrentChecking,
		"missingFiles":       data.TorrentError,
		"":                   data.TorrentPaused,
		"brandNew":           data.TorrentPaused,
	}
	for in, want := range tests {
		if got := MapState(in); got != want {
			t.Fatalf("MapState(%q) = %s want %s", in, got, want)
		}
	}
}
