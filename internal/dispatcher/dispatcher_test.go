package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/downloadcfg"
	"github.com/tinoosan/magnetron/internal/downloader"
	"github.com/tinoosan/magnetron/internal/downloader/downloadertest"
	"github.com/tinoosan/magnetron/internal/metrics"
	"github.com/tinoosan/magnetron/internal/progress"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func mag(c byte) string { return "magnet:?xt=urn:btih:" + strings.Repeat(string(c), 40) }

type markCall struct {
	doc, url int64
	to       data.URLStatus
}

type stubMarker struct{ calls []markCall }

func (s *stubMarker) MarkURL(ctx context.Context, docID, urlID int64, to data.URLStatus) (bool, error) {
	s.calls = append(s.calls, markCall{docID, urlID, to})
	return true, nil
}

type stubClassifier struct {
	out downloadcfg.AddOptions
	err error
}

func (s stubClassifier) Classify(ctx context.Context, title string, urls []string) (downloadcfg.AddOptions, error) {
	return s.out, s.err
}

// stages replays the task's queued events.
func stages(t *testing.T, reg *progress.Registry, taskID string) []progress.Event {
	t.Helper()
	ch, cancel, err := reg.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()
	var out []progress.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("stream not terminated: %+v", out)
		}
	}
}

func stageList(events []progress.Event) string {
	var s []string
	for _, e := range events {
		s = append(s, string(e.Stage))
	}
	return strings.Join(s, ",")
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	reg := progress.NewRegistry(quietLog())
	fake := &downloadertest.Fake{AddFn: func(url string) (downloader.Result, error) {
		if url == mag('b') {
			return downloader.Result{Success: false, Message: "Fails."}, nil
		}
		return downloader.Result{Success: true, Message: "Ok."}, nil
	}}
	marker := &stubMarker{}
	d := New(downloadertest.Provider{Client: fake}, marker, reg, quietLog(),
		WithDefaults(downloadcfg.AddOptions{SavePath: "/dl", Category: "default"}))

	okBefore := testutil.ToFloat64(metrics.DispatchSubmissions.WithLabelValues("ok"))
	reg.Register("task")
	sum := d.Dispatch(context.Background(), Job{
		TaskID:  "task",
		Targets: []Target{{DocumentID: 1, URLID: 10, URL: mag('a')}, {DocumentID: 1, URLID: 11, URL: mag('b')}, {DocumentID: 1, URLID: 12, URL: mag('c')}},
		Options: downloadcfg.AddOptions{Category: "movies"},
	})
	if sum.Err != nil || sum.Total != 3 || sum.Submitted != 2 || sum.Failed != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if got := strings.Join(fake.Added(), ","); got != mag('a')+","+mag('c') {
		t.Fatalf("added %s", got)
	}
	if o := fake.Options()[0]; o.SavePath != "/dl" || o.Category != "movies" {
		t.Fatalf("options %+v", o)
	}
	if len(marker.calls) != 2 || marker.calls[1].url != 12 || marker.calls[0].to != data.StatusDownloading {
		t.Fatalf("marks %+v", marker.calls)
	}
	if got := testutil.ToFloat64(metrics.DispatchSubmissions.WithLabelValues("ok")) - okBefore; got != 2 {
		t.Fatalf("ok submissions = %v", got)
	}

	events := stages(t, reg, "task")
	want := "PROGRESS,DOWNLOAD_SUBMIT,PROGRESS,DOWNLOAD_SUBMIT,PROGRESS,DOWNLOAD_SUBMIT,PROGRESS,DONE"
	if got := stageList(events); got != want {
		t.Fatalf("stages %s", got)
	}
	if events[0].Current != 0 || events[0].Total != 3 || events[0].Message != "start" {
		t.Fatalf("start event %+v", events[0])
	}
	if *events[3].Success || events[3].Message != "Fails." {
		t.Fatalf("second submit %+v", events[3])
	}
	if events[6].Current != 3 || events[6].Total != 3 {
		t.Fatalf("last progress %+v", events[6])
	}
}

func TestDispatchNoDownloader(t *testing.T) {
	reg := progress.NewRegistry(quietLog())
	unavailable := &data.UnavailableError{Msg: "no downloader configured"}
	d := New(downloadertest.Provider{Err: unavailable}, nil, reg, quietLog())
	reg.Register("t")
	sum := d.Dispatch(context.Background(), Job{TaskID: "t", Targets: []Target{{URL: mag('a')}}})
	if !errors.Is(sum.Err, data.ErrDownloaderUnavailable) {
		t.Fatalf("err %v", sum.Err)
	}
	events := stages(t, reg, "t")
	if stageList(events) != "ERROR" || events[0].Message != "no downloader configured" {
		t.Fatalf("events %+v", events)
	}
}

func TestDispatchAllFailedEndsWithError(t *testing.T) {
	reg := progress.NewRegistry(quietLog())
	fake := &downloadertest.Fake{AddFn: func(string) (downloader.Result, error) {
		return downloader.Result{}, &data.UnavailableError{Msg: "qbittorrent unreachable", Configured: true}
	}}
	d := New(downloadertest.Provider{Client: fake}, nil, reg, quietLog())
	reg.Register("t")
	sum := d.Dispatch(context.Background(), Job{TaskID: "t", Targets: []Target{{URL: mag('a')}}})
	if sum.Err == nil || sum.Failed != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if got := stageList(stages(t, reg, "t")); got != "PROGRESS,DOWNLOAD_SUBMIT,PROGRESS,ERROR" {
		t.Fatalf("stages %s", got)
	}
}

func TestDispatchSelectsBestCandidate(t *testing.T) {
	reg := progress.NewRegistry(quietLog())
	fake := &downloadertest.Fake{}
	marker := &stubMarker{}
	d := New(downloadertest.Provider{Client: fake}, marker, reg, quietLog())

	job := Job{
		Code: "ABC-123",
		Targets: []Target{
			{DocumentID: 7, URLID: 1, URL: mag('a')},
			{DocumentID: 7, URLID: 2, URL: mag('b')},
		},
		Candidates: []data.CatalogMagnet{
			{Title: "ABC-123", Link: mag('a') + "&dn=plain", IsHD: true, NumberSize: 5000},
			{Title: "ABC-123-UC", Link: strings.ToUpper(mag('b')[20:]), IsHD: true},
		},
		Select: SelectOptions{Priorities: []Property{Uncensored, IsHD}},
	}
	sum := d.Dispatch(context.Background(), job)
	if sum.Total != 1 || sum.Submitted != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if got := fake.Added(); len(got) != 1 || got[0] != mag('b') {
		t.Fatalf("added %v", got)
	}
	if len(marker.calls) != 1 || marker.calls[0].url != 2 {
		t.Fatalf("marks %+v", marker.calls)
	}

	job.Select = SelectOptions{Required: []Property{HasSubtitle, IsHD}, Priorities: []Property{IsHD}}
	job.Candidates = []data.CatalogMagnet{{Title: "ABC-123", Link: mag('a')}}
	if sum := d.Dispatch(context.Background(), job); !errors.Is(sum.Err, data.ErrValidation) {
		t.Fatalf("expected validation error, got %v", sum.Err)
	}
}

func TestDispatchClassifier(t *testing.T) {
	reg := progress.NewRegistry(quietLog())
	fake := &downloadertest.Fake{}
	d := New(downloadertest.Provider{Client: fake}, nil, reg, quietLog(),
		WithClassifier(stubClassifier{out: downloadcfg.AddOptions{Category: "anime", Tags: []string{"ai"}}}))
	reg.Register("t")
	d.Dispatch(context.Background(), Job{TaskID: "t", Title: "x", Targets: []Target{{URL: mag('a')}}})
	if o := fake.Options()[0]; o.Category != "anime" || len(o.Tags) != 1 {
		t.Fatalf("options %+v", o)
	}
	if got := stageList(stages(t, reg, "t")); got != "AI_START,AI_COMPLETE,PROGRESS,DOWNLOAD_SUBMIT,PROGRESS,DONE" {
		t.Fatalf("stages %s", got)
	}

	// A failing classifier is not fatal.
	fake = &downloadertest.Fake{}
	d = New(downloadertest.Provider{Client: fake}, nil, reg, quietLog(),
		WithClassifier(stubClassifier{err: errors.New("model offline")}))
	reg.Register("t2")
	sum := d.Dispatch(context.Background(), Job{TaskID: "t2", Targets: []Target{{URL: mag('a')}}})
	if sum.Submitted != 1 {
		t.Fatalf("summary %+v", sum)
	}
}

func TestStartRunsInBackground(t *testing.T) {
	reg := progress.NewRegistry(quietLog())
	fake := &downloadertest.Fake{}
	d := New(downloadertest.Provider{Client: fake}, nil, reg, quietLog())
	id := d.Start(Job{Targets: []Target{{URL: mag('a')}}})
	if id == "" {
		t.Fatal("empty task id")
	}
	if got := stageList(stages(t, reg, id)); !strings.HasSuffix(got, "DONE") {
		t.Fatalf("stages %s", got)
	}
}

func TestHTTPClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title != "Show" || len(req.URLs) != 1 {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"category":" tv ","tags":["series"],"savePath":"/tv"}`))
	}))
	defer srv.Close()

	got, err := NewHTTPClassifier(srv.URL, nil).Classify(context.Background(), "Show", []string{mag('a')})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != "tv" || got.SavePath != "/tv" || len(got.Tags) != 1 {
		t.Fatalf("got %+v", got)
	}

	_, err = NewHTTPClassifier(srv.URL, nil).Classify(context.Background(), "", nil)
	if !errors.Is(err, data.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
