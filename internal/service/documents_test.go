package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/magnet"
	"github.com/tinoosan/magnetron/internal/processor"
	"github.com/tinoosan/magnetron/internal/repo"
)

type stubResolver struct {
	mu      sync.Mutex
	calls   int
	results map[string]*data.Preview
}

func (s *stubResolver) Preview(ctx context.Context, link string) (*data.Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if p, ok := s.results[magnet.ExtractHash(link)]; ok {
		return p, nil
	}
	return nil, &data.UpstreamError{Op: "preview", StatusCode: 500}
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func hashOf(c byte) string { return strings.Repeat(string(c), 40) }

func mag(c byte) string { return "magnet:?xt=urn:btih:" + hashOf(c) }

func newDocs(results map[string]*data.Preview) (Documents, *repo.InMemoryRepo, *stubResolver) {
	r := repo.NewInMemoryRepo()
	res := &stubResolver{results: results}
	return NewDocuments(r, processor.New(res, quietLog()), quietLog()), r, res
}

func storedURLs(t *testing.T, r repo.Repo, id int64) []string {
	t.Helper()
	d, err := r.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	out := d.URLStrings()
	sort.Strings(out)
	return out
}

func TestCreateDedupesWithinRequest(t *testing.T) {
	svc, r, _ := newDocs(map[string]*data.Preview{hashOf('a'): {Name: "Alpha"}})
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateInput{URLs: []string{
		mag('a'),
		"magnet:?xt=urn:btih:" + strings.ToUpper(hashOf('a')) + "&dn=dup",
	}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(doc.URLs) != 1 {
		t.Fatalf("expected one row, got %d", len(doc.URLs))
	}
	if doc.Title != "Alpha" || doc.URLs[0].Hash != hashOf('a') || doc.URLs[0].Detail == nil {
		t.Fatalf("unexpected document %+v", doc)
	}
	if got := storedURLs(t, r, doc.ID); len(got) != 1 {
		t.Fatalf("stored %v", got)
	}
}

func TestCreateAutoModeNeedsMagnet(t *testing.T) {
	svc, r, res := newDocs(nil)
	_, err := svc.Create(context.Background(), CreateInput{URLs: []string{"http://example.com/a.torrent", "https://example.com/b"}})
	if !errors.Is(err, data.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	docs, _ := r.ListDocuments(context.Background())
	if len(docs) != 0 {
		t.Fatalf("rows persisted on failure: %d", len(docs))
	}
	if res.calls != 0 {
		t.Fatalf("resolver called %d times", res.calls)
	}
}

func TestCreateEmpty(t *testing.T) {
	svc, _, _ := newDocs(nil)
	if _, err := svc.Create(context.Background(), CreateInput{URLs: []string{" ", ""}, Title: "x"}); !errors.Is(err, data.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateTitleFromMovie(t *testing.T) {
	svc, r, _ := newDocs(nil)
	ctx := context.Background()
	doc, err := svc.Create(ctx, CreateInput{
		URLs:  []string{"https://example.com/x.torrent"},
		Movie: &data.Movie{Code: " ABC-123 "},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.Title != "ABC-123" || doc.MovieCode != "ABC-123" {
		t.Fatalf("title/movie = %q/%q", doc.Title, doc.MovieCode)
	}
	if _, err := r.GetMovie(ctx, "ABC-123"); err != nil {
		t.Fatalf("movie not upserted: %v", err)
	}
}

func TestCrossParentConflictLeavesOtherUnchanged(t *testing.T) {
	svc, r, _ := newDocs(nil)
	ctx := context.Background()
	a, err := svc.Create(ctx, CreateInput{URLs: []string{mag('a')}, Title: "A"})
	if err != nil {
		t.Fatalf("Create A: %v", err)
	}
	b, err := svc.Create(ctx, CreateInput{URLs: []string{mag('b')}, Title: "B"})
	if err != nil {
		t.Fatalf("Create B: %v", err)
	}

	_, err = svc.Create(ctx, CreateInput{URLs: []string{mag('c'), mag('a') + "&tr=udp://x"}, Title: "C"})
	var ce *data.ConflictError
	if !errors.As(err, &ce) || len(ce.URLs) != 1 || ce.URLs[0] != mag('a') {
		t.Fatalf("expected conflict on a, got %v", err)
	}
	if !strings.Contains(err.Error(), data.MsgURLTaken) {
		t.Fatalf("message %q", err)
	}

	_, err = svc.Update(ctx, b.ID, UpdateInput{URLs: []string{mag('b'), mag('a')}})
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on update, got %v", err)
	}
	if got := storedURLs(t, r, b.ID); len(got) != 1 || got[0] != mag('b') {
		t.Fatalf("B changed: %v", got)
	}
	if got := storedURLs(t, r, a.ID); len(got) != 1 || got[0] != mag('a') {
		t.Fatalf("A changed: %v", got)
	}
	docs, _ := r.ListDocuments(ctx)
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestUpdateDiff(t *testing.T) {
	svc, r, res := newDocs(nil)
	ctx := context.Background()
	doc, err := svc.Create(ctx, CreateInput{URLs: []string{mag('a'), mag('b'), mag('c')}, Title: "T"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := res.calls

	title := "  New title "
	out, err := svc.Update(ctx, doc.ID, UpdateInput{
		// a differs only by display name, so it is kept as is.
		URLs:  []string{mag('a') + "&dn=renamed", mag('c'), mag('d'), "https://example.com/e.torrent"},
		Title: &title,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := []string{"https://example.com/e.torrent", mag('a'), mag('c'), mag('d')}
	sort.Strings(want)
	if got := storedURLs(t, r, doc.ID); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("stored %v want %v", got, want)
	}
	if len(out.Removed) != 1 || out.Removed[0] != mag('b') {
		t.Fatalf("removed %v", out.Removed)
	}
	if len(out.Added) != 2 || out.Added[0].ID == 0 {
		t.Fatalf("added %+v", out.Added)
	}
	if out.Document.Title != "New title" {
		t.Fatalf("title %q", out.Document.Title)
	}
	if res.calls-before != 1 {
		t.Fatalf("only the new magnet should be previewed, got %d calls", res.calls-before)
	}
}

func TestUpdateErrors(t *testing.T) {
	svc, _, _ := newDocs(nil)
	ctx := context.Background()
	if _, err := svc.Update(ctx, 42, UpdateInput{URLs: []string{mag('a')}}); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	doc, _ := svc.Create(ctx, CreateInput{URLs: []string{mag('a')}, Title: "T"})
	if _, err := svc.Update(ctx, doc.ID, UpdateInput{URLs: []string{"", "  "}}); !errors.Is(err, data.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateRollsStatusBack(t *testing.T) {
	svc, r, _ := newDocs(nil)
	ctx := context.Background()
	doc, _ := svc.Create(ctx, CreateInput{URLs: []string{mag('a')}, Title: "T"})
	_ = r.SetURLStatus(ctx, doc.URLs[0].ID, data.StatusDownloaded)
	_ = r.SetDocumentStatus(ctx, doc.ID, data.StatusDownloaded)

	out, err := svc.Update(ctx, doc.ID, UpdateInput{URLs: []string{mag('a'), mag('b')}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.Document.Status != data.StatusDownloading {
		t.Fatalf("status %s", out.Document.Status)
	}
}

func TestDelete(t *testing.T) {
	svc, _, _ := newDocs(nil)
	ctx := context.Background()
	doc, _ := svc.Create(ctx, CreateInput{URLs: []string{mag('a')}, Title: "T"})
	if err := svc.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, doc.ID); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	// The URL is free again.
	if _, err := svc.Create(ctx, CreateInput{URLs: []string{mag('a')}, Title: "T2"}); err != nil {
		t.Fatalf("re-create: %v", err)
	}
}
