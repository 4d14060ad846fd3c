package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/magnet"
	"github.com/tinoosan/magnetron/internal/processor"
	"github.com/tinoosan/magnetron/internal/repo"
)

type Documents interface {
	List(ctx context.Context) (data.Documents, error)
	Get(ctx context.Context, id int64) (*data.Document, error)
	Create(ctx context.Context, in CreateInput) (*data.Document, error)
	Update(ctx context.Context, id int64, in UpdateInput) (*UpdateResult, error)
	Delete(ctx context.Context, id int64) error
}

type CreateInput struct {
	URLs        []string
	Title       string
	Description string
	Images      []string
	// Movie links the document to a catalog record, upserted in the same
	// transaction.
	Movie *data.Movie
}

// UpdateInput carries the full desired URL list; nil scalars are left as is.
type UpdateInput struct {
	URLs        []string
	Title       *string
	Description *string
	Images      []string
}

type UpdateResult struct {
	Document *data.Document
	// Added holds the rows inserted by this update, for dispatch.
	Added   []data.DownloadURL
	Removed []string
}

type documents struct {
	repo repo.Repo
	proc *processor.Processor
	log  *slog.Logger
}

func NewDocuments(r repo.Repo, proc *processor.Processor, log *slog.Logger) Documents {
	if log == nil {
		log = slog.Default()
	}
	return &documents{repo: r, proc: proc, log: log}
}

func (s *documents) List(ctx context.Context) (data.Documents, error) {
	return s.repo.ListDocuments(ctx)
}

func (s *documents) Get(ctx context.Context, id int64) (*data.Document, error) {
	return s.repo.GetDocument(ctx, id)
}

// Create dedupes the input, rejects URLs owned by any document, runs the
// processor and stores everything in one transaction.
func (s *documents) Create(ctx context.Context, in CreateInput) (*data.Document, error) {
	urls := magnet.Dedupe(in.URLs)
	if len(urls) == 0 {
		return nil, data.Invalid("no download urls given")
	}
	if in.Movie != nil {
		in.Movie.Code = strings.TrimSpace(in.Movie.Code)
		if in.Movie.Code == "" {
			return nil, data.Invalid("movie code is required")
		}
	}
	if err := s.checkOwners(ctx, urls, 0); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" && in.Movie != nil {
		title = firstNonEmpty(in.Movie.Title, in.Movie.Code)
	}
	res, err := s.proc.Process(ctx, processor.Input{URLs: urls, Title: title, Images: in.Images})
	if err != nil {
		return nil, err
	}

	doc := &data.Document{
		Title:       res.Title,
		Description: strings.TrimSpace(in.Description),
		Images:      res.Images,
		Status:      data.StatusUndownload,
		URLs:        rowsFrom(res.Items),
	}
	created, err := s.repo.CreateDocument(ctx, doc, in.Movie)
	if err != nil {
		return nil, err
	}
	s.log.Info("document created", "id", created.ID, "urls", len(created.URLs), "mode", res.Mode)
	return created, nil
}

// Update diffs the stored URLs against in.URLs by canonical form, removes
// what is gone, processes and inserts what is new and patches scalars. The
// store applies all of it, status rollup included, in one transaction.
func (s *documents) Update(ctx context.Context, id int64, in UpdateInput) (*UpdateResult, error) {
	cur, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	desired := magnet.Dedupe(in.URLs)
	if len(desired) == 0 {
		return nil, data.Invalid("no valid download urls given")
	}

	want := make(map[string]bool, len(desired))
	for _, u := range desired {
		want[u] = true
	}
	have := make(map[string]bool, len(cur.URLs))
	var toRemove []string
	for _, row := range cur.URLs {
		c := magnet.Canonicalize(row.URL)
		have[c] = true
		if !want[c] {
			toRemove = append(toRemove, row.URL)
		}
	}
	var toAdd []string
	for _, u := range desired {
		if !have[u] {
			toAdd = append(toAdd, u)
		}
	}

	var added []data.DownloadURL
	if len(toAdd) > 0 {
		if err := s.checkOwners(ctx, toAdd, id); err != nil {
			return nil, err
		}
		// Previews run before the write transaction.
		res, err := s.proc.Process(ctx, processor.Input{URLs: toAdd, Title: cur.Title})
		if err != nil {
			return nil, err
		}
		added = rowsFrom(res.Items)
	}

	patch := data.DocumentPatch{Images: in.Images}
	if in.Title != nil {
		if t := strings.TrimSpace(*in.Title); t != "" {
			patch.Title = &t
		}
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		patch.Description = &d
	}

	updated, err := s.repo.UpdateDocument(ctx, id, patch, toRemove, added)
	if err != nil {
		return nil, err
	}

	// Return the stored rows (with ids) for what was added.
	addedSet := make(map[string]bool, len(added))
	for _, a := range added {
		addedSet[a.URL] = true
	}
	out := &UpdateResult{Document: updated, Removed: toRemove}
	for _, row := range updated.URLs {
		if addedSet[row.URL] {
			out.Added = append(out.Added, row)
		}
	}
	s.log.Info("document updated", "id", id, "added", len(out.Added), "removed", len(toRemove))
	return out, nil
}

func (s *documents) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.log.Info("document deleted", "id", id)
	return nil
}

// checkOwners fails with a ConflictError listing every URL in urls that
// belongs to a document other than self. The store's unique constraint
// remains the final arbiter under concurrency.
func (s *documents) checkOwners(ctx context.Context, urls []string, self int64) error {
	owners, err := s.repo.FindURLOwners(ctx, urls)
	if err != nil {
		return err
	}
	var taken []string
	for u, owner := range owners {
		if owner != self {
			taken = append(taken, u)
		}
	}
	if len(taken) == 0 {
		return nil
	}
	sort.Strings(taken)
	return &data.ConflictError{Msg: data.MsgURLTaken, URLs: taken}
}

func rowsFrom(items []processor.Candidate) []data.DownloadURL {
	out := make([]data.DownloadURL, 0, len(items))
	for _, it := range items {
		out = append(out, data.DownloadURL{
			URL:    it.URL,
			Hash:   magnet.ExtractHash(it.URL),
			Status: data.StatusUndownload,
			Detail: it.Preview,
		})
	}
	return out
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
