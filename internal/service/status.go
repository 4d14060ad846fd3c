package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/repo"
)

// Statuses moves download rows forward and keeps the owning document and
// its movie in step. The dispatcher and the reconciler both go through it.
type Statuses struct {
	repo repo.Repo
	log  *slog.Logger
}

func NewStatuses(r repo.Repo, log *slog.Logger) *Statuses {
	if log == nil {
		log = slog.Default()
	}
	return &Statuses{repo: r, log: log}
}

// MarkURL sets the row's status when it is a forward move, then rolls the
// document status up. It reports whether the row changed.
func (s *Statuses) MarkURL(ctx context.Context, docID, urlID int64, to data.URLStatus) (bool, error) {
	if !to.Valid() {
		return false, data.Invalid("unknown status %q", to)
	}
	doc, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, u := range doc.URLs {
		if u.ID == urlID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, data.ErrNotFound
	}
	if !doc.URLs[idx].Status.Advances(to) {
		return false, nil
	}
	if err := s.repo.SetURLStatus(ctx, urlID, to); err != nil {
		return false, err
	}
	doc.URLs[idx].Status = to
	return true, s.rollup(ctx, doc)
}

func (s *Statuses) rollup(ctx context.Context, doc *data.Document) error {
	st := data.RollupStatus(doc.URLs)
	if st == doc.Status || !doc.Status.Advances(st) {
		return nil
	}
	if err := s.repo.SetDocumentStatus(ctx, doc.ID, st); err != nil {
		return err
	}
	s.log.Info("document status changed", "id", doc.ID, "from", doc.Status, "to", st)
	if doc.MovieCode == "" {
		return nil
	}
	switch st {
	case data.StatusDownloading:
		return s.AdvanceMovie(ctx, doc.MovieCode, data.MovieDownloading)
	case data.StatusDownloaded, data.StatusTransfered:
		return s.AdvanceMovie(ctx, doc.MovieCode, data.MovieDownloaded)
	}
	return nil
}

// movieSteps is the forward path a movie walks towards a download state.
var movieSteps = []data.MovieStatus{data.MovieDownloading, data.MovieDownloaded, data.MovieAdded}

// AdvanceMovie walks the movie forward through each intermediate state up
// to target. Movies already at or past target are left alone.
func (s *Statuses) AdvanceMovie(ctx context.Context, code string, target data.MovieStatus) error {
	_, err := s.repo.UpdateMovie(ctx, code, func(m *data.Movie) error {
		for _, step := range movieSteps {
			if m.Status == target {
				return nil
			}
			if m.Status.CanTransition(step) || (m.Status == "" && step == data.MovieDownloading) {
				m.Status = step
			}
			if step == target {
				break
			}
		}
		return nil
	})
	if errors.Is(err, data.ErrNotFound) {
		s.log.Warn("linked movie missing", "code", code)
		return nil
	}
	return err
}
