package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tinoosan/magnetron/internal/batch"
	"github.com/tinoosan/magnetron/internal/catalog"
	"github.com/tinoosan/magnetron/internal/data"
	"github.com/tinoosan/magnetron/internal/repo"
)

type Movies interface {
	Get(ctx context.Context, code string) (*data.Movie, error)
	Subscribe(ctx context.Context, in data.Movie) (*data.Movie, error)
	Unsubscribe(ctx context.Context, code string) (*data.Movie, error)
	FillMissingDetails(ctx context.Context, limit int) (batch.Report, error)
}

type movies struct {
	repo   repo.MovieRepo
	source catalog.Source
	opts   batch.Options
	log    *slog.Logger
}

// NewMovies wires the movie service. source may be nil, in which case
// FillMissingDetails reports a validation error.
func NewMovies(r repo.MovieRepo, source catalog.Source, opts batch.Options, log *slog.Logger) Movies {
	if log == nil {
		log = slog.Default()
	}
	return &movies{repo: r, source: source, opts: opts, log: log}
}

func (s *movies) Get(ctx context.Context, code string) (*data.Movie, error) {
	return s.repo.GetMovie(ctx, strings.TrimSpace(code))
}

// Subscribe creates the movie when it is unknown and moves it to subscribed.
// Movies that are already subscribed or further along are rejected.
func (s *movies) Subscribe(ctx context.Context, in data.Movie) (*data.Movie, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		return nil, data.Invalid("movie code is required")
	}
	if _, err := s.repo.GetMovie(ctx, in.Code); errors.Is(err, data.ErrNotFound) {
		in.Status = data.MovieUncheck
		if _, err := s.repo.UpsertMovie(ctx, &in); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	m, err := s.repo.UpdateMovie(ctx, in.Code, func(m *data.Movie) error {
		if err := m.Status.Transition(data.MovieSubscribed); err != nil {
			return err
		}
		m.Status = data.MovieSubscribed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("movie subscribed", "code", m.Code)
	return m, nil
}

func (s *movies) Unsubscribe(ctx context.Context, code string) (*data.Movie, error) {
	m, err := s.repo.UpdateMovie(ctx, strings.TrimSpace(code), func(m *data.Movie) error {
		if err := m.Status.Transition(data.MovieUncheck); err != nil {
			return err
		}
		m.Status = data.MovieUncheck
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("movie unsubscribed", "code", m.Code)
	return m, nil
}

// FillMissingDetails fetches catalog records for up to limit movies without
// one, a few at a time. Per-movie failures are logged and counted; a ban
// from the catalog does not stop the remaining items.
func (s *movies) FillMissingDetails(ctx context.Context, limit int) (batch.Report, error) {
	if s.source == nil {
		return batch.Report{}, data.Invalid("no catalog source configured")
	}
	pending, err := s.repo.ListMoviesMissingDetail(ctx, limit)
	if err != nil {
		return batch.Report{}, err
	}
	rep := batch.Run(ctx, pending, s.opts, func(ctx context.Context, m *data.Movie) error {
		detail, err := s.source.FetchMovie(ctx, m.Code)
		if err != nil {
			s.log.Warn("catalog fetch failed", "code", m.Code, "err", err)
			return err
		}
		_, err = s.repo.UpdateMovie(ctx, m.Code, func(cur *data.Movie) error {
			cur.Detail = detail
			if cur.Title == "" {
				cur.Title = detail.Title
			}
			if cur.Cover == "" {
				cur.Cover = detail.Cover
			}
			if len(detail.Magnets) > 0 {
				cur.Magnets = detail.Magnets
			}
			return nil
		})
		return err
	})
	s.log.Info("movie details refreshed", "total", rep.Total, "ok", rep.Succeeded, "failed", rep.Failed())
	return rep, nil
}
