package repo

import (
	"context"

	"github.com/tinoosan/magnetron/internal/data"
)

type Repo interface {
	DocumentRepo
	MovieRepo
	Ping(ctx context.Context) error
}

type DocumentRepo interface {
	DocumentReader
	DocumentWriter
}

type DocumentReader interface {
	ListDocuments(ctx context.Context) (data.Documents, error)
	GetDocument(ctx context.Context, id int64) (*data.Document, error)
	// FindURLOwners maps each of the given canonical URLs that is already
	// stored to the id of the document owning it.
	FindURLOwners(ctx context.Context, urls []string) (map[string]int64, error)
	ListURLsByStatus(ctx context.Context, statuses ...data.URLStatus) ([]data.DownloadURL, error)
}

type DocumentWriter interface {
	// CreateDocument inserts doc and doc.URLs in one transaction, upserting
	// movie first when given. A URL stored anywhere else fails the whole
	// call with *data.ConflictError.
	CreateDocument(ctx context.Context, doc *data.Document, movie *data.Movie) (*data.Document, error)
	// UpdateDocument removes the URLs in remove, inserts add, applies patch
	// and recomputes the document status from the resulting rows, all or
	// nothing.
	UpdateDocument(ctx context.Context, id int64, patch data.DocumentPatch, remove []string, add []data.DownloadURL) (*data.Document, error)
	DeleteDocument(ctx context.Context, id int64) error
	SetURLStatus(ctx context.Context, urlID int64, status data.URLStatus) error
	SetDocumentStatus(ctx context.Context, id int64, status data.DocumentStatus) error
}

type MovieRepo interface {
	GetMovie(ctx context.Context, code string) (*data.Movie, error)
	UpsertMovie(ctx context.Context, m *data.Movie) (*data.Movie, error)
	// UpdateMovie loads the movie under a lock, lets mutate change it and
	// writes it back. An error from mutate aborts without writing.
	UpdateMovie(ctx context.Context, code string, mutate func(*data.Movie) error) (*data.Movie, error)
	ListMoviesMissingDetail(ctx context.Context, limit int) ([]*data.Movie, error)
}

// mergeMovie applies the non-empty catalog fields of in onto cur.
func mergeMovie(cur, in *data.Movie) {
	if in.Title != "" {
		cur.Title = in.Title
	}
	if in.Cover != "" {
		cur.Cover = in.Cover
	}
	if in.Detail != nil {
		cur.Detail = in.Detail
	}
	if len(in.Magnets) > 0 {
		cur.Magnets = in.Magnets
	}
}
