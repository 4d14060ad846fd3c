package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tinoosan/magnetron/internal/data"
)

// InMemoryRepo keeps everything in maps guarded by one lock. The urlOwner
// index plays the role of the database's unique constraint on URLs.
type InMemoryRepo struct {
	mu        sync.RWMutex
	docs      map[int64]*data.Document
	urlOwner  map[string]int64
	movies    map[string]*data.Movie
	nextDocID int64
	nextURLID int64
	now       func() time.Time
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		docs:      make(map[int64]*data.Document),
		urlOwner:  make(map[string]int64),
		movies:    make(map[string]*data.Movie),
		nextDocID: 1,
		nextURLID: 1,
		now:       time.Now,
	}
}

var _ Repo = (*InMemoryRepo)(nil)

func (r *InMemoryRepo) Ping(ctx context.Context) error { return nil }

func (r *InMemoryRepo) ListDocuments(ctx context.Context) (data.Documents, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.Documents, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepo) GetDocument(ctx context.Context, id int64) (*data.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return d.Clone(), nil
}

func (r *InMemoryRepo) FindURLOwners(ctx context.Context, urls []string) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64)
	for _, u := range urls {
		if id, ok := r.urlOwner[u]; ok {
			out[u] = id
		}
	}
	return out, nil
}

func (r *InMemoryRepo) ListURLsByStatus(ctx context.Context, statuses ...data.URLStatus) ([]data.DownloadURL, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[data.URLStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []data.DownloadURL
	for _, d := range r.docs {
		for _, u := range d.URLs {
			if want[u.Status] {
				out = append(out, u.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepo) CreateDocument(ctx context.Context, doc *data.Document, movie *data.Movie) (*data.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if taken := r.takenLocked(doc.URLs, 0, nil); len(taken) > 0 {
		return nil, &data.ConflictError{Msg: data.MsgURLTaken, URLs: taken}
	}

	now := r.now()
	if movie != nil {
		if doc.MovieCode == "" {
			doc.MovieCode = movie.Code
		}
		r.upsertMovieLocked(movie, now)
	}

	d := doc.Clone()
	d.ID = r.nextDocID
	r.nextDocID++
	if d.Status == "" {
		d.Status = data.StatusUndownload
	}
	d.CreatedAt, d.UpdatedAt = now, now
	for i := range d.URLs {
		r.stampURLLocked(&d.URLs[i], d.ID, now)
	}
	r.docs[d.ID] = d
	return d.Clone(), nil
}

func (r *InMemoryRepo) UpdateDocument(ctx context.Context, id int64, patch data.DocumentPatch, remove []string, add []data.DownloadURL) (*data.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.docs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	removing := make(map[string]bool, len(remove))
	for _, u := range remove {
		removing[u] = true
	}
	if taken := r.takenLocked(add, id, removing); len(taken) > 0 {
		return nil, &data.ConflictError{Msg: data.MsgURLTaken, URLs: taken}
	}

	// Nothing below can fail, so the shared maps are safe to mutate.
	now := r.now()
	next := cur.Clone()
	kept := next.URLs[:0]
	for _, u := range next.URLs {
		if !removing[u.URL] {
			kept = append(kept, u)
		}
	}
	next.URLs = kept
	for u := range removing {
		if r.urlOwner[u] == id {
			delete(r.urlOwner, u)
		}
	}
	for _, u := range add {
		r.stampURLLocked(&u, id, now)
		next.URLs = append(next.URLs, u.Clone())
	}
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Images != nil {
		next.Images = append([]string(nil), patch.Images...)
	}
	next.Status = data.RollupStatus(next.URLs)
	next.UpdatedAt = now
	r.docs[id] = next
	return next.Clone(), nil
}

func (r *InMemoryRepo) DeleteDocument(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return data.ErrNotFound
	}
	for _, u := range d.URLs {
		delete(r.urlOwner, u.URL)
	}
	delete(r.docs, id)
	return nil
}

func (r *InMemoryRepo) SetURLStatus(ctx context.Context, urlID int64, status data.URLStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		for i := range d.URLs {
			if d.URLs[i].ID == urlID {
				d.URLs[i].Status = status
				d.URLs[i].UpdatedAt = r.now()
				return nil
			}
		}
	}
	return data.ErrNotFound
}

func (r *InMemoryRepo) SetDocumentStatus(ctx context.Context, id int64, status data.DocumentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return data.ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = r.now()
	return nil
}

func (r *InMemoryRepo) GetMovie(ctx context.Context, code string) (*data.Movie, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.movies[code]
	if !ok {
		return nil, data.ErrNotFound
	}
	return m.Clone(), nil
}

func (r *InMemoryRepo) UpsertMovie(ctx context.Context, m *data.Movie) (*data.Movie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertMovieLocked(m, r.now()).Clone(), nil
}

func (r *InMemoryRepo) UpdateMovie(ctx context.Context, code string, mutate func(*data.Movie) error) (*data.Movie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.movies[code]
	if !ok {
		return nil, data.ErrNotFound
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.Code = code
	next.UpdatedAt = r.now()
	r.movies[code] = next
	return next.Clone(), nil
}

func (r *InMemoryRepo) ListMoviesMissingDetail(ctx context.Context, limit int) ([]*data.Movie, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*data.Movie
	for _, m := range r.movies {
		if m.Detail == nil {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// takenLocked returns the URLs of urls already owned by a document other
// than self (or owned by self and not being removed), plus duplicates
// within urls.
func (r *InMemoryRepo) takenLocked(urls []data.DownloadURL, self int64, removing map[string]bool) []string {
	var taken []string
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		owner, ok := r.urlOwner[u.URL]
		switch {
		case seen[u.URL]:
			taken = append(taken, u.URL)
		case ok && (owner != self || !removing[u.URL]):
			taken = append(taken, u.URL)
		}
		seen[u.URL] = true
	}
	return taken
}

func (r *InMemoryRepo) stampURLLocked(u *data.DownloadURL, docID int64, now time.Time) {
	u.ID = r.nextURLID
	r.nextURLID++
	u.DocumentID = docID
	if u.Status == "" {
		u.Status = data.StatusUndownload
	}
	u.CreatedAt, u.UpdatedAt = now, now
	r.urlOwner[u.URL] = docID
}

func (r *InMemoryRepo) upsertMovieLocked(in *data.Movie, now time.Time) *data.Movie {
	if cur, ok := r.movies[in.Code]; ok {
		mergeMovie(cur, in.Clone())
		cur.UpdatedAt = now
		return cur
	}
	m := in.Clone()
	if m.Status == "" {
		m.Status = data.MovieUncheck
	}
	m.CreatedAt, m.UpdatedAt = now, now
	r.movies[m.Code] = m
	return m
}
