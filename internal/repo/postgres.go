package repo

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "net"
    "net/url"
    "os"
    "strings"
    "time"

    "github.com/jackc/pgx/v5/pgconn"
    _ "github.com/jackc/pgx/v5/stdlib"

    "github.com/tinoosan/magnetron/internal/data"
)

// PostgresRepo implements Repo backed by PostgreSQL.
// download_urls.url carries a unique constraint; it is the final arbiter for
// concurrent submissions of the same link.
type PostgresRepo struct {
    db *sql.DB
}

var _ Repo = (*PostgresRepo)(nil)

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    r := &PostgresRepo{db: db}
    if err := r.ensureSchema(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return r, nil
}

// DSNFromEnv builds a DSN from DATABASE_URL or, when unset, from components:
//   POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (magnetron),
//   POSTGRES_USER (magnetron), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
// Credentials and db name are URL-encoded to handle special characters safely.
func DSNFromEnv() string {
    if v := os.Getenv("DATABASE_URL"); v != "" {
        return v
    }
    u := &url.URL{
        Scheme: "postgres",
        User:   url.UserPassword(getenv("POSTGRES_USER", "magnetron"), getenv("POSTGRES_PASSWORD", "")),
        Host:   net.JoinHostPort(getenv("POSTGRES_HOST", "postgres"), getenv("POSTGRES_PORT", "5432")),
        Path:   "/" + getenv("POSTGRES_DB", "magnetron"),
    }
    q := url.Values{}
    q.Set("sslmode", getenv("POSTGRES_SSLMODE", "disable"))
    u.RawQuery = q.Encode()
    return u.String()
}

func getenv(k, def string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return def
}

// DB exposes the pool so other stores (settings) can share it.
func (r *PostgresRepo) DB() *sql.DB { return r.db }

func (r *PostgresRepo) Close() error { return r.db.Close() }

func (r *PostgresRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

var schema = []string{
    `CREATE TABLE IF NOT EXISTS movies (
    code TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    cover TEXT NOT NULL DEFAULT '',
    detail JSONB,
    magnets JSONB,
    status TEXT NOT NULL DEFAULT 'uncheck',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
    `CREATE TABLE IF NOT EXISTS documents (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    images JSONB,
    status TEXT NOT NULL,
    movie_code TEXT REFERENCES movies(code) ON DELETE SET NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
    `CREATE TABLE IF NOT EXISTS download_urls (
    id BIGSERIAL PRIMARY KEY,
    document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    hash TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    detail JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT download_urls_url_key UNIQUE (url)
)`,
    `CREATE INDEX IF NOT EXISTS download_urls_status_idx ON download_urls (status)`,
    `CREATE INDEX IF NOT EXISTS download_urls_document_idx ON download_urls (document_id)`,
}

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
    for _, stmt := range schema {
        if _, err := r.db.ExecContext(ctx, stmt); err != nil {
            return err
        }
    }
    return nil
}

const (
    docCols = `id,title,description,images,status,COALESCE(movie_code,''),created_at,updated_at`
    urlCols = `id,document_id,url,hash,status,detail,created_at,updated_at`
    movieCols = `code,title,cover,detail,magnets,status,created_at,updated_at`
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PostgresRepo) ListDocuments(ctx context.Context) (data.Documents, error) {
    rows, err := r.db.QueryContext(ctx, `SELECT `+docCols+` FROM documents ORDER BY id ASC`)
    if err != nil {
        return nil, data.Persistence("list documents", err)
    }
    defer rows.Close()
    var out data.Documents
    byID := map[int64]*data.Document{}
    for rows.Next() {
        d, err := scanDocument(rows)
        if err != nil {
            return nil, data.Persistence("scan document", err)
        }
        out = append(out, d)
        byID[d.ID] = d
    }
    if err := rows.Err(); err != nil {
        return nil, data.Persistence("list documents", err)
    }

    urows, err := r.db.QueryContext(ctx, `SELECT `+urlCols+` FROM download_urls ORDER BY id ASC`)
    if err != nil {
        return nil, data.Persistence("list urls", err)
    }
    defer urows.Close()
    for urows.Next() {
        u, err := scanURL(urows)
        if err != nil {
            return nil, data.Persistence("scan url", err)
        }
        if d, ok := byID[u.DocumentID]; ok {
            d.URLs = append(d.URLs, u)
        }
    }
    if err := urows.Err(); err != nil {
        return nil, data.Persistence("list urls", err)
    }
    return out, nil
}

func (r *PostgresRepo) GetDocument(ctx context.Context, id int64) (*data.Document, error) {
    return getDocument(ctx, r.db, id)
}

func getDocument(ctx context.Context, q queryer, id int64) (*data.Document, error) {
    d, err := scanDocument(q.QueryRowContext(ctx, `SELECT `+docCols+` FROM documents WHERE id=$1`, id))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, data.ErrNotFound
        }
        return nil, data.Persistence("get document", err)
    }
    rows, err := q.QueryContext(ctx, `SELECT `+urlCols+` FROM download_urls WHERE document_id=$1 ORDER BY id ASC`, id)
    if err != nil {
        return nil, data.Persistence("get document urls", err)
    }
    defer rows.Close()
    for rows.Next() {
        u, err := scanURL(rows)
        if err != nil {
            return nil, data.Persistence("scan url", err)
        }
        d.URLs = append(d.URLs, u)
    }
    if err := rows.Err(); err != nil {
        return nil, data.Persistence("get document urls", err)
    }
    return d, nil
}

func (r *PostgresRepo) FindURLOwners(ctx context.Context, urls []string) (map[string]int64, error) {
    out := make(map[string]int64)
    if len(urls) == 0 {
        return out, nil
    }
    rows, err := r.db.QueryContext(ctx, `SELECT url, document_id FROM download_urls WHERE url = ANY($1)`, urls)
    if err != nil {
        return nil, data.Persistence("find url owners", err)
    }
    defer rows.Close()
    for rows.Next() {
        var u string
        var id int64
        if err := rows.Scan(&u, &id); err != nil {
            return nil, data.Persistence("scan url owner", err)
        }
        out[u] = id
    }
    return out, rows.Err()
}

func (r *PostgresRepo) ListURLsByStatus(ctx context.Context, statuses ...data.URLStatus) ([]data.DownloadURL, error) {
    ss := make([]string, 0, len(statuses))
    for _, s := range statuses {
        ss = append(ss, string(s))
    }
    rows, err := r.db.QueryContext(ctx, `SELECT `+urlCols+` FROM download_urls WHERE status = ANY($1) ORDER BY id ASC`, ss)
    if err != nil {
        return nil, data.Persistence("list urls by status", err)
    }
    defer rows.Close()
    var out []data.DownloadURL
    for rows.Next() {
        u, err := scanURL(rows)
        if err != nil {
            return nil, data.Persistence("scan url", err)
        }
        out = append(out, u)
    }
    return out, rows.Err()
}

func (r *PostgresRepo) CreateDocument(ctx context.Context, doc *data.Document, movie *data.Movie) (*data.Document, error) {
    tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
    if err != nil {
        return nil, data.Persistence("begin", err)
    }
    defer func() {
        // Safe rollback when not committed
        _ = tx.Rollback()
    }()

    movieCode := doc.MovieCode
    if movie != nil {
        if err := upsertMovie(ctx, tx, movie); err != nil {
            return nil, err
        }
        if movieCode == "" {
            movieCode = movie.Code
        }
    }
    status := doc.Status
    if status == "" {
        status = data.StatusUndownload
    }

    var id int64
    err = tx.QueryRowContext(ctx, `INSERT INTO documents (title,description,images,status,movie_code) VALUES ($1,$2,$3,$4,NULLIF($5,'')) RETURNING id`,
        doc.Title, doc.Description, jsonArg(doc.Images), string(status), movieCode).Scan(&id)
    if err != nil {
        return nil, data.Persistence("insert document", err)
    }

    if err := insertURLs(ctx, tx, id, doc.URLs); err != nil {
        return nil, err
    }

    created, err := getDocument(ctx, tx, id)
    if err != nil {
        return nil, err
    }
    if err := tx.Commit(); err != nil {
        return nil, commitErr(err)
    }
    return created, nil
}

func (r *PostgresRepo) UpdateDocument(ctx context.Context, id int64, patch data.DocumentPatch, remove []string, add []data.DownloadURL) (*data.Document, error) {
    tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
    if err != nil {
        return nil, data.Persistence("begin", err)
    }
    defer func() { _ = tx.Rollback() }()

    var locked int64
    if err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id=$1 FOR UPDATE`, id).Scan(&locked); err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, data.ErrNotFound
        }
        return nil, data.Persistence("lock document", err)
    }

    if len(remove) > 0 {
        if _, err := tx.ExecContext(ctx, `DELETE FROM download_urls WHERE document_id=$1 AND url = ANY($2)`, id, remove); err != nil {
            return nil, data.Persistence("delete urls", err)
        }
    }
    if err := insertURLs(ctx, tx, id, add); err != nil {
        return nil, err
    }

    var images any
    if patch.Images != nil {
        images = jsonArg(patch.Images)
    }
    if _, err := tx.ExecContext(ctx, `UPDATE documents SET title=COALESCE($2,title), description=COALESCE($3,description), images=COALESCE($4::jsonb,images), updated_at=now() WHERE id=$1`,
        id, nullString(patch.Title), nullString(patch.Description), images); err != nil {
        return nil, data.Persistence("update document", err)
    }

    updated, err := getDocument(ctx, tx, id)
    if err != nil {
        return nil, err
    }
    if st := data.RollupStatus(updated.URLs); st != updated.Status {
        if _, err := tx.ExecContext(ctx, `UPDATE documents SET status=$2 WHERE id=$1`, id, string(st)); err != nil {
            return nil, data.Persistence("rollup document status", err)
        }
        updated.Status = st
    }
    if err := tx.Commit(); err != nil {
        return nil, commitErr(err)
    }
    return updated, nil
}

func (r *PostgresRepo) DeleteDocument(ctx context.Context, id int64) error {
    res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
    if err != nil {
        return data.Persistence("delete document", err)
    }
    n, _ := res.RowsAffected()
    if n == 0 {
        return data.ErrNotFound
    }
    return nil
}

func (r *PostgresRepo) SetURLStatus(ctx context.Context, urlID int64, status data.URLStatus) error {
    res, err := r.db.ExecContext(ctx, `UPDATE download_urls SET status=$2, updated_at=now() WHERE id=$1`, urlID, string(status))
    if err != nil {
        return data.Persistence("set url status", err)
    }
    n, _ := res.RowsAffected()
    if n == 0 {
        return data.ErrNotFound
    }
    return nil
}

func (r *PostgresRepo) SetDocumentStatus(ctx context.Context, id int64, status data.DocumentStatus) error {
    res, err := r.db.ExecContext(ctx, `UPDATE documents SET status=$2, updated_at=now() WHERE id=$1`, id, string(status))
    if err != nil {
        return data.Persistence("set document status", err)
    }
    n, _ := res.RowsAffected()
    if n == 0 {
        return data.ErrNotFound
    }
    return nil
}

func (r *PostgresRepo) GetMovie(ctx context.Context, code string) (*data.Movie, error) {
    m, err := scanMovie(r.db.QueryRowContext(ctx, `SELECT `+movieCols+` FROM movies WHERE code=$1`, code))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, data.ErrNotFound
        }
        return nil, data.Persistence("get movie", err)
    }
    return m, nil
}

func (r *PostgresRepo) UpsertMovie(ctx context.Context, m *data.Movie) (*data.Movie, error) {
    if err := upsertMovie(ctx, r.db, m); err != nil {
        return nil, err
    }
    return r.GetMovie(ctx, m.Code)
}

// UpdateMovie serializes updates per row using SELECT ... FOR UPDATE.
func (r *PostgresRepo) UpdateMovie(ctx context.Context, code string, mutate func(*data.Movie) error) (*data.Movie, error) {
    tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
    if err != nil {
        return nil, data.Persistence("begin", err)
    }
    defer func() { _ = tx.Rollback() }()

    cur, err := scanMovie(tx.QueryRowContext(ctx, `SELECT `+movieCols+` FROM movies WHERE code=$1 FOR UPDATE`, code))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, data.ErrNotFound
        }
        return nil, data.Persistence("lock movie", err)
    }
    next := cur.Clone()
    if mutate != nil {
        if err := mutate(next); err != nil {
            return nil, err
        }
    }
    if _, err := tx.ExecContext(ctx, `UPDATE movies SET title=$2, cover=$3, detail=$4, magnets=$5, status=$6, updated_at=now() WHERE code=$1`,
        code, next.Title, next.Cover, jsonArg(next.Detail), jsonArg(next.Magnets), string(next.Status)); err != nil {
        return nil, data.Persistence("update movie", err)
    }
    updated, err := scanMovie(tx.QueryRowContext(ctx, `SELECT `+movieCols+` FROM movies WHERE code=$1`, code))
    if err != nil {
        return nil, data.Persistence("reload movie", err)
    }
    if err := tx.Commit(); err != nil {
        return nil, commitErr(err)
    }
    return updated, nil
}

func (r *PostgresRepo) ListMoviesMissingDetail(ctx context.Context, limit int) ([]*data.Movie, error) {
    q := `SELECT ` + movieCols + ` FROM movies WHERE detail IS NULL ORDER BY code ASC`
    args := []any{}
    if limit > 0 {
        q += ` LIMIT $1`
        args = append(args, limit)
    }
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, data.Persistence("list movies", err)
    }
    defer rows.Close()
    var out []*data.Movie
    for rows.Next() {
        m, err := scanMovie(rows)
        if err != nil {
            return nil, data.Persistence("scan movie", err)
        }
        out = append(out, m)
    }
    return out, rows.Err()
}

// Helpers

func insertURLs(ctx context.Context, q queryer, docID int64, urls []data.DownloadURL) error {
    for _, u := range urls {
        status := u.Status
        if status == "" {
            status = data.StatusUndownload
        }
        if _, err := q.ExecContext(ctx, `INSERT INTO download_urls (document_id,url,hash,status,detail) VALUES ($1,$2,$3,$4,$5)`,
            docID, u.URL, u.Hash, string(status), jsonArg(u.Detail)); err != nil {
            if isUniqueViolation(err) {
                return &data.ConflictError{Msg: data.MsgURLTaken, URLs: []string{u.URL}}
            }
            return data.Persistence("insert url", err)
        }
    }
    return nil
}

func upsertMovie(ctx context.Context, q queryer, m *data.Movie) error {
    status := m.Status
    if status == "" {
        status = data.MovieUncheck
    }
    var magnets any
    if len(m.Magnets) > 0 {
        magnets = jsonArg(m.Magnets)
    }
    _, err := q.ExecContext(ctx, `
INSERT INTO movies (code,title,cover,detail,magnets,status) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (code) DO UPDATE SET
    title = COALESCE(NULLIF(EXCLUDED.title,''), movies.title),
    cover = COALESCE(NULLIF(EXCLUDED.cover,''), movies.cover),
    detail = COALESCE(EXCLUDED.detail, movies.detail),
    magnets = COALESCE(EXCLUDED.magnets, movies.magnets),
    updated_at = now()`,
        m.Code, m.Title, m.Cover, jsonArg(m.Detail), magnets, string(status))
    if err != nil {
        return data.Persistence("upsert movie", err)
    }
    return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanDocument(rs rowScanner) (*data.Document, error) {
    var (
        d      data.Document
        images sql.NullString
        status string
    )
    if err := rs.Scan(&d.ID, &d.Title, &d.Description, &images, &status, &d.MovieCode, &d.CreatedAt, &d.UpdatedAt); err != nil {
        return nil, err
    }
    d.Status = data.DocumentStatus(status)
    d.Images = []string{}
    if images.Valid && images.String != "" {
        _ = json.Unmarshal([]byte(images.String), &d.Images)
    }
    return &d, nil
}

func scanURL(rs rowScanner) (data.DownloadURL, error) {
    var (
        u      data.DownloadURL
        status string
        detail sql.NullString
    )
    if err := rs.Scan(&u.ID, &u.DocumentID, &u.URL, &u.Hash, &status, &detail, &u.CreatedAt, &u.UpdatedAt); err != nil {
        return u, err
    }
    u.Status = data.URLStatus(status)
    if detail.Valid && detail.String != "" {
        var p data.Preview
        if json.Unmarshal([]byte(detail.String), &p) == nil {
            u.Detail = &p
        }
    }
    return u, nil
}

func scanMovie(rs rowScanner) (*data.Movie, error) {
    var (
        m               data.Movie
        detail, magnets sql.NullString
        status          string
    )
    if err := rs.Scan(&m.Code, &m.Title, &m.Cover, &detail, &magnets, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
        return nil, err
    }
    m.Status = data.MovieStatus(status)
    if detail.Valid && detail.String != "" {
        var d data.MovieDetail
        if json.Unmarshal([]byte(detail.String), &d) == nil {
            m.Detail = &d
        }
    }
    if magnets.Valid && magnets.String != "" {
        _ = json.Unmarshal([]byte(magnets.String), &m.Magnets)
    }
    return &m, nil
}

func isUniqueViolation(err error) bool {
    if err == nil {
        return false
    }
    var pgErr *pgconn.PgError
    if errors.As(err, &pgErr) {
        return pgErr.Code == "23505"
    }
    msg := strings.ToLower(err.Error())
    return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}

// commitErr reports a commit-time unique violation (deferred constraint or a
// concurrent insert of the same URL) as a conflict.
func commitErr(err error) error {
    if isUniqueViolation(err) {
        return &data.ConflictError{Msg: data.MsgURLTaken}
    }
    return data.Persistence("commit", err)
}

// jsonArg marshals v for a JSONB column; nil and empty values become NULL.
func jsonArg(v any) any {
    b, err := json.Marshal(v)
    if err != nil || len(b) == 0 || string(b) == "null" {
        return nil
    }
    return string(b)
}

func nullString(s *string) any {
    if s == nil {
        return nil
    }
    return *s
}
