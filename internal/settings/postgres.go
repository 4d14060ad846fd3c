package settings

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "strings"

    "github.com/tinoosan/magnetron/internal/data"
)

const (
    downloaderKeyPrefix = "downloader:"
    rulesKey            = "download_rules"
)

// PostgresStore keeps settings as JSONB values in a key/value table. It
// shares the connection pool of the repository.
type PostgresStore struct {
    db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
    s := &PostgresStore{db: db}
    if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
        return nil, err
    }
    return s, nil
}

func (s *PostgresStore) DownloaderConfigs(ctx context.Context) ([]DownloaderConfig, error) {
    return loadConfigs(ctx, s.db, "")
}

// loadConfigs reads every downloader entry; lock is appended to the query
// (e.g. FOR UPDATE) when called inside a transaction.
func loadConfigs(ctx context.Context, q interface {
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, lock string) ([]DownloaderConfig, error) {
    rows, err := q.QueryContext(ctx, `SELECT key, value FROM settings WHERE key LIKE 'downloader:%' ORDER BY key`+lock)
    if err != nil {
        return nil, persistence("load downloaders", err)
    }
    defer rows.Close()
    var out []DownloaderConfig
    for rows.Next() {
        var key, raw string
        if err := rows.Scan(&key, &raw); err != nil {
            return nil, persistence("scan downloader", err)
        }
        var c DownloaderConfig
        if err := json.Unmarshal([]byte(raw), &c); err != nil {
            // Keep the row visible to validation rather than failing the read.
            c = DownloaderConfig{}
        }
        if c.Name == "" {
            c.Name = DownloaderNameFromKey(key)
        }
        out = append(out, c)
    }
    if err := rows.Err(); err != nil {
        return nil, persistence("load downloaders", err)
    }
    return out, nil
}

func (s *PostgresStore) SaveDownloaderConfig(ctx context.Context, cfg DownloaderConfig) error {
    if err := cfg.Validate(); err != nil {
        return err
    }
    tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
    if err != nil {
        return persistence("begin", err)
    }
    defer func() { _ = tx.Rollback() }()

    cur, err := loadConfigs(ctx, tx, " FOR UPDATE")
    if err != nil {
        return err
    }
    for _, c := range upsert(cur, cfg) {
        if c.Name != cfg.Name && !changedDefault(cur, c) {
            continue
        }
        b, _ := json.Marshal(c)
        if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, downloaderKeyPrefix+string(c.Name), string(b)); err != nil {
            return persistence("save downloader", err)
        }
    }
    if err := tx.Commit(); err != nil {
        return persistence("commit", err)
    }
    return nil
}

// changedDefault reports whether c lost its default flag relative to cur.
func changedDefault(cur []DownloaderConfig, c DownloaderConfig) bool {
    prev, ok := Find(cur, c.Name)
    return ok && prev.IsDefault != c.IsDefault
}

func (s *PostgresStore) DownloadRules(ctx context.Context) (DownloadRules, error) {
    var raw string
    err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=$1`, rulesKey).Scan(&raw)
    if errors.Is(err, sql.ErrNoRows) {
        return DownloadRules{}, nil
    }
    if err != nil {
        return DownloadRules{}, persistence("load rules", err)
    }
    var r DownloadRules
    _ = json.Unmarshal([]byte(raw), &r)
    return r, nil
}

func (s *PostgresStore) SaveDownloadRules(ctx context.Context, r DownloadRules) error {
    b, _ := json.Marshal(r)
    if _, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, rulesKey, string(b)); err != nil {
        return persistence("save rules", err)
    }
    return nil
}

// DownloaderNameFromKey strips the key prefix used for downloader rows.
func DownloaderNameFromKey(key string) data.DownloaderName {
    return data.DownloaderName(strings.TrimPrefix(key, downloaderKeyPrefix))
}
