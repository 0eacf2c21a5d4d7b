package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/verifdevis/devis-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// runs of the CLI.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id                     TEXT PRIMARY KEY,
	user_id                TEXT,
	file_path              TEXT NOT NULL,
	file_name              TEXT,
	mime_type              TEXT,
	status                 TEXT NOT NULL DEFAULT 'pending',
	score                  TEXT,
	resume                 TEXT,
	banner                 TEXT,
	points_ok              TEXT NOT NULL DEFAULT '[]',
	alertes                TEXT NOT NULL DEFAULT '[]',
	recommandations        TEXT NOT NULL DEFAULT '[]',
	raw_text               TEXT,
	site_context           TEXT,
	attestation_comparison TEXT,
	assurance_level2_score TEXT,
	error_message          TEXT,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_analyses_user_id ON analyses(user_id, created_at);

CREATE TABLE IF NOT EXISTS company_cache (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_company_cache_expires_at ON company_cache(expires_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a model.Analysis) (*model.Analysis, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.Status = model.AnalysisPending
	a.CreatedAt, a.UpdatedAt = now, now
	a.PointsOK, a.Alertes, a.Recommandations = []string{}, []string{}, []string{}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, user_id, file_path, file_name, mime_type, status, created_at, updated_at)
		 VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`,
		a.ID, a.UserID, a.FilePath, a.FileName, a.MimeType, string(a.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert analysis")
	}
	return &a, nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	return s.getAnalysis(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getAnalysis(ctx context.Context, q queryRower, id string) (*model.Analysis, error) {
	a, err := scanAnalysis(q.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, model.NotFoundError("analysis", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) StartAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	a, err := s.getAnalysis(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if inProcessingLease(a, now) {
		return nil, model.ConflictError(id)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE analyses SET status = ?, error_message = NULL, `+resetResultColumns+`, updated_at = ? WHERE id = ?`,
		string(model.AnalysisProcessing), now, id,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: mark analysis %s processing", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}
	a.Reset(now)
	return a, nil
}

func (s *SQLiteStore) CompleteAnalysis(ctx context.Context, id string, r *model.AnalysisReport) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, score = ?, resume = ?, banner = NULLIF(?, ''),
		   points_ok = ?, alertes = ?, recommandations = ?, raw_text = ?,
		   site_context = ?, attestation_comparison = ?, assurance_level2_score = NULLIF(?, ''),
		   error_message = NULL, updated_at = ?
		 WHERE id = ?`,
		string(model.AnalysisCompleted), string(r.Score), r.Resume, r.Banner,
		listJSON(r.PointsOK), listJSON(r.Alertes), listJSON(r.Recommandations), r.RawText,
		nullableJSON(r.SiteContext), nullableJSON(r.AttestationComparison), r.AssuranceLevel2Score,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete analysis %s", id)
	}
	return checkRowsAffected(res, "analysis", id)
}

func (s *SQLiteStore) FailAnalysis(ctx context.Context, id string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, error_message = ?, `+resetResultColumns+`, updated_at = ? WHERE id = ?`,
		string(model.AnalysisError), message, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail analysis %s", id)
	}
	return checkRowsAffected(res, "analysis", id)
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list analyses iterate")
}

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM company_cache WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache")
	}
	return value, nil
}

func (s *SQLiteStore) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO company_cache (key, value, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, value, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cache")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM company_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) PurgeCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM company_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.NotFoundError(entity, id)
	}
	return nil
}
