package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/db"
	"github.com/verifdevis/devis-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"get_analysis": `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`,
	"get_cache":    `SELECT value FROM company_cache WHERE key = $1 AND expires_at > now()`,
	"set_cache": `INSERT INTO company_cache (key, value, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $2, cached_at = $3, expires_at = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.HealthCheckPeriod = time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id                TEXT,
	file_path              TEXT NOT NULL,
	file_name              TEXT,
	mime_type              TEXT,
	status                 TEXT NOT NULL DEFAULT 'pending',
	score                  TEXT,
	resume                 TEXT,
	banner                 TEXT,
	points_ok              JSONB NOT NULL DEFAULT '[]',
	alertes                JSONB NOT NULL DEFAULT '[]',
	recommandations        JSONB NOT NULL DEFAULT '[]',
	raw_text               TEXT,
	site_context           JSONB,
	attestation_comparison JSONB,
	assurance_level2_score TEXT,
	error_message          TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_analyses_user_id ON analyses(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS company_cache (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_company_cache_expires_at ON company_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a model.Analysis) (*model.Analysis, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.Status = model.AnalysisPending
	a.CreatedAt, a.UpdatedAt = now, now
	a.PointsOK, a.Alertes, a.Recommandations = []string{}, []string{}, []string{}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (id, user_id, file_path, file_name, mime_type, status, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)`,
		a.ID, a.UserID, a.FilePath, a.FileName, a.MimeType, string(a.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert analysis")
	}
	return &a, nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NotFoundError("analysis", id)
		}
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}
	return a, nil
}

func (s *PostgresStore) StartAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	var a *model.Analysis
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		a, err = scanAnalysis(tx.QueryRow(ctx,
			`SELECT `+analysisColumns+` FROM analyses WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.NotFoundError("analysis", id)
			}
			return eris.Wrapf(err, "postgres: lock analysis %s", id)
		}
		now := time.Now().UTC()
		if inProcessingLease(a, now) {
			return model.ConflictError(id)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE analyses SET status = $1, error_message = NULL, `+resetResultColumns+`, updated_at = $2 WHERE id = $3`,
			string(model.AnalysisProcessing), now, id,
		); err != nil {
			return eris.Wrapf(err, "postgres: mark analysis %s processing", id)
		}
		a.Reset(now)
		return nil
	})
	if err != nil {
		if model.IsNotFound(err) || model.IsConflict(err) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "postgres: start analysis %s", id)
	}
	return a, nil
}

func (s *PostgresStore) CompleteAnalysis(ctx context.Context, id string, r *model.AnalysisReport) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, score = $2, resume = $3, banner = NULLIF($4, ''),
		   points_ok = $5, alertes = $6, recommandations = $7, raw_text = $8,
		   site_context = $9, attestation_comparison = $10, assurance_level2_score = NULLIF($11, ''),
		   error_message = NULL, updated_at = $12
		 WHERE id = $13`,
		string(model.AnalysisCompleted), string(r.Score), r.Resume, r.Banner,
		listJSON(r.PointsOK), listJSON(r.Alertes), listJSON(r.Recommandations), r.RawText,
		nullableJSON(r.SiteContext), nullableJSON(r.AttestationComparison), r.AssuranceLevel2Score,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFoundError("analysis", id)
	}
	return nil
}

func (s *PostgresStore) FailAnalysis(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, error_message = $2, `+resetResultColumns+`, updated_at = $3 WHERE id = $4`,
		string(model.AnalysisError), message, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFoundError("analysis", id)
	}
	return nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}

func (s *PostgresStore) GetCache(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM company_cache WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cache")
	}
	return value, nil
}

func (s *PostgresStore) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_cache (key, value, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = $2, cached_at = $3, expires_at = $4`,
		key, string(value), now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cache")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM company_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PurgeCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM company_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge cache")
	}
	return int(tag.RowsAffected()), nil
}
