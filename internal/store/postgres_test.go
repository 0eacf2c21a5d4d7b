package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var analysisColumnNames = []string{
	"id", "user_id", "file_path", "file_name", "mime_type",
	"status", "score", "resume", "banner",
	"points_ok", "alertes", "recommandations", "raw_text",
	"site_context", "attestation_comparison", "assurance_level2_score", "error_message",
	"created_at", "updated_at",
}

func analysisRow(id string, status model.AnalysisStatus, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(analysisColumnNames).AddRow(
		id, "user-1", "quotes/devis.pdf", "devis.pdf", "application/pdf",
		string(status), "ORANGE", "Devis émis par RENOV PLUS.", "",
		[]byte(`["Entreprise active."]`), []byte(`["Acompte élevé."]`), []byte(`[]`), "DEVIS",
		[]byte(`{"code_insee":"75111"}`), []byte(nil), "VERT", "",
		now, now,
	)
}

func TestPostgresStore_GetAnalysis(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)SELECT id, COALESCE\(user_id, ''\), file_path, .* FROM analyses WHERE id = \$1$`).
		WithArgs("a-1").
		WillReturnRows(analysisRow("a-1", model.AnalysisCompleted, now))

	a, err := s.GetAnalysis(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisCompleted, a.Status)
	assert.Equal(t, model.ScoreOrange, a.Score)
	assert.Equal(t, []string{"Entreprise active."}, a.PointsOK)
	assert.Equal(t, []string{}, a.Recommandations)
	assert.JSONEq(t, `{"code_insee":"75111"}`, string(a.SiteContext))
	assert.Nil(t, a.AttestationComparison)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAnalysis_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM analyses WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAnalysis(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAnalysis_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM analyses WHERE id = \$1`).
		WithArgs("a-1").
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetAnalysis(context.Background(), "a-1")
	require.Error(t, err)
	assert.False(t, model.IsNotFound(err))
	assert.Contains(t, err.Error(), "get analysis")
}

func TestPostgresStore_CreateAnalysis(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO analyses`).
		WithArgs(pgxmock.AnyArg(), "user-1", "quotes/devis.pdf", "devis.pdf", "application/pdf", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	a, err := s.CreateAnalysis(context.Background(), model.Analysis{
		UserID: "user-1", FilePath: "quotes/devis.pdf", FileName: "devis.pdf", MimeType: "application/pdf",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, model.AnalysisPending, a.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAnalysis(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM analyses WHERE id = \$1 FOR UPDATE`).
		WithArgs("a-1").
		WillReturnRows(analysisRow("a-1", model.AnalysisPending, now))
	mock.ExpectExec(`UPDATE analyses SET status = \$1`).
		WithArgs("processing", pgxmock.AnyArg(), "a-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	a, err := s.StartAnalysis(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisProcessing, a.Status)
	assert.Equal(t, "quotes/devis.pdf", a.FilePath)
	assert.Empty(t, a.Score)
	assert.Empty(t, a.Resume)
	assert.Equal(t, []string{}, a.PointsOK)
	assert.Nil(t, a.SiteContext)
	assert.Empty(t, a.AssuranceLevel2Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAnalysis_ClearsVerdictColumns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("a-1").
		WillReturnRows(analysisRow("a-1", model.AnalysisCompleted, now.Add(-time.Hour)))
	mock.ExpectExec(`(?s)score = NULL, resume = NULL, banner = NULL,.*points_ok = '\[\]'.*site_context = NULL, attestation_comparison = NULL, assurance_level2_score = NULL`).
		WithArgs("processing", pgxmock.AnyArg(), "a-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	_, err := s.StartAnalysis(context.Background(), "a-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAnalysis_AlreadyProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("a-1").
		WillReturnRows(analysisRow("a-1", model.AnalysisProcessing, time.Now().UTC()))
	mock.ExpectRollback()

	_, err := s.StartAnalysis(context.Background(), "a-1")
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAnalysis_StaleProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("a-1").
		WillReturnRows(analysisRow("a-1", model.AnalysisProcessing, time.Now().UTC().Add(-time.Hour)))
	mock.ExpectExec(`UPDATE analyses SET status = \$1`).
		WithArgs("processing", pgxmock.AnyArg(), "a-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	a, err := s.StartAnalysis(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisProcessing, a.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartAnalysis_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.StartAnalysis(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteAnalysis(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE analyses SET status = \$1, score = \$2`).
		WithArgs("completed", "VERT", "Résumé", "",
			`["ok"]`, `[]`, `[]`, "raw",
			pgxmock.AnyArg(), `{"guarantees":[]}`, "VERT",
			pgxmock.AnyArg(), "a-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteAnalysis(context.Background(), "a-1", &model.AnalysisReport{
		Score: model.ScoreVert, Resume: "Résumé", PointsOK: []string{"ok"}, RawText: "raw",
		AttestationComparison: []byte(`{"guarantees":[]}`), AssuranceLevel2Score: "VERT",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteAnalysis_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE analyses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteAnalysis(context.Background(), "gone", &model.AnalysisReport{Score: model.ScoreVert})
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestPostgresStore_FailAnalysis(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)UPDATE analyses SET status = \$1, error_message = \$2, score = NULL, .*assurance_level2_score = NULL, updated_at = \$3`).
		WithArgs("error", "Le document est illisible.", pgxmock.AnyArg(), "a-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailAnalysis(context.Background(), "a-1", "Le document est illisible."))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAnalyses(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := analysisRow("a-1", model.AnalysisCompleted, now)
	mock.ExpectQuery(`FROM analyses WHERE true AND status = \$1 AND user_id = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("completed", "user-1", 10, 20).
		WillReturnRows(rows)

	got, err := s.ListAnalyses(context.Background(), AnalysisFilter{
		Status: model.AnalysisCompleted, UserID: "user-1", Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a-1", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAnalyses_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`ORDER BY created_at DESC LIMIT \$1$`).
		WithArgs(defaultListLimit).
		WillReturnRows(pgxmock.NewRows(analysisColumnNames))

	got, err := s.ListAnalyses(context.Background(), AnalysisFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM company_cache`).
		WithArgs("company:732829320").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"siren":"732829320"}`)))

	v, err := s.GetCache(context.Background(), "company:732829320")
	require.NoError(t, err)
	assert.JSONEq(t, `{"siren":"732829320"}`, string(v))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCache_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM company_cache`).
		WithArgs("company:000000000").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.GetCache(context.Background(), "company:000000000")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPostgresStore_SetCache_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("company:732829320", `{"exists":"yes"}`, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetCache(context.Background(), "company:732829320", []byte(`{"exists":"yes"}`), 30*24*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM company_cache WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM company_cache$`).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := s.DeleteExpiredCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.PurgeCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
