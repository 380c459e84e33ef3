package jobs

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/alttext/pkg/storage"
)

var jobRowColumns = []string{
	"id", "job_type", "status", "description", "input_payload", "output_payload", "model_used",
	"error_message", "error_kind", "retryable", "attempts", "started_at", "completed_at", "created_at", "updated_at",
}

func newDBManager(t *testing.T) (*DBManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDBManager(storage.NewJobStore(db), zerolog.Nop()), mock
}

func TestDBManagerEnqueue(t *testing.T) {
	mgr, mock := newDBManager(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), storage.JobTypeAltTextGeneration, storage.JobStatusPending,
			"Generating alt text for a.png (Asset: 7, Site: 2)",
			`{"asset_id":7,"site_id":2,"force_regeneration":true}`, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := mgr.Enqueue(context.Background(), "Generating alt text for a.png (Asset: 7, Site: 2)",
		Payload{AssetID: 7, SiteID: 2, ForceRegeneration: true})
	require.NoError(t, err)
	assert.Len(t, job.ID, 36)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, int64(7), job.Payload.AssetID)
	assert.True(t, job.Payload.ForceRegeneration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBManagerClaim(t *testing.T) {
	mgr, mock := newDBManager(t)
	now := time.Now()

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			"job-1", "alt_text_generation", "running", "desc", `{"asset_id":3,"site_id":1}`, nil, nil,
			nil, nil, false, 2, now, nil, now, now,
		))
	job, err := mgr.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, Payload{AssetID: 3, SiteID: 1}, job.Payload)
	assert.Equal(t, 2, job.Attempts)
	assert.Nil(t, job.Output)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnError(sql.ErrNoRows)
	job, err = mgr.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBManagerCompleteAndFail(t *testing.T) {
	mgr, mock := newDBManager(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-1", storage.JobStatusCompleted, `{"alt_text":"A cat.","model":"gpt-4.1-nano"}`, "gpt-4.1-nano",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, mgr.Complete(ctx, "job-1", Output{AltText: "A cat.", Model: "gpt-4.1-nano"}))

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-2", storage.JobStatusFailed, "connection reset", "transport", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, mgr.Fail(ctx, "job-2", Failure{Message: "connection reset", Kind: "transport", Retryable: true}))

	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, mgr.Fail(ctx, "job-3", Failure{Message: "x"}), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBManagerRetry(t *testing.T) {
	mgr, mock := newDBManager(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-1", storage.JobStatusPending, sqlmock.AnyArg(), storage.JobStatusFailed, storage.JobStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, mgr.Retry(ctx, "job-1"))

	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, mgr.Retry(ctx, "job-2"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBManagerGet(t *testing.T) {
	mgr, mock := newDBManager(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			"job-1", "alt_text_generation", "completed", "desc", `{"asset_id":3,"site_id":1}`, `{"alt_text":"A cat."}`,
			"gpt-4.1-nano", nil, nil, false, 1, now, now, now, now,
		))
	job, err := mgr.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.Output)
	assert.Equal(t, "A cat.", job.Output.AltText)
	assert.Equal(t, "gpt-4.1-nano", job.Output.Model)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").WillReturnError(sql.ErrNoRows)
	_, err = mgr.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBManagerPendingDescriptions(t *testing.T) {
	mgr, mock := newDBManager(t)

	mock.ExpectQuery("SELECT description FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"description"}).AddRow("a").AddRow("b"))
	descs, err := mgr.PendingDescriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, descs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBManagerMigrateFromFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files, err := NewFileManager(dir)
	require.NoError(t, err)

	_, err = files.Enqueue(ctx, "Generating alt text for a.png (Asset: 1, Site: 1)", Payload{AssetID: 1, SiteID: 1})
	require.NoError(t, err)
	done, err := files.Enqueue(ctx, "done", Payload{AssetID: 2, SiteID: 1})
	require.NoError(t, err)
	require.NoError(t, files.Complete(ctx, done.ID, Output{AltText: "x"}))

	mgr, mock := newDBManager(t)
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), storage.JobTypeAltTextGeneration, storage.JobStatusPending,
			"Generating alt text for a.png (Asset: 1, Site: 1)", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := mgr.MigrateFromFiles(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())

	n, err = mgr.MigrateFromFiles(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
