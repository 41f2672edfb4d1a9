package registry_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/ransomeye/rebuild-sub001/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRegistry(t *testing.T) (*registry.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return registry.NewPostgres(db), mock
}

func TestRegister_InsertsNewArtifact(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	emptyRows := sqlmock.NewRows([]string{"id", "name", "version", "manifest_hash", "path", "metadata", "status", "uploader", "uploaded_at", "activated_at"})
	mock.ExpectQuery(`SELECT id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at, activated_at FROM artifacts WHERE manifest_hash = \$1`).
		WithArgs("hash-1").
		WillReturnRows(emptyRows)

	mock.ExpectExec(`INSERT INTO artifacts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := r.Register(ctx, "classifier", "1.0.0", "hash-1", "/var/lib/ransomeye/artifacts/a1", nil, "operator")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_ReturnsExistingIDOnDuplicateHash(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "name", "version", "manifest_hash", "path", "metadata", "status", "uploader", "uploaded_at", "activated_at"}).
		AddRow("existing-id", "classifier", "1.0.0", "hash-1", "/path", []byte(`{}`), "inactive", "op", time.Now(), nil)

	mock.ExpectQuery(`SELECT id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at, activated_at FROM artifacts WHERE manifest_hash = \$1`).
		WithArgs("hash-1").
		WillReturnRows(rows)

	id, err := r.Register(ctx, "classifier", "1.0.0", "hash-1", "/path", nil, "op")
	require.NoError(t, err)
	assert.Equal(t, "existing-id", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivate_DemotesPriorActiveInSameTransaction(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name FROM artifacts WHERE id = \$1`).
		WithArgs("new-id").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("classifier"))
	mock.ExpectExec(`UPDATE artifacts SET status = \$1 WHERE name = \$2 AND status = \$3 AND id != \$4`).
		WithArgs("inactive", "classifier", "active", "new-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE artifacts SET status = \$1, activated_at = \$2 WHERE id = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Activate(ctx, "new-id"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivate_RollsBackOnNotFound(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name FROM artifacts WHERE id = \$1`).
		WithArgs("missing-id").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectRollback()

	err := r.Activate(ctx, "missing-id")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_RefusesActiveArtifact(t *testing.T) {
	r, mock := newMockRegistry(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "name", "version", "manifest_hash", "path", "metadata", "status", "uploader", "uploaded_at", "activated_at"}).
		AddRow("a1", "classifier", "1.0.0", "hash-1", "/path", []byte(`{}`), "active", "op", time.Now(), time.Now())

	mock.ExpectQuery(`SELECT id, name, version, manifest_hash, path, metadata, status, uploader, uploaded_at, activated_at FROM artifacts WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(rows)

	err := r.Delete(ctx, "a1")
	require.ErrorIs(t, err, registry.ErrActiveArtifact)
	require.NoError(t, mock.ExpectationsWereMet())
}
