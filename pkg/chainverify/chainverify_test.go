package chainverify_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/ransomeye/rebuild-sub001/pkg/chainverify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockVerifier(t *testing.T) (*chainverify.Verifier, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return chainverify.NewVerifier(db, nil), mock
}

func TestWaitForRecord_ReturnsImmediatelyOnFirstMatch(t *testing.T) {
	v, mock := newMockVerifier(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))
	mock.ExpectRollback()

	found, elapsed, err := v.WaitForRecord(context.Background(), time.Second, time.Millisecond, 5*time.Millisecond,
		func(ctx context.Context, tx *sql.Tx) (bool, error) {
			row := tx.QueryRowContext(ctx, `SELECT 1`)
			var x int
			scanErr := row.Scan(&x)
			return scanErr == nil, scanErr
		})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Less(t, elapsed, 50*time.Millisecond)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitForRecord_RetriesWithBackoffThenSucceeds(t *testing.T) {
	v, mock := newMockVerifier(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))
	mock.ExpectRollback()

	found, _, err := v.WaitForRecord(context.Background(), time.Second, 2*time.Millisecond, 10*time.Millisecond,
		func(ctx context.Context, tx *sql.Tx) (bool, error) {
			row := tx.QueryRowContext(ctx, `SELECT 1`)
			var x int
			scanErr := row.Scan(&x)
			if errors.Is(scanErr, sql.ErrNoRows) {
				return false, nil
			}
			return scanErr == nil, scanErr
		})

	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitForRecord_ReturnsErrNotFoundAfterTimeout(t *testing.T) {
	v, mock := newMockVerifier(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectRollback()

	found, elapsed, err := v.WaitForRecord(context.Background(), 5*time.Millisecond, 2*time.Millisecond, 2*time.Millisecond,
		func(ctx context.Context, tx *sql.Tx) (bool, error) {
			row := tx.QueryRowContext(ctx, `SELECT 1`)
			var x int
			scanErr := row.Scan(&x)
			if errors.Is(scanErr, sql.ErrNoRows) {
				return false, nil
			}
			return scanErr == nil, scanErr
		})

	assert.False(t, found)
	assert.Equal(t, 5*time.Millisecond, elapsed)
	require.ErrorIs(t, err, chainverify.ErrNotFound)
}

func TestWaitForRecord_ProbeErrorIsLoggedAndRetried(t *testing.T) {
	v, mock := newMockVerifier(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))
	mock.ExpectRollback()

	found, _, err := v.WaitForRecord(context.Background(), time.Second, 2*time.Millisecond, 10*time.Millisecond,
		func(ctx context.Context, tx *sql.Tx) (bool, error) {
			row := tx.QueryRowContext(ctx, `SELECT 1`)
			var x int
			scanErr := row.Scan(&x)
			return scanErr == nil, scanErr
		})

	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyAlertInDB_ReturnsRecordOnMatch(t *testing.T) {
	v, mock := newMockVerifier(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT alert_id, source, alert_type, target, severity, created_at FROM alerts WHERE alert_id = \$1`).
		WithArgs("alert-1").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "source", "alert_type", "target", "severity", "created_at"}).
			AddRow("alert-1", "edr", "ransomware_behavior", "host-7", "critical", time.Now()))
	mock.ExpectRollback()

	rec, err := v.VerifyAlertInDB(context.Background(), "alert-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "alert-1", rec.AlertID)
	assert.Equal(t, "ransomware_behavior", rec.AlertType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyIncidentCreated_ReturnsRecordOnMatch(t *testing.T) {
	v, mock := newMockVerifier(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT timeline_id, incident_id, created_at FROM timeline_records WHERE incident_id = \$1`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"timeline_id", "incident_id", "created_at"}).
			AddRow("tl-1", "incident-1", time.Now()))
	mock.ExpectRollback()

	rec, err := v.VerifyIncidentCreated(context.Background(), "incident-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "incident-1", rec.IncidentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyEvidenceLogged_FiltersByIncidentWhenProvided(t *testing.T) {
	v, mock := newMockVerifier(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT evidence_id, incident_id, evidence_type, file_hash_sha256, collected_at, source_host FROM evidence_ledger WHERE file_hash_sha256 = \$1 AND incident_id = \$2`).
		WithArgs("deadbeef", "incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "incident_id", "evidence_type", "file_hash_sha256", "collected_at", "source_host"}).
			AddRow("ev-1", "incident-1", "memory_dump", "deadbeef", time.Now(), "host-7"))
	mock.ExpectRollback()

	rec, err := v.VerifyEvidenceLogged(context.Background(), "deadbeef", "incident-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ev-1", rec.EvidenceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyEvidenceLogged_OmitsIncidentFilterWhenEmpty(t *testing.T) {
	v, mock := newMockVerifier(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT evidence_id, incident_id, evidence_type, file_hash_sha256, collected_at, source_host FROM evidence_ledger WHERE file_hash_sha256 = \$1$`).
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "incident_id", "evidence_type", "file_hash_sha256", "collected_at", "source_host"}).
			AddRow("ev-1", "incident-1", "memory_dump", "deadbeef", time.Now(), "host-7"))
	mock.ExpectRollback()

	rec, err := v.VerifyEvidenceLogged(context.Background(), "deadbeef", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ev-1", rec.EvidenceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyChain_CompleteWhenAllThreeLinksExistAndEvidenceRequested(t *testing.T) {
	v, mock := newMockVerifier(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT alert_id, source, alert_type, target, severity, created_at FROM alerts WHERE alert_id = \$1`).
		WithArgs("alert-1").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "source", "alert_type", "target", "severity", "created_at"}).
			AddRow("alert-1", "edr", "ransomware_behavior", "host-7", "critical", time.Now()))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT timeline_id, incident_id, created_at FROM timeline_records WHERE incident_id = \$1`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"timeline_id", "incident_id", "created_at"}).
			AddRow("tl-1", "incident-1", time.Now()))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT evidence_id FROM evidence_ledger WHERE evidence_id = \$1`).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id"}).AddRow("ev-1"))
	mock.ExpectRollback()

	result := v.VerifyChain(context.Background(), "alert-1", "incident-1", "ev-1")
	assert.True(t, result.AlertExists)
	assert.True(t, result.IncidentExists)
	assert.True(t, result.EvidenceExists)
	assert.True(t, result.ChainComplete)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyChain_IncompleteWhenEvidenceMissingButRequested(t *testing.T) {
	v, mock := newMockVerifier(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT alert_id, source, alert_type, target, severity, created_at FROM alerts WHERE alert_id = \$1`).
		WithArgs("alert-1").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "source", "alert_type", "target", "severity", "created_at"}).
			AddRow("alert-1", "edr", "ransomware_behavior", "host-7", "critical", time.Now()))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT timeline_id, incident_id, created_at FROM timeline_records WHERE incident_id = \$1`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"timeline_id", "incident_id", "created_at"}).
			AddRow("tl-1", "incident-1", time.Now()))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT evidence_id FROM evidence_ledger WHERE evidence_id = \$1`).
		WithArgs("ev-missing").
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id"}))
	mock.ExpectRollback()

	result := v.VerifyChain(context.Background(), "alert-1", "incident-1", "ev-missing")
	assert.True(t, result.AlertExists)
	assert.True(t, result.IncidentExists)
	assert.False(t, result.EvidenceExists)
	assert.False(t, result.ChainComplete)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyChain_CompleteWithoutEvidenceWhenEvidenceIDOmitted(t *testing.T) {
	v, mock := newMockVerifier(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT alert_id, source, alert_type, target, severity, created_at FROM alerts WHERE alert_id = \$1`).
		WithArgs("alert-1").
		WillReturnRows(sqlmock.NewRows([]string{"alert_id", "source", "alert_type", "target", "severity", "created_at"}).
			AddRow("alert-1", "edr", "ransomware_behavior", "host-7", "critical", time.Now()))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT timeline_id, incident_id, created_at FROM timeline_records WHERE incident_id = \$1`).
		WithArgs("incident-1").
		WillReturnRows(sqlmock.NewRows([]string{"timeline_id", "incident_id", "created_at"}).
			AddRow("tl-1", "incident-1", time.Now()))
	mock.ExpectRollback()

	result := v.VerifyChain(context.Background(), "alert-1", "incident-1", "")
	assert.True(t, result.ChainComplete)
	assert.False(t, result.EvidenceExists)
	require.NoError(t, mock.ExpectationsWereMet())
}
