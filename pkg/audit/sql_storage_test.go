package audit

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStorage(t *testing.T) (*SQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audit_entries_event").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audit_entries_user").WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := NewSQLStorage(context.Background(), db)
	require.NoError(t, err)
	return s, mock
}

func TestSQLStorageAppend(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WithArgs("id-1", int64(1), int64(1700000000000), "auth_success", "info", "ok",
			nil, nil, nil, ZeroHash, "hash-1", "sig-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Append(context.Background(), &Entry{
		ID: "id-1", Sequence: 1, Timestamp: 1700000000000,
		Event: "auth_success", Level: LevelInfo, Message: "ok",
		PreviousHash: ZeroHash, Hash: "hash-1", Signature: "sig-1",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorageLatestEmpty(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery("SELECT id, sequence, timestamp").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sequence", "timestamp", "event", "level", "message", "user_id", "correlation_id", "metadata", "previous_hash", "hash", "signature"}))

	latest, err := s.Latest(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLStorageLatest(t *testing.T) {
	s, mock := newMockStorage(t)

	rows := sqlmock.NewRows([]string{"id", "sequence", "timestamp", "event", "level", "message", "user_id", "correlation_id", "metadata", "previous_hash", "hash", "signature"}).
		AddRow("id-9", 9, 1700000000000, "task_submitted", "info", "queued", "admin", nil, `{"taskId":"t1"}`, "prev-hash", "hash-9", "sig-9")
	mock.ExpectQuery("SELECT id, sequence, timestamp").WillReturnRows(rows)

	latest, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(9), latest.Sequence)
	assert.Equal(t, "admin", latest.UserID)
	assert.Equal(t, "t1", latest.Metadata["taskId"])
}

func TestSQLStorageQueryBuildsConditions(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("level = $1 AND event = $2")).
		WithArgs("warn", "permission_denied", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sequence", "timestamp", "event", "level", "message", "user_id", "correlation_id", "metadata", "previous_hash", "hash", "signature"}).
			AddRow("id-2", 2, 1700000001000, "permission_denied", "warn", "denied", nil, nil, nil, "h1", "h2", "s2"))

	got, err := s.Query(context.Background(), Filter{Level: LevelWarn, Event: "permission_denied", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, LevelWarn, got[0].Level)
}
