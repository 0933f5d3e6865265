package telemetry

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(endpoint string) *DeliveryRecord {
	return &DeliveryRecord{
		Timestamp: time.UnixMilli(1_700_000_000_000),
		Endpoint:  endpoint,
		Method:    "xhr",
		Bytes:     120,
		Status:    429,
		Sent:      true,
		Retry:     true,
		Delay:     time.Minute,
		Duration:  35 * time.Millisecond,
	}
}

func TestNewJournalDisabled(t *testing.T) {
	j, err := NewJournal(Config{}, logger.Nop())
	require.NoError(t, err)

	assert.IsType(t, noopJournal{}, j)
	assert.NoError(t, j.Record(context.Background(), testRecord("ins")))
	assert.NoError(t, j.Close())
}

func TestNewJournalInvalidConfig(t *testing.T) {
	_, err := NewJournal(Config{Enabled: true}, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrInvalidDBPath))
}

func TestRepositoryBatchesAndReadsBack(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")
	repo, err := NewRepository(Config{DBPath: dbPath, BatchSize: 2}, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	require.NoError(t, repo.Record(testRecord("ins")))

	got, err := repo.Deliveries(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got, "first record stays buffered")

	require.NoError(t, repo.Record(testRecord("jserrors")))
	got, err = repo.Deliveries(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, *testRecord("ins"), got[0])

	got, err = repo.Deliveries(ctx, "jserrors")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "jserrors", got[0].Endpoint)
}

func TestRepositoryCloseFlushes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	repo, err := NewRepository(Config{DBPath: dbPath, BatchSize: 10, BatchTimeout: 60}, logger.Nop())
	require.NoError(t, err)

	rec := testRecord("events")
	rec.Error = "connection refused"
	require.NoError(t, repo.Record(rec))
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close(), "close is idempotent")

	reopened, err := NewRepository(Config{DBPath: dbPath}, logger.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Deliveries(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "connection refused", got[0].Error)
}

func TestSchemaMismatchIsReplaced(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
        CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
        INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	backupDir := filepath.Join(dir, "backups")
	repo, err := NewRepository(Config{DBPath: dbPath, BackupDir: backupDir}, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	version, err := GetSchemaVersion(repo.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	backups, err := filepath.Glob(filepath.Join(backupDir, "journal_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestServiceRecordValidates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewJournal(Config{Enabled: true, DBPath: dbPath}, logger.Nop())
	require.NoError(t, err)
	defer j.Close()

	err = j.Record(context.Background(), &DeliveryRecord{})
	assert.True(t, errors.HasCode(err, ErrInvalidRecord))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = j.Record(ctx, testRecord("ins"))
	assert.True(t, errors.HasCode(err, ErrOperationTimeout))

	assert.NoError(t, j.Record(context.Background(), testRecord("ins")))
}
