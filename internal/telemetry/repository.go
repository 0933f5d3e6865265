package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository stores delivery records in sqlite, buffering them into
// batched transactions.
type SQLiteRepository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*DeliveryRecord
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

// NewRepository opens the sqlite journal at cfg.DBPath, migrating the
// schema when needed, and starts the batch flusher.
func NewRepository(cfg Config, log logger.Logger) (*SQLiteRepository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Delivery journal initialized")

	repo := &SQLiteRepository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*DeliveryRecord, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 0 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *SQLiteRepository) Record(rec *DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, rec)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Flush writes buffered records now.
func (r *SQLiteRepository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.flush()
}

// Deliveries returns the stored records for endpoint, oldest first. An
// empty endpoint returns all records.
func (r *SQLiteRepository) Deliveries(ctx context.Context, endpoint string) ([]DeliveryRecord, error) {
	query := `
        SELECT timestamp, endpoint, method, bytes, status,
               sent, retry, delay_ms, unload, duration_ms, COALESCE(error, '')
        FROM deliveries
        WHERE ? = '' OR endpoint = ?
        ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, endpoint, endpoint)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			rec                     DeliveryRecord
			ts, delayMs, durationMs int64
			sent, retry, unload     int
		)
		if err := rows.Scan(&ts, &rec.Endpoint, &rec.Method, &rec.Bytes, &rec.Status,
			&sent, &retry, &delayMs, &unload, &durationMs, &rec.Error); err != nil {
			return nil, errors.New().Wrap(ErrStorageAccess, err)
		}
		rec.Timestamp = time.UnixMilli(ts)
		rec.Sent = sent == 1
		rec.Retry = retry == 1
		rec.Unload = unload == 1
		rec.Delay = time.Duration(delayMs) * time.Millisecond
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *SQLiteRepository) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}
		<-r.flushDoneChan

		r.mu.Lock()
		if err := r.flush(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to flush journal on close")
		}
		r.mu.Unlock()

		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
			r.db.Close()
			return
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().Wrap(ErrStorageClose, err)
			return
		}

		r.logger.Info().Msg("Delivery journal closed")
	})

	return closeErr
}

func (r *SQLiteRepository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic journal flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. Caller holds r.mu.
func (r *SQLiteRepository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertDeliverySQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range r.buffer {
		var recErr any
		if rec.Error != "" {
			recErr = rec.Error
		}

		if _, err := stmt.Exec(
			rec.Timestamp.UnixMilli(),
			rec.Endpoint,
			rec.Method,
			int64(rec.Bytes),
			int64(rec.Status),
			boolToInt(rec.Sent),
			boolToInt(rec.Retry),
			rec.Delay.Milliseconds(),
			boolToInt(rec.Unload),
			rec.Duration.Milliseconds(),
			recErr,
		); err != nil {
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed deliveries to journal")
	r.buffer = r.buffer[:0]

	return nil
}
