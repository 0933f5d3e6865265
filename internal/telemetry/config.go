package telemetry

import "codeberg.org/mutker/harvester/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/harvester/journal.db"
	defaultBatchSize    = 50
	defaultBatchTimeout = 5
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize records are buffered before a flush; 0 writes every record
	// immediately.
	BatchSize int
	// BatchTimeout is the flush period in seconds.
	BatchTimeout int
	// BackupDir receives a copy of the database before an incompatible
	// schema is replaced. Empty disables backups.
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "journal batch settings must not be negative")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
