package storage

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/pkg/log"
)

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	// DSN in keyword/value or URL form, passed through to pgx.
	DSN string

	MaxOpenConns int
	MaxIdleConns int
}

// NewPostgresDB opens a PostgreSQL-backed host database through pgx's
// database/sql driver.
func NewPostgresDB(cfg PostgresConfig, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeStorageConnect,
			"failed to open PostgreSQL database").
			WithOp("NewPostgresDB").
			Err()
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, plverrors.Wrap(err, plverrors.ErrCodeStorageConnect,
			"failed to ping PostgreSQL database").
			WithOp("NewPostgresDB").
			Err()
	}

	logger.System().Debug("postgres host database opened")

	return &DB{
		db:      db,
		dialect: "postgres",
		logger:  logger,
	}, nil
}
