package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/pkg/log"
)

// TxnEvent identifies a transaction boundary.
type TxnEvent int

const (
	TxnCommit TxnEvent = iota
	TxnRollback
)

func (e TxnEvent) String() string {
	if e == TxnCommit {
		return "commit"
	}
	return "rollback"
}

// Sub-query bracketing status codes. Scripts never see the raw codes, only
// the formatted reason.
const (
	StatusOK               = 0
	StatusErrorConnect     = -1
	StatusErrorUnconnected = -2
	StatusErrorTransaction = -3
)

// FormatStatus translates a bracketing status code to a readable reason.
func FormatStatus(status int) string {
	if status >= 0 {
		return "OK"
	}

	switch status {
	case StatusErrorConnect:
		return "could not establish sub-query session"
	case StatusErrorUnconnected:
		return "sub-query session is not connected"
	case StatusErrorTransaction:
		return "current transaction is aborted, commands ignored until end of transaction block"
	default:
		return fmt.Sprintf("sub-query error: %d", status)
	}
}

// DB wraps the host database for one backend session. One DB serves one
// session at a time; the bridge is invoked re-entrantly but never
// concurrently on it.
type DB struct {
	mu sync.Mutex

	db      *sql.DB
	dialect string
	logger  *log.Logger

	// Current top-level transaction, if any.
	tx *sql.Tx

	// Sub-query session nesting depth (connect/finish bracketing).
	connectDepth int

	// Fired on every transaction boundary, commit and rollback alike.
	txnCallbacks []func(TxnEvent)

	closed bool
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path to database file. Use ":memory:" for an in-memory database.
	Path string

	JournalMode string // WAL, DELETE, TRUNCATE, PERSIST, MEMORY, OFF
	Synchronous string // OFF, NORMAL, FULL, EXTRA
	BusyTimeout int    // Milliseconds
}

// DefaultSQLiteConfig returns sensible defaults for SQLite.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:        ":memory:",
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
	}
}

// NewSQLiteDB opens a SQLite-backed host database.
func NewSQLiteDB(cfg SQLiteConfig, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.Default()
	}
	dsn := cfg.Path
	opts := []string{"_foreign_keys=ON"}

	if cfg.BusyTimeout > 0 {
		opts = append(opts, fmt.Sprintf("_busy_timeout=%d", cfg.BusyTimeout))
	}
	if cfg.JournalMode != "" {
		opts = append(opts, fmt.Sprintf("_journal_mode=%s", cfg.JournalMode))
	}
	if cfg.Synchronous != "" {
		opts = append(opts, fmt.Sprintf("_synchronous=%s", cfg.Synchronous))
	}
	dsn = dsn + "?" + strings.Join(opts, "&")

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeStorageConnect,
			"failed to open SQLite database").
			WithOp("NewSQLiteDB").
			WithField("path", cfg.Path).
			Err()
	}

	// One connection keeps temp tables and txn state coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, plverrors.Wrap(err, plverrors.ErrCodeStorageConnect,
			"failed to ping SQLite database").
			WithOp("NewSQLiteDB").
			Err()
	}

	logger.System().Debug("sqlite host database opened", "path", cfg.Path)

	return &DB{
		db:      db,
		dialect: "sqlite",
		logger:  logger,
	}, nil
}

// NewInMemoryDB opens an in-memory SQLite host database. Convenience for
// tests and the CLI default.
func NewInMemoryDB(logger *log.Logger) (*DB, error) {
	return NewSQLiteDB(DefaultSQLiteConfig(), logger)
}

// Dialect returns the backend dialect name ("sqlite" or "postgres").
func (d *DB) Dialect() string {
	return d.dialect
}

// Raw returns the underlying database handle.
func (d *DB) Raw() *sql.DB {
	return d.db
}

// Connect opens a sub-query session bracket and returns a status code.
func (d *DB) Connect() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return StatusErrorConnect
	}
	d.connectDepth++
	return StatusOK
}

// Finish closes the innermost sub-query session bracket.
func (d *DB) Finish() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connectDepth == 0 {
		return StatusErrorUnconnected
	}
	d.connectDepth--
	return StatusOK
}

// Connected reports whether at least one sub-query session bracket is open.
func (d *DB) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectDepth > 0
}

// OnTxnEnd registers a callback fired on every transaction boundary. The
// bridge uses this for execution environment teardown; callbacks must not
// themselves run queries.
func (d *DB) OnTxnEnd(fn func(TxnEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txnCallbacks = append(d.txnCallbacks, fn)
}

// InTxn reports whether a transaction is open.
func (d *DB) InTxn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tx != nil
}

// Begin starts the session transaction.
func (d *DB) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tx != nil {
		return plverrors.New(plverrors.ErrCodeStorageTxn,
			"transaction already in progress").
			WithOp("DB.Begin").
			Err()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return plverrors.Wrap(err, plverrors.ErrCodeStorageTxn,
			"failed to begin transaction").
			WithOp("DB.Begin").
			Err()
	}
	d.tx = tx
	return nil
}

// Commit commits the session transaction and fires boundary callbacks.
func (d *DB) Commit(ctx context.Context) error {
	return d.endTxn(TxnCommit)
}

// Rollback aborts the session transaction and fires boundary callbacks.
func (d *DB) Rollback(ctx context.Context) error {
	return d.endTxn(TxnRollback)
}

func (d *DB) endTxn(event TxnEvent) error {
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	callbacks := make([]func(TxnEvent), len(d.txnCallbacks))
	copy(callbacks, d.txnCallbacks)
	d.mu.Unlock()

	var err error
	if tx != nil {
		if event == TxnCommit {
			err = tx.Commit()
		} else {
			err = tx.Rollback()
		}
	}

	// Teardown is unconditional: it runs even when the commit/rollback
	// itself failed, and even when no transaction was open.
	for _, fn := range callbacks {
		fn(event)
	}

	d.logger.Execution().Debug("transaction boundary", "event", event.String())

	if err != nil {
		return plverrors.Wrapf(err, plverrors.ErrCodeStorageTxn,
			"transaction %s failed", event).
			WithOp("DB.endTxn").
			Err()
	}
	return nil
}

// Query runs a query inside the current transaction when one is open.
func (d *DB) Query(ctx context.Context, sqlStr string, args ...interface{}) (*ResultSet, error) {
	d.mu.Lock()
	tx := d.tx
	d.mu.Unlock()

	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, sqlStr, args...)
	} else {
		rows, err = d.db.QueryContext(ctx, sqlStr, args...)
	}
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeStorageQuery,
			"query failed").
			WithOp("DB.Query").
			WithField("sql", sqlStr).
			Err()
	}
	defer rows.Close()

	return scanResultSet(rows)
}

// Exec runs a statement inside the current transaction when one is open and
// returns the number of affected rows.
func (d *DB) Exec(ctx context.Context, sqlStr string, args ...interface{}) (int64, error) {
	d.mu.Lock()
	tx := d.tx
	d.mu.Unlock()

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, sqlStr, args...)
	} else {
		result, err = d.db.ExecContext(ctx, sqlStr, args...)
	}
	if err != nil {
		return 0, plverrors.Wrap(err, plverrors.ErrCodeStorageExec,
			"exec failed").
			WithOp("DB.Exec").
			WithField("sql", sqlStr).
			Err()
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Close closes the host database. Any open transaction is rolled back.
func (d *DB) Close() error {
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	d.closed = true
	d.mu.Unlock()

	if tx != nil {
		tx.Rollback()
	}
	return d.db.Close()
}

// scanResultSet scans rows into a ResultSet.
func scanResultSet(rows *sql.Rows) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{Columns: columns}

	for rows.Next() {
		values := make([]Datum, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		rs.Rows = append(rs.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rs, nil
}
