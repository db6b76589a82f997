package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/logger"
)

// DB wraps sqlx.DB with transaction scoping and per-transaction timeouts
type DB struct {
	*sqlx.DB
	logger           *logger.Logger
	lockTimeout      time.Duration
	statementTimeout time.Duration
}

// Querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
// Repositories run every statement through Conn(ctx) so they join the
// surrounding transaction when there is one.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type txKey struct{}

// New creates a new database connection
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &DB{
		DB:               db,
		logger:           log,
		lockTimeout:      cfg.LockTimeout,
		statementTimeout: cfg.StatementTimeout,
	}, nil
}

// NewWithDSN creates a new database connection with a DSN string and no timeouts
func NewWithDSN(dsn string, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return Wrap(db, log), nil
}

// Wrap adopts an existing sqlx handle, e.g. one backed by sqlmock.
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	if log == nil {
		log = logger.NewNop()
	}
	return &DB{DB: db, logger: log}
}

// SetTimeouts sets the lock and statement timeouts applied to every WithTx.
func (db *DB) SetTimeouts(lock, statement time.Duration) {
	db.lockTimeout = lock
	db.statementTimeout = statement
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Conn returns the transaction stored in ctx, or the pool when there is none.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// TxFromContext returns the transaction opened by WithTx, if any.
func TxFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

// WithTx runs fn inside a single transaction. The transaction travels in the
// context handed to fn; a nested WithTx joins it. Any error rolls back every
// statement fn issued. Lock timeouts, deadlocks and serialization failures
// come back as a TRANSACTION_FAILED AppError.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := db.applyTimeouts(ctx, tx); err != nil {
		db.rollback(tx)
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		db.rollback(tx)
		return translate(err)
	}

	if err := tx.Commit(); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func (db *DB) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		db.logger.Error().Err(err).Msg("failed to rollback transaction")
	}
}

// SET LOCAL takes no bind parameters; the values are formatted integers.
func (db *DB) applyTimeouts(ctx context.Context, tx *sqlx.Tx) error {
	if db.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set lock_timeout: %w", err)
		}
	}
	if db.statementTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", db.statementTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set statement_timeout: %w", err)
		}
	}
	return nil
}
