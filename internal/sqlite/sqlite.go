package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	_ "embed"
)

//go:embed schema.sql
var schemaDefinition string

const (
	// DateFormat is the storage format of calendar dates.
	DateFormat = time.DateOnly
	// TimestampFormat is the storage format of instants, always in UTC.
	TimestampFormat = "2006-01-02T15:04:05.000Z"
)

// Database holds a single-connection writer and a pool of readers against the same SQLite file.
type Database struct {
	ReadWrite *sql.DB
	ReadOnly  *sql.DB
	logger    *slog.Logger
}

// NewDatabase connects to the database at url and migrates it to the embedded schema.
//
// The url parameter is the path to the SQLite database file or ":memory:" for a private in-memory database.
// The optimizer goroutine lives as long as ctx.
func NewDatabase(ctx context.Context, url string, logger *slog.Logger) (*Database, error) {
	db, err := connect(url, logger)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err = db.ReadWrite.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping read-write database: %w", err), db.Close())
	}
	if err = db.migrateTo(ctx, schemaDefinition); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), db.Close())
	}
	go db.optimize(ctx)
	return db, nil
}

//nolint:gochecknoglobals // database/sql panics when a driver is registered twice.
var registerDriver sync.Once

const optimizedDriver = "sqlite3optimized"

func registerOptimizedDriver() {
	sql.Register(optimizedDriver, &sqlite3.SQLiteDriver{
		Extensions: nil,
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			pragmas := "PRAGMA temp_store = memory;" +
				"PRAGMA mmap_size = 30000000000;" +
				"PRAGMA cache_size = -16000;"
			if _, err := conn.Exec(pragmas, nil); err != nil {
				return fmt.Errorf("exec connection pragmas: %w", err)
			}
			return nil
		},
	})
}

// dataSourceName builds the DSN for url. Options prefixed with '_' are go-sqlite3 specific, see
// https://pkg.go.dev/github.com/mattn/go-sqlite3#SQLiteDriver.Open, the rest are SQLite URI parameters.
func dataSourceName(url string, readOnly bool, inMemory bool) string {
	options := []string{
		"_loc=auto",
		"_defer_foreign_keys=1",
		"_journal_mode=wal",
		"_busy_timeout=5000",
		"_synchronous=normal",
		"_foreign_keys=on",
	}
	switch {
	case inMemory:
		// Shared cache lets the reader pool see the writer's in-memory data.
		options = append(options, "mode=memory", "cache=shared")
	case readOnly:
		options = append(options, "mode=ro")
	default:
		options = append(options, "mode=rwc")
	}
	if readOnly {
		options = append(options, "_txlock=deferred", "_query_only=true")
	} else {
		options = append(options, "_txlock=immediate")
	}
	return fmt.Sprintf("file:%s?%s", url, strings.Join(options, "&"))
}

func connect(url string, logger *slog.Logger) (*Database, error) {
	inMemory := strings.Contains(url, ":memory:")
	if inMemory {
		// Every in-memory database gets its own name so that parallel tests do not share data.
		url = rand.Text()
	}

	registerDriver.Do(registerOptimizedDriver)

	readWrite, err := sql.Open(optimizedDriver, dataSourceName(url, false, inMemory))
	if err != nil {
		return nil, fmt.Errorf("open read-write database: %w", err)
	}
	// SQLite allows a single writer. One connection turns lock contention into queueing in database/sql.
	readWrite.SetMaxOpenConns(1)
	readWrite.SetMaxIdleConns(1)
	readWrite.SetConnMaxLifetime(time.Hour)
	readWrite.SetConnMaxIdleTime(time.Hour)

	readOnly, err := sql.Open(optimizedDriver, dataSourceName(url, true, inMemory))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open read-only database: %w", err), readWrite.Close())
	}
	const maxReaders = 8
	readOnly.SetMaxOpenConns(maxReaders)
	readOnly.SetMaxIdleConns(maxReaders)
	readOnly.SetConnMaxLifetime(time.Hour)
	readOnly.SetConnMaxIdleTime(time.Hour)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "opened database",
		slog.String("url", url), slog.Bool("in_memory", inMemory))

	return &Database{
		ReadWrite: readWrite,
		ReadOnly:  readOnly,
		logger:    logger,
	}, nil
}

// WithTx runs fn inside a write transaction, committing when fn returns nil and rolling back otherwise.
func (db *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.ReadWrite.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback transaction: %w", rollbackErr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// optimize runs PRAGMA optimize hourly. See https://www.sqlite.org/pragma.html#pragma_optimize.
func (db *Database) optimize(ctx context.Context) {
	pragma := "PRAGMA optimize = 0x10002;"
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		start := time.Now()
		if _, err := db.ReadWrite.ExecContext(ctx, pragma); err != nil {
			if ctx.Err() != nil {
				return
			}
			db.logger.LogAttrs(ctx, slog.LevelError, "optimize database", slog.Any("error", err))
		} else {
			db.logger.LogAttrs(ctx, slog.LevelDebug, "optimized database",
				slog.Duration("duration", time.Since(start)))
		}
		pragma = "PRAGMA optimize;"
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close closes both connection pools.
func (db *Database) Close() error {
	return errors.Join(db.ReadOnly.Close(), db.ReadWrite.Close())
}
