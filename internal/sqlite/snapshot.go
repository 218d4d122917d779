package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Snapshot writes a consistent copy of the database to path, which must not exist yet.
//
// The copy is a plain SQLite file that can be opened with NewDatabase, e.g. to debug a plan offline.
func (db *Database) Snapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot target %s: %w", path, os.ErrExist)
	}
	start := time.Now()
	if _, err := db.ReadWrite.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	db.logger.LogAttrs(ctx, slog.LevelInfo, "wrote database snapshot",
		slog.String("path", path), slog.Duration("duration", time.Since(start)))
	return nil
}
