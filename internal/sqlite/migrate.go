package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// migrateTo makes the live schema equal to schema without losing data in the tables both have in common.
//
// The target schema is created in an attached in-memory database and diffed against the live one through
// sqlite_schema. Changed tables are rebuilt with the generalized ALTER TABLE procedure described in
// https://www.sqlite.org/lang_altertable.html#otheralter while triggers and indexes are dropped and recreated.
func (db *Database) migrateTo(ctx context.Context, schema string) (err error) {
	start := time.Now()

	detach, err := db.attachTarget(ctx, schema)
	if err != nil {
		return fmt.Errorf("attach target schema: %w", err)
	}
	defer detach()

	// Foreign keys can only be toggled outside a transaction.
	if _, err = db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer func() {
		if _, fkErr := db.ReadWrite.ExecContext(ctx, "PRAGMA foreign_keys = ON"); fkErr != nil {
			err = errors.Join(err, fmt.Errorf("enable foreign keys: %w", fkErr))
		}
	}()

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, typ := range []string{"table", "trigger", "index"} {
			if migrateErr := db.migrateObjects(ctx, tx, typ); migrateErr != nil {
				return fmt.Errorf("migrate %ss: %w", typ, migrateErr)
			}
		}
		return checkForeignKeys(ctx, tx)
	})
	if err != nil {
		return err
	}

	db.logger.LogAttrs(ctx, slog.LevelDebug, "migrated database", slog.Duration("duration", time.Since(start)))
	return nil
}

func (db *Database) attachTarget(ctx context.Context, schema string) (func(), error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", rand.Text())
	target, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	// The shared cache keeps the database alive while the attachment holds it.
	defer func() {
		if closeErr := target.Close(); closeErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelWarn, "close target schema database", slog.Any("error", closeErr))
		}
	}()
	if _, err = target.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create target schema: %w", err)
	}
	if _, err = db.ReadWrite.ExecContext(ctx, "ATTACH DATABASE ? AS schemaTarget", dsn); err != nil {
		return nil, fmt.Errorf("attach: %w", err)
	}
	return func() {
		if _, detachErr := db.ReadWrite.ExecContext(ctx, "DETACH DATABASE schemaTarget"); detachErr != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "detach target schema database", slog.Any("error", detachErr))
		}
	}, nil
}

// schemaDiff is one object that differs between the live and target schema. An empty liveSQL means the object
// is new, an empty targetSQL means it was removed.
type schemaDiff struct {
	name      string
	liveSQL   string
	targetSQL string
}

func queryDiffs(ctx context.Context, tx *sql.Tx, typ string) (_ []schemaDiff, err error) {
	// Renaming a table quotes its name in sqlite_schema so quotes are ignored in the comparison.
	rows, err := tx.QueryContext(ctx, `
		SELECT COALESCE(live.name, target.name), COALESCE(live.sql, ''), COALESCE(target.sql, '')
		FROM main.sqlite_schema AS live
		FULL OUTER JOIN schemaTarget.sqlite_schema AS target ON live.name = target.name AND live.type = target.type
		WHERE COALESCE(live.type, target.type) = ?
		  AND COALESCE(live.name, target.name) NOT LIKE 'sqlite%'
		  AND COALESCE(live.sql, target.sql) IS NOT NULL
		  AND (live.sql IS NULL OR target.sql IS NULL OR REPLACE(live.sql, '"', '') <> REPLACE(target.sql, '"', ''))
		ORDER BY 1`, typ)
	if err != nil {
		return nil, fmt.Errorf("query schema diff: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	var diffs []schemaDiff
	for rows.Next() {
		var d schemaDiff
		if err = rows.Scan(&d.name, &d.liveSQL, &d.targetSQL); err != nil {
			return nil, fmt.Errorf("scan schema diff: %w", err)
		}
		diffs = append(diffs, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema diff: %w", err)
	}
	return diffs, nil
}

func (db *Database) migrateObjects(ctx context.Context, tx *sql.Tx, typ string) error {
	diffs, err := queryDiffs(ctx, tx, typ)
	if err != nil {
		return err
	}
	for _, d := range diffs {
		var statements []string
		switch {
		case d.liveSQL == "":
			statements = []string{d.targetSQL}
		case d.targetSQL == "":
			statements = []string{fmt.Sprintf("DROP %s %s", strings.ToUpper(typ), d.name)}
		case typ == "table":
			if statements, err = rebuildTable(ctx, tx, d); err != nil {
				return err
			}
		default:
			statements = []string{fmt.Sprintf("DROP %s %s", strings.ToUpper(typ), d.name), d.targetSQL}
		}
		for _, stmt := range statements {
			db.logger.LogAttrs(ctx, slog.LevelInfo, "migrating schema",
				slog.String("type", typ), slog.String("name", d.name), slog.String("statement", stmt))
			if _, err = tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", stmt, err)
			}
		}
	}
	return nil
}

// rebuildTable returns the statements that create the new table under a temporary name, copy the shared
// columns, drop the old table and move the new one in place.
func rebuildTable(ctx context.Context, tx *sql.Tx, d schemaDiff) (_ []string, err error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT '"' || target.name || '"'
		FROM pragma_table_info(:name) AS live
		JOIN pragma_table_info(:name, 'schemaTarget') AS target ON target.name = live.name`,
		sql.Named("name", d.name))
	if err != nil {
		return nil, fmt.Errorf("query common columns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	var columns []string
	for rows.Next() {
		var column string
		if err = rows.Scan(&column); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, column)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	temp := d.name + "_migration_temp"
	statements := []string{strings.Replace(d.targetSQL, d.name, temp, 1)}
	if len(columns) > 0 {
		common := strings.Join(columns, ", ")
		statements = append(statements,
			fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", temp, common, common, d.name))
	}
	return append(statements,
		fmt.Sprintf("DROP TABLE %s", d.name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", temp, d.name),
	), nil
}

func checkForeignKeys(ctx context.Context, tx *sql.Tx) (err error) {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close rows: %w", closeErr))
		}
	}()
	if rows.Next() {
		var (
			table, parent string
			rowID         sql.NullInt64
			fkID          int
		)
		if err = rows.Scan(&table, &rowID, &parent, &fkID); err != nil {
			return fmt.Errorf("scan foreign key violation: %w", err)
		}
		return fmt.Errorf("foreign key violation in %s referencing %s", table, parent)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign key check: %w", err)
	}
	return nil
}
