package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoExport is returned by LastExport when the instance was never
// exported to this database.
var ErrNoExport = errors.New("store: no previous export")

// Store is a SQLite export database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ExportBatch is one unit of data written by Export.
type ExportBatch struct {
	InstanceID string
	Apps       []App
	Records    []Record
	// Cursor is the record log position after the last record in Records.
	Cursor uint64
}

// Export writes the batch in a single transaction. Apps are upserted by id;
// records already present (same app and focus time) are skipped. The run is
// recorded so the next export can resume from its cursor.
func (s *Store) Export(ctx context.Context, b ExportBatch) (ExportRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ExportRun{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	appStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO apps (app_id, path) VALUES (?, ?)
		ON CONFLICT(app_id) DO UPDATE SET path = excluded.path`)
	if err != nil {
		return ExportRun{}, fmt.Errorf("prepare app statement: %w", err)
	}
	defer appStmt.Close()

	for _, a := range b.Apps {
		if _, err := appStmt.ExecContext(ctx, a.ID, a.Path); err != nil {
			return ExportRun{}, fmt.Errorf("insert app %d: %w", a.ID, err)
		}
	}

	recStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO focus_records (app_id, focus_at, blur_at) VALUES (?, ?, ?)`)
	if err != nil {
		return ExportRun{}, fmt.Errorf("prepare record statement: %w", err)
	}
	defer recStmt.Close()

	run := ExportRun{
		InstanceID: b.InstanceID,
		ExportedAt: time.Now().UTC(),
		Cursor:     b.Cursor,
		Apps:       len(b.Apps),
	}
	for _, r := range b.Records {
		res, err := recStmt.ExecContext(ctx, r.AppID, r.FocusAt, r.BlurAt)
		if err != nil {
			return ExportRun{}, fmt.Errorf("insert record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ExportRun{}, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			run.Skipped++
		} else {
			run.Inserted++
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO export_runs (instance_id, exported_at, cursor, apps, inserted, skipped)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.InstanceID, run.ExportedAt.UnixNano(), int64(run.Cursor), run.Apps, run.Inserted, run.Skipped,
	)
	if err != nil {
		return ExportRun{}, fmt.Errorf("record export run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return ExportRun{}, fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ExportRun{}, fmt.Errorf("commit export: %w", err)
	}
	return run, nil
}

// LastExport returns the most recent export run of instanceID.
func (s *Store) LastExport(ctx context.Context, instanceID string) (ExportRun, error) {
	var (
		run        ExportRun
		exportedAt int64
		cursor     int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, exported_at, cursor, apps, inserted, skipped
		FROM export_runs WHERE instance_id = ? ORDER BY id DESC LIMIT 1`, instanceID,
	).Scan(&run.ID, &run.InstanceID, &exportedAt, &cursor, &run.Apps, &run.Inserted, &run.Skipped)
	if err == sql.ErrNoRows {
		return ExportRun{}, ErrNoExport
	}
	if err != nil {
		return ExportRun{}, fmt.Errorf("query last export: %w", err)
	}
	run.ExportedAt = time.Unix(0, exportedAt).UTC()
	run.Cursor = uint64(cursor)
	return run, nil
}

// Apps returns every exported application ordered by id.
func (s *Store) Apps(ctx context.Context) ([]App, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT app_id, path FROM apps ORDER BY app_id`)
	if err != nil {
		return nil, fmt.Errorf("query apps: %w", err)
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		var a App
		if err := rows.Scan(&a.ID, &a.Path); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// Records returns the exported records with focus time in [start, end),
// ordered by focus time.
func (s *Store) Records(ctx context.Context, start, end int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, focus_at, blur_at FROM focus_records
		WHERE focus_at >= ? AND focus_at < ?
		ORDER BY focus_at, app_id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.AppID, &r.FocusAt, &r.BlurAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRecords returns the number of exported records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM focus_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// AppTotals sums focus time per application for records whose focus time
// falls in [start, end), largest first.
func (s *Store) AppTotals(ctx context.Context, start, end int64) ([]AppTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.app_id, a.path, SUM(r.blur_at - r.focus_at) AS millis
		FROM focus_records r JOIN apps a ON a.app_id = r.app_id
		WHERE r.focus_at >= ? AND r.focus_at < ?
		GROUP BY r.app_id, a.path
		ORDER BY millis DESC, r.app_id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query app totals: %w", err)
	}
	defer rows.Close()

	var out []AppTotal
	for rows.Next() {
		var t AppTotal
		if err := rows.Scan(&t.AppID, &t.Path, &t.Millis); err != nil {
			return nil, fmt.Errorf("scan app total: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DailyTotals returns focus time per UTC day from the daily_totals view.
func (s *Store) DailyTotals(ctx context.Context) ([]DailyTotal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT day, millis FROM daily_totals ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("query daily totals: %w", err)
	}
	defer rows.Close()

	var out []DailyTotal
	for rows.Next() {
		var d DailyTotal
		if err := rows.Scan(&d.Day, &d.Millis); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
