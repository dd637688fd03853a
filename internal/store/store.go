// Package store archives timeline events and preview clips in SQL so the
// engine can backfill after a restart and answer range queries beyond the
// live window. SQLite (modernc) and PostgreSQL (lib/pq) are supported.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS timeline (
	camera     TEXT NOT NULL,
	ts         DOUBLE PRECISION NOT NULL,
	source_id  TEXT NOT NULL,
	class_type TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	data       TEXT,
	PRIMARY KEY (camera, ts, source_id, class_type)
);
CREATE INDEX IF NOT EXISTS timeline_ts_idx ON timeline (ts);
CREATE INDEX IF NOT EXISTS timeline_source_id_idx ON timeline (source_id);
CREATE TABLE IF NOT EXISTS previews (
	camera   TEXT NOT NULL,
	src      TEXT NOT NULL,
	type     TEXT NOT NULL DEFAULT '',
	start_ts DOUBLE PRECISION NOT NULL,
	end_ts   DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (camera, src)
);
CREATE INDEX IF NOT EXISTS previews_range_idx ON previews (camera, start_ts, end_ts);
`

// Store is the SQL event archive.
type Store struct {
	db     *sql.DB
	driver string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open connects to the archive and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer connection; WAL lets readers proceed alongside it.
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

// SaveEvents archives events, ignoring ones already stored under the same
// (camera, timestamp, source_id, class_type). It returns how many rows were
// new.
func (s *Store) SaveEvents(ctx context.Context, events []event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	var inserted int
	err := retryOnBusy(ctx, func() error {
		inserted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		stmt, err := tx.PrepareContext(ctx, s.rebind(
			`INSERT INTO timeline (camera, ts, source_id, class_type, source, data)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {
			data, err := json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("encode payload for %s/%s: %w", e.Camera, e.SourceID, err)
			}
			res, err := stmt.ExecContext(ctx, e.Camera, e.Timestamp, e.SourceID, e.ClassType, e.Source, string(data))
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return tx.Commit()
	})
	return inserted, err
}

// Events returns archived events matching q in chronological order.
func (s *Store) Events(ctx context.Context, q event.Query) ([]event.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, q.SourceID)
	}
	if len(q.Cameras) > 0 {
		where = append(where, "camera IN ("+strings.TrimSuffix(strings.Repeat("?,", len(q.Cameras)), ",")+")")
		for _, c := range q.Cameras {
			args = append(args, c)
		}
	}
	if q.After > 0 {
		where = append(where, "ts >= ?")
		args = append(args, q.After)
	}
	if q.Before > 0 {
		where = append(where, "ts < ?")
		args = append(args, q.Before)
	}

	query := "SELECT camera, ts, source_id, class_type, source, data FROM timeline"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts, source_id, class_type, camera"
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			e    event.Event
			data sql.NullString
		)
		if err := rows.Scan(&e.Camera, &e.Timestamp, &e.SourceID, &e.ClassType, &e.Source, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data.Valid {
			e.Data = event.DefaultRegistry.Decode(e.ClassType, json.RawMessage(data.String))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SavePreviews upserts preview clips keyed by (camera, src).
func (s *Store) SavePreviews(ctx context.Context, previews []event.Preview) error {
	if len(previews) == 0 {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		stmt, err := tx.PrepareContext(ctx, s.rebind(
			`INSERT INTO previews (camera, src, type, start_ts, end_ts) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (camera, src) DO UPDATE SET type = excluded.type, start_ts = excluded.start_ts, end_ts = excluded.end_ts`))
		if err != nil {
			return fmt.Errorf("prepare preview upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range previews {
			if _, err := stmt.ExecContext(ctx, p.Camera, p.Src, p.Type, p.Start, p.End); err != nil {
				return fmt.Errorf("upsert preview %s: %w", p.Src, err)
			}
		}
		return tx.Commit()
	})
}

// Previews returns clips overlapping [after, before) on camera (all cameras
// when empty), ordered by camera then start. Zero bounds are open.
func (s *Store) Previews(ctx context.Context, camera string, after, before float64) ([]event.Preview, error) {
	var (
		where []string
		args  []any
	)
	if camera != "" {
		where = append(where, "camera = ?")
		args = append(args, camera)
	}
	if after > 0 {
		where = append(where, "end_ts >= ?")
		args = append(args, after)
	}
	if before > 0 {
		where = append(where, "start_ts < ?")
		args = append(args, before)
	}
	query := "SELECT camera, src, type, start_ts, end_ts FROM previews"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY camera, start_ts, end_ts, src"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query previews: %w", err)
	}
	defer rows.Close()

	var out []event.Preview
	for rows.Next() {
		var p event.Preview
		if err := rows.Scan(&p.Camera, &p.Src, &p.Type, &p.Start, &p.End); err != nil {
			return nil, fmt.Errorf("scan preview: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
