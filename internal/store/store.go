// Package store provides the durable local database for the sync engine.
//
// The store is an embedded SQLite database (WAL mode) holding one table per
// domain entity plus the sync management tables: the change journal, the
// per-table sync cursors, and the conflict log.
//
// There are two write paths:
//
//   - Application writes (Upsert, SoftDelete) bump the record's sync_version,
//     stamp updated_at, clear the synced flag, and append a change journal
//     entry in the same transaction. If the journal append fails the data
//     mutation rolls back, so a record and its journal entry always exist
//     together or not at all.
//   - Remote applies (ApplyRemote) adopt the remote envelope verbatim and
//     mark the row synced. They never journal, since they describe state the
//     remote already has.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shelfwise/shelfsync/internal/schema"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a record does not exist in the local store.
var ErrNotFound = errors.New("record not found")

// DefaultMaxJournalRetries is how many push failures a journal entry may
// accumulate before it is flagged for manual attention.
const DefaultMaxJournalRetries = 5

// Store wraps the embedded SQLite database.
type Store struct {
	conn *sql.DB
	path string

	maxRetries int
	now        func() time.Time
}

// Open creates or opens the database at path and applies pending migrations.
//
// The database runs in WAL mode with a busy timeout and foreign keys
// enabled. The caller must Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:       conn,
		path:       path,
		maxRetries: DefaultMaxJournalRetries,
		now:        time.Now,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(s.conn); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// SetMaxJournalRetries overrides the retry budget for journal entries.
func (s *Store) SetMaxJournalRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

// Get retrieves one record by id. Returns ErrNotFound if no row exists
// (soft-deleted rows are still returned; callers check the Deleted flag).
func (s *Store) Get(ctx context.Context, table, id string) (schema.Record, error) {
	t, err := schema.Lookup(table)
	if err != nil {
		return schema.Record{}, err
	}

	query := "SELECT " + selectList(t) + " FROM " + t.Name + " WHERE id = ?"
	row := s.conn.QueryRowContext(ctx, query, id)

	rec, err := scanRecord(t, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Record{}, ErrNotFound
	}
	if err != nil {
		return schema.Record{}, fmt.Errorf("failed to get %s/%s: %w", table, id, err)
	}
	return rec, nil
}

// List returns every live record of a table, oldest first. Soft-deleted
// rows are excluded; sync code that needs them reads by id or via
// QueryUnsynced.
func (s *Store) List(ctx context.Context, table string) ([]schema.Record, error) {
	t, err := schema.Lookup(table)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + selectList(t) + " FROM " + t.Name +
		" WHERE deleted = 0 ORDER BY created_at ASC"
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var records []schema.Record
	for rows.Next() {
		rec, err := scanRecord(t, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", table, err)
	}
	return records, nil
}

// Upsert inserts or replaces a record through the application write path.
//
// A missing id is generated (offline-created records get local UUIDs). The
// sync_version is bumped, updated_at stamped, synced cleared, and a journal
// entry appended in the same transaction. The mutated record is returned.
func (s *Store) Upsert(ctx context.Context, rec schema.Record) (schema.Record, error) {
	t, err := schema.Lookup(rec.Table())
	if err != nil {
		return schema.Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := rec.Validate(); err != nil {
		return schema.Record{}, fmt.Errorf("invalid %s record: %w", t.Name, err)
	}

	now := s.now().UTC()
	op := schema.OpUpdate

	existing, err := s.Get(ctx, t.Name, rec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		op = schema.OpInsert
		rec.SyncVersion = 1
		rec.CreatedAt = now
	case err != nil:
		return schema.Record{}, err
	default:
		rec.SyncVersion = existing.SyncVersion + 1
		rec.CreatedAt = existing.CreatedAt
	}
	rec.UpdatedAt = now
	rec.Synced = false

	if err := s.writeWithJournal(ctx, t, rec, op); err != nil {
		return schema.Record{}, err
	}
	return rec, nil
}

// SoftDelete marks a record deleted without removing the row, bumping its
// version and journaling a delete operation. Returns ErrNotFound if the
// record does not exist.
func (s *Store) SoftDelete(ctx context.Context, table, id string) error {
	t, err := schema.Lookup(table)
	if err != nil {
		return err
	}

	rec, err := s.Get(ctx, table, id)
	if err != nil {
		return err
	}

	rec.Deleted = true
	rec.Synced = false
	rec.SyncVersion++
	rec.UpdatedAt = s.now().UTC()

	return s.writeWithJournal(ctx, t, rec, schema.OpDelete)
}

// ApplyRemote writes a record pulled from the remote store, adopting its
// envelope verbatim and marking the row synced. No journal entry is
// appended.
func (s *Store) ApplyRemote(ctx context.Context, rec schema.Record) error {
	t, err := schema.Lookup(rec.Table())
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid remote %s record: %w", t.Name, err)
	}
	rec.Synced = true

	if _, err := s.conn.ExecContext(ctx, upsertSQL(t), upsertArgs(t, rec)...); err != nil {
		return fmt.Errorf("failed to apply remote %s/%s: %w", t.Name, rec.ID, err)
	}
	return nil
}

// QueryUnsynced returns records not yet accepted by the remote, oldest
// first so causal order is preserved on push.
func (s *Store) QueryUnsynced(ctx context.Context, table string) ([]schema.Record, error) {
	t, err := schema.Lookup(table)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + selectList(t) + " FROM " + t.Name +
		" WHERE synced = 0 ORDER BY created_at ASC"
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced %s: %w", table, err)
	}
	defer rows.Close()

	var records []schema.Record
	for rows.Next() {
		rec, err := scanRecord(t, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s records: %w", table, err)
	}
	return records, nil
}

// MarkRecordSynced sets the synced flag, but only if the row still carries
// the pushed version; a newer local mutation keeps the row unsynced.
func (s *Store) MarkRecordSynced(ctx context.Context, table, id string, version int64) error {
	t, err := schema.Lookup(table)
	if err != nil {
		return err
	}
	query := "UPDATE " + t.Name + " SET synced = 1 WHERE id = ? AND sync_version = ?"
	if _, err := s.conn.ExecContext(ctx, query, id, version); err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", table, id, err)
	}
	return nil
}

// CountRecords returns total and synced row counts for a table.
func (s *Store) CountRecords(ctx context.Context, table string) (total, synced int64, err error) {
	t, err := schema.Lookup(table)
	if err != nil {
		return 0, 0, err
	}
	query := "SELECT COUNT(*), COALESCE(SUM(synced), 0) FROM " + t.Name
	if err := s.conn.QueryRowContext(ctx, query).Scan(&total, &synced); err != nil {
		return 0, 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return total, synced, nil
}

// writeWithJournal writes a record and its journal entry in one
// transaction. Either both land or neither does.
func (s *Store) writeWithJournal(ctx context.Context, t schema.Table, rec schema.Record, op schema.Operation) error {
	payload, err := schema.EncodeRecord(rec)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertSQL(t), upsertArgs(t, rec)...); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", t.Name, rec.ID, err)
	}
	if err := s.appendJournalTx(ctx, tx, t.Name, rec.ID, op, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s/%s: %w", t.Name, rec.ID, err)
	}
	return nil
}

// selectList builds the column list for a table: id, business columns,
// envelope columns.
func selectList(t schema.Table) string {
	return "id, " + strings.Join(t.Columns, ", ") +
		", synced, sync_version, deleted, created_at, updated_at"
}

// upsertSQL builds an INSERT ... ON CONFLICT(id) DO UPDATE statement
// covering all business and envelope columns.
func upsertSQL(t schema.Table) string {
	cols := selectList(t)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)+6), ", ")

	var sets []string
	for _, c := range t.Columns {
		sets = append(sets, c+" = excluded."+c)
	}
	for _, c := range []string{"synced", "sync_version", "deleted", "created_at", "updated_at"} {
		sets = append(sets, c+" = excluded."+c)
	}

	return "INSERT INTO " + t.Name + " (" + cols + ") VALUES (" + placeholders + ")" +
		" ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
}

func upsertArgs(t schema.Table, rec schema.Record) []any {
	args := make([]any, 0, len(t.Columns)+6)
	args = append(args, rec.ID)
	args = append(args, rec.Fields.Values()...)
	args = append(args,
		boolToInt(rec.Synced),
		rec.SyncVersion,
		boolToInt(rec.Deleted),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return args
}

// scanRecord reads one row using any Scan-shaped function (sql.Row or
// sql.Rows).
func scanRecord(t schema.Table, scan func(dest ...any) error) (schema.Record, error) {
	fields := t.NewFields()

	var (
		synced, deleted      int
		createdAt, updatedAt string
		rec                  schema.Record
	)

	dest := make([]any, 0, len(t.Columns)+6)
	dest = append(dest, &rec.ID)
	dest = append(dest, fields.Pointers()...)
	dest = append(dest, &synced, &rec.SyncVersion, &deleted, &createdAt, &updatedAt)

	if err := scan(dest...); err != nil {
		return schema.Record{}, err
	}

	rec.Synced = synced != 0
	rec.Deleted = deleted != 0
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Fields = fields
	return rec, nil
}

// parseTime parses an RFC3339 timestamp, tolerating the nano variant.
// Unparseable values yield the zero time, which the conflict resolver
// treats as "remote authoritative".
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
