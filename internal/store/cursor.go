package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cursor is a per-table sync watermark. LastSync is the server-observed
// time of the last successful pull+push round-trip; it only ever advances.
// Token is an opaque continuation handed back by the remote adapter.
type Cursor struct {
	TableName     string
	LastSync      time.Time
	Token         string
	TotalRecords  int64
	SyncedRecords int64
}

// Cursor returns the watermark for a table. A table never synced before
// gets a zero LastSync, which forces a full pull.
func (s *Store) Cursor(ctx context.Context, table string) (Cursor, error) {
	var (
		c        Cursor
		lastSync string
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT table_name, last_sync, sync_token, total_records, synced_records
		FROM sync_cursors WHERE table_name = ?`, table).
		Scan(&c.TableName, &lastSync, &c.Token, &c.TotalRecords, &c.SyncedRecords)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{TableName: table}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to read cursor for %s: %w", table, err)
	}
	c.LastSync = parseTime(lastSync)
	return c, nil
}

// AdvanceCursor persists a new watermark after a successful cycle. A
// LastSync earlier than the stored one is rejected: the cursor is
// monotonic, and a failed cycle must leave it untouched so the next attempt
// re-covers the same window.
func (s *Store) AdvanceCursor(ctx context.Context, c Cursor) error {
	current, err := s.Cursor(ctx, c.TableName)
	if err != nil {
		return err
	}
	if c.LastSync.Before(current.LastSync) {
		return fmt.Errorf("cursor for %s would move backwards (%s < %s)",
			c.TableName, c.LastSync.Format(time.RFC3339), current.LastSync.Format(time.RFC3339))
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO sync_cursors (table_name, last_sync, sync_token, total_records, synced_records)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			last_sync = excluded.last_sync,
			sync_token = excluded.sync_token,
			total_records = excluded.total_records,
			synced_records = excluded.synced_records`,
		c.TableName, c.LastSync.UTC().Format(time.RFC3339Nano),
		c.Token, c.TotalRecords, c.SyncedRecords,
	)
	if err != nil {
		return fmt.Errorf("failed to advance cursor for %s: %w", c.TableName, err)
	}
	return nil
}
