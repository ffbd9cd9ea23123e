package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shelfwise/shelfsync/internal/schema"
)

// JournalEntry is one recorded local mutation, the unit of outbound sync.
//
// Entries use ULID ids so lexicographic order matches creation order. The
// journal is append-every-mutation: two updates between syncs produce two
// entries, pushed oldest first, so a create-then-update pair is never pushed
// out of order.
type JournalEntry struct {
	ID             string
	TableName      string
	RecordID       string
	Operation      schema.Operation
	Payload        json.RawMessage
	Timestamp      time.Time
	Synced         bool
	RetryCount     int
	ErrorMessage   string
	NeedsAttention bool
}

// appendJournalTx writes a journal entry inside the mutation's transaction.
func (s *Store) appendJournalTx(ctx context.Context, tx *sql.Tx, table, recordID string, op schema.Operation, payload json.RawMessage) error {
	if !op.Valid() {
		return fmt.Errorf("invalid journal operation: %q", op)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_journal (id, table_name, record_id, operation, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), table, recordID, string(op),
		string(payload), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry for %s/%s: %w", table, recordID, err)
	}
	return nil
}

// PendingJournal returns unpushed entries for a table, oldest first.
// Entries flagged for manual attention are excluded.
func (s *Store) PendingJournal(ctx context.Context, table string) ([]JournalEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, table_name, record_id, operation, payload, timestamp,
		       synced, retry_count, error_message, needs_attention
		FROM sync_journal
		WHERE table_name = ? AND synced = 0 AND needs_attention = 0
		ORDER BY timestamp ASC, id ASC`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending journal for %s: %w", table, err)
	}
	defer rows.Close()

	return scanJournal(rows)
}

// AttentionJournal returns entries that exhausted their retry budget and
// need operator intervention.
func (s *Store) AttentionJournal(ctx context.Context) ([]JournalEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, table_name, record_id, operation, payload, timestamp,
		       synced, retry_count, error_message, needs_attention
		FROM sync_journal
		WHERE needs_attention = 1
		ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attention journal: %w", err)
	}
	defer rows.Close()

	return scanJournal(rows)
}

// MarkJournalSynced closes a journal entry after the remote acknowledged
// the push for that specific change.
func (s *Store) MarkJournalSynced(ctx context.Context, entryID string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE sync_journal SET synced = 1, error_message = '' WHERE id = ?", entryID)
	if err != nil {
		return fmt.Errorf("failed to mark journal entry %s synced: %w", entryID, err)
	}
	return nil
}

// RetireRecordJournal closes every pending journal entry for one record,
// used when a remote-wins resolution makes the record's local history moot.
func (s *Store) RetireRecordJournal(ctx context.Context, table, recordID string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE sync_journal SET synced = 1, error_message = ''
		WHERE table_name = ? AND record_id = ? AND synced = 0`, table, recordID)
	if err != nil {
		return fmt.Errorf("failed to retire journal for %s/%s: %w", table, recordID, err)
	}
	return nil
}

// MarkJournalFailed records a push failure, incrementing the retry count.
// Once the count reaches the retry budget the entry is flagged for manual
// attention and excluded from future pushes.
func (s *Store) MarkJournalFailed(ctx context.Context, entryID, message string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE sync_journal
		SET retry_count = retry_count + 1,
		    error_message = ?,
		    needs_attention = CASE WHEN retry_count + 1 >= ? THEN 1 ELSE 0 END
		WHERE id = ?`, message, s.maxRetries, entryID)
	if err != nil {
		return fmt.Errorf("failed to mark journal entry %s failed: %w", entryID, err)
	}
	return nil
}

// ClearJournalAttention resets a flagged entry so it is retried again,
// typically after an operator fixed the underlying data.
func (s *Store) ClearJournalAttention(ctx context.Context, entryID string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE sync_journal
		SET needs_attention = 0, retry_count = 0, error_message = ''
		WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to clear attention on journal entry %s: %w", entryID, err)
	}
	return nil
}

// JournalBacklog counts unpushed entries across all tables, including ones
// needing attention. This feeds the pending_operations status field.
func (s *Store) JournalBacklog(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_journal WHERE synced = 0").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count journal backlog: %w", err)
	}
	return n, nil
}

func scanJournal(rows *sql.Rows) ([]JournalEntry, error) {
	var entries []JournalEntry
	for rows.Next() {
		var (
			e                 JournalEntry
			op, payload, ts   string
			synced, attention int
		)
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &op, &payload, &ts,
			&synced, &e.RetryCount, &e.ErrorMessage, &attention); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Operation = schema.Operation(op)
		e.Payload = json.RawMessage(payload)
		e.Timestamp = parseTime(ts)
		e.Synced = synced != 0
		e.NeedsAttention = attention != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}
	return entries, nil
}
