package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Conflict types and resolution strategies.
const (
	ConflictUpdate = "update_conflict"
	ConflictDelete = "delete_conflict"

	StrategyLocalWins  = "local_wins"
	StrategyRemoteWins = "remote_wins"
	StrategyManual     = "manual"
)

// Conflict is an audit record of concurrent local/remote edits to the same
// row. The losing side's data is preserved here, never silently discarded.
type Conflict struct {
	ID         string          `json:"id"`
	TableName  string          `json:"table_name"`
	RecordID   string          `json:"record_id"`
	LocalData  json.RawMessage `json:"local_data"`
	RemoteData json.RawMessage `json:"remote_data"`
	Type       string          `json:"conflict_type"`
	Resolved   bool            `json:"resolved"`
	Strategy   string          `json:"resolution_strategy,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt time.Time       `json:"resolved_at,omitempty"`
}

// RecordConflict stores a conflict. Automatic resolutions arrive with
// Resolved already true and a strategy set; manual ones stay open until an
// operator resolves them. The assigned id is returned.
func (s *Store) RecordConflict(ctx context.Context, c Conflict) (string, error) {
	c.ID = ulid.Make().String()
	c.CreatedAt = s.now().UTC()

	resolvedAt := ""
	if c.Resolved {
		c.ResolvedAt = c.CreatedAt
		resolvedAt = c.ResolvedAt.Format(time.RFC3339Nano)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_conflicts
			(id, table_name, record_id, local_data, remote_data,
			 conflict_type, resolved, resolution_strategy, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TableName, c.RecordID, string(c.LocalData), string(c.RemoteData),
		c.Type, boolToInt(c.Resolved), c.Strategy,
		c.CreatedAt.Format(time.RFC3339Nano), resolvedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record conflict for %s/%s: %w", c.TableName, c.RecordID, err)
	}
	return c.ID, nil
}

// Conflicts lists conflict records, optionally only unresolved ones,
// newest first.
func (s *Store) Conflicts(ctx context.Context, unresolvedOnly bool) ([]Conflict, error) {
	query := `
		SELECT id, table_name, record_id, local_data, remote_data,
		       conflict_type, resolved, resolution_strategy, created_at, resolved_at
		FROM sync_conflicts`
	if unresolvedOnly {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	return scanConflicts(rows)
}

// ResolveConflict closes an open conflict with the given strategy.
func (s *Store) ResolveConflict(ctx context.Context, id, strategy string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE sync_conflicts
		SET resolved = 1, resolution_strategy = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0`,
		strategy, s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("conflict %s not found or already resolved", id)
	}
	return nil
}

func scanConflicts(rows *sql.Rows) ([]Conflict, error) {
	var conflicts []Conflict
	for rows.Next() {
		var (
			c                                  Conflict
			local, remote, created, resolvedAt string
			resolved                           int
		)
		if err := rows.Scan(&c.ID, &c.TableName, &c.RecordID, &local, &remote,
			&c.Type, &resolved, &c.Strategy, &created, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		c.LocalData = json.RawMessage(local)
		c.RemoteData = json.RawMessage(remote)
		c.Resolved = resolved != 0
		c.CreatedAt = parseTime(created)
		c.ResolvedAt = parseTime(resolvedAt)
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}
