package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shelfwise/shelfsync/internal/schema"
)

// envelopeColumns are shared by every remote table, in scan order. The local
// synced flag has no remote counterpart.
var envelopeColumns = []string{"id", "sync_version", "deleted", "created_at", "updated_at"}

// PostgresConfig configures the direct-Postgres adapter.
type PostgresConfig struct {
	// DSN is a pgx connection string.
	DSN string

	// PageSize bounds each pull page. Default 1000.
	PageSize int
}

// PostgresAdapter talks straight to a Postgres server, for deployments that
// bypass the hosted REST layer.
type PostgresAdapter struct {
	pool     *pgxpool.Pool
	pageSize int
}

// NewPostgres connects a Postgres adapter.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresAdapter, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresAdapter{pool: pool, pageSize: cfg.PageSize}, nil
}

// Close releases the connection pool.
func (a *PostgresAdapter) Close() {
	a.pool.Close()
}

// FetchChangedSince implements Adapter.
func (a *PostgresAdapter) FetchChangedSince(ctx context.Context, table string, since time.Time, _ string) (*PullResult, error) {
	tbl, err := schema.Lookup(table)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Op: "fetch", Table: table, Err: err}
	}

	cols := append(append([]string{}, envelopeColumns...), tbl.Columns...)
	result := &PullResult{}
	offset := 0

	for {
		query := fmt.Sprintf(
			"SELECT %s FROM %s WHERE updated_at > $1 ORDER BY updated_at ASC LIMIT %d OFFSET %d",
			strings.Join(cols, ", "), table, a.pageSize, offset)

		rows, err := a.pool.Query(ctx, query, since.UTC())
		if err != nil {
			return nil, classifyPg("fetch", table, err)
		}

		count := 0
		for rows.Next() {
			rec := schema.Record{Fields: tbl.NewFields()}
			dest := append([]any{
				&rec.ID, &rec.SyncVersion, &rec.Deleted, &rec.CreatedAt, &rec.UpdatedAt,
			}, rec.Fields.Pointers()...)
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return nil, classifyPg("fetch", table, err)
			}
			result.Records = append(result.Records, rec)
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, classifyPg("fetch", table, err)
		}

		if count < a.pageSize {
			break
		}
		offset += a.pageSize
	}

	// Cursor advances to the server's clock, never the client's.
	if err := a.pool.QueryRow(ctx, "SELECT now()").Scan(&result.ServerTime); err != nil {
		return nil, classifyPg("fetch", table, err)
	}
	return result, nil
}

// Upsert implements Adapter with INSERT ... ON CONFLICT built from the table
// registry.
func (a *PostgresAdapter) Upsert(ctx context.Context, table string, rec schema.Record) error {
	tbl, err := schema.Lookup(table)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "upsert", Table: table, Err: err}
	}

	cols := append(append([]string{}, envelopeColumns...), tbl.Columns...)
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	args := append([]any{
		rec.ID, rec.SyncVersion, rec.Deleted, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	}, rec.Fields.Values()...)

	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		return classifyPg("upsert", table, err)
	}
	return nil
}

// Delete implements Adapter as a tombstone update.
func (a *PostgresAdapter) Delete(ctx context.Context, table, id string) error {
	if _, err := schema.Lookup(table); err != nil {
		return &Error{Kind: KindPermanent, Op: "delete", Table: table, Err: err}
	}
	query := fmt.Sprintf("UPDATE %s SET deleted = true, updated_at = now() WHERE id = $1", table)
	if _, err := a.pool.Exec(ctx, query, id); err != nil {
		return classifyPg("delete", table, err)
	}
	return nil
}

// Ping implements Adapter.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.pool.Ping(ctx); err != nil {
		return &Error{Kind: KindTransient, Op: "ping", Table: "", Err: err}
	}
	return nil
}

// classifyPg maps a pgx error onto the adapter error taxonomy. Connection
// and cancellation failures are transient; constraint, syntax and data
// errors will not heal on retry.
func classifyPg(op, table string, err error) *Error {
	kind := KindUnknown

	var netErr net.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &netErr):
		kind = KindTransient
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindTransient
	case errors.Is(err, pgx.ErrNoRows):
		kind = KindPermanent
	case errors.As(err, &pgErr):
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "57014":               // query canceled
			kind = KindTransient
		case strings.HasPrefix(pgErr.Code, "22"), // data exception
			strings.HasPrefix(pgErr.Code, "23"), // integrity constraint
			strings.HasPrefix(pgErr.Code, "42"): // syntax or access rule
			kind = KindPermanent
		}
	case pgconn.SafeToRetry(err):
		kind = KindTransient
	}

	return &Error{Kind: kind, Op: op, Table: table, Err: err}
}
