// Package remote abstracts the remote relational store behind a uniform
// adapter interface so the orchestrator and conflict resolver stay
// backend-agnostic.
//
// Adapters classify every failure at the boundary into a transient,
// permanent, or unknown kind; callers branch on the kind, never on error
// strings. Transient failures are retried inside the adapter with capped
// exponential backoff before being surfaced.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shelfwise/shelfsync/internal/schema"
)

// ErrorKind classifies remote failures.
type ErrorKind int

const (
	// KindUnknown covers failures the adapter could not classify. Treated
	// like transient by the orchestrator: retried, never skipped silently.
	KindUnknown ErrorKind = iota

	// KindTransient covers timeouts, rate limits, and connection failures.
	// Worth retrying; the record's journal entry stays pending.
	KindTransient

	// KindPermanent covers constraint violations, malformed payloads, and
	// auth failures. Retrying cannot help; the failure is recorded on the
	// journal entry and other records proceed.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure.
type Error struct {
	Kind  ErrorKind
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s %s (%s): %v", e.Op, e.Table, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a classified transient remote failure.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindTransient
}

// IsPermanent reports whether err is a classified permanent remote failure.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindPermanent
}

// PullResult is one table's incremental pull.
type PullResult struct {
	// Records changed on the remote since the requested watermark.
	Records []schema.Record

	// ServerTime is the remote clock observed during the pull. Cursors
	// advance to this value, never to the local clock, so clock skew cannot
	// open gaps in the pull window.
	ServerTime time.Time

	// NextToken is an opaque continuation persisted with the cursor.
	NextToken string
}

// Adapter is the uniform surface over a remote relational store.
//
// Implementations must classify every returned error (see Error) and keep
// each call under a short timeout; a stuck remote must fail a cycle, not
// hang it.
type Adapter interface {
	// FetchChangedSince returns records whose updated_at is strictly after
	// since. A zero since means a full pull. An empty result is a valid,
	// successful pull.
	FetchChangedSince(ctx context.Context, table string, since time.Time, token string) (*PullResult, error)

	// Upsert pushes one record (insert or update) to the remote store.
	Upsert(ctx context.Context, table string, rec schema.Record) error

	// Delete propagates a soft delete to the remote store.
	Delete(ctx context.Context, table, id string) error

	// Ping probes the remote endpoint; a nil error means reachable.
	Ping(ctx context.Context) error
}
