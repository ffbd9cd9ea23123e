// Package schema defines the entity tables synchronized between the local
// store and the remote backend.
//
// Every synchronized row carries the same envelope (id, synced, sync_version,
// deleted, created_at, updated_at) on top of per-table business fields. The
// business fields are typed per table rather than carried as untyped maps,
// so the store, the remote adapters, and the conflict resolver can all be
// validated statically.
//
// The package also owns the table registry: the set of synchronized tables
// and their foreign-key dependency order, which the orchestrator follows so
// parents are pushed before dependents.
package schema

import (
	"fmt"
	"time"
)

// Operation identifies the kind of local mutation recorded in the change
// journal.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known journal operations.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Envelope is the synchronization metadata attached to every record.
//
// UpdatedAt is the authority for last-writer-wins comparisons. Synced is
// true once the remote store has durably accepted the current version.
// Deleted marks a soft delete; synced rows are never physically removed so
// deletions can propagate.
type Envelope struct {
	ID          string    `json:"id"`
	SyncVersion int64     `json:"sync_version"`
	Synced      bool      `json:"-"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record is one row of a synchronized table: envelope plus typed business
// fields.
type Record struct {
	Envelope
	Fields Fields
}

// Table returns the table the record belongs to.
func (r Record) Table() string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields.Table()
}

// Validate checks the record's envelope and business fields.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if r.Fields == nil {
		return fmt.Errorf("record has no fields")
	}
	return r.Fields.Validate()
}

// Fields is the typed business payload of one table's records.
//
// Values and Pointers expose the payload in the column order declared by the
// table registry, so storage code can build SQL generically without
// reflection. Pointers must return scan destinations into the receiver.
type Fields interface {
	// Table returns the table name these fields belong to.
	Table() string

	// Validate checks required business fields.
	Validate() error

	// Values returns the business column values in registry column order.
	Values() []any

	// Pointers returns scan destinations in registry column order.
	Pointers() []any
}
