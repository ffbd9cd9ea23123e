// Package sync implements the synchronization engine: it reconciles the
// local store against the remote backend table by table, resolving conflicts
// and advancing per-table cursors only after a table fully succeeds.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"github.com/shelfwise/shelfsync/internal/remote"
	"github.com/shelfwise/shelfsync/internal/schema"
	"github.com/shelfwise/shelfsync/internal/store"
)

// ErrSyncInProgress is returned when a cycle is requested while another one
// is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// TableState names the phase a table is in during a cycle.
type TableState string

const (
	StateIdle        TableState = "idle"
	StatePulling     TableState = "pulling"
	StateReconciling TableState = "reconciling"
	StatePushing     TableState = "pushing"
	StateAdvancing   TableState = "advancing"
	StateFailed      TableState = "failed"
)

// Status is the externally visible snapshot of the engine.
type Status struct {
	IsOnline             bool      `json:"is_online"`
	IsSyncing            bool      `json:"is_syncing"`
	LastSync             time.Time `json:"last_sync"`
	PendingOperations    int       `json:"pending_operations"`
	InitialSyncCompleted bool      `json:"initial_sync_completed"`
	LastError            string    `json:"last_error,omitempty"`
}

// Summary reports what one table's sync accomplished.
type Summary struct {
	Table         string        `json:"table"`
	RemoteChanges int           `json:"remote_changes"`
	LocalChanges  int           `json:"local_changes"`
	Conflicts     int           `json:"conflicts"`
	Resolved      int           `json:"resolved"`
	Errors        int           `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

// Events receives progress notifications during a cycle. All methods are
// called from the syncing goroutine; implementations must not block.
type Events interface {
	SyncStarted()
	TableStateChanged(table string, state TableState)
	SyncFinished(summaries []Summary, err error)
}

// Config assembles an Engine.
type Config struct {
	Store        *store.Store
	Adapter      remote.Adapter
	Connectivity *Connectivity
	Logger       *log.Logger
	Events       Events
}

// Engine runs pull/reconcile/push/advance cycles over all synced tables in
// dependency order.
type Engine struct {
	store    *store.Store
	adapter  remote.Adapter
	conn     *Connectivity
	resolver Resolver
	logger   *log.Logger
	events   Events

	mu          stdsync.Mutex
	syncing     bool
	lastSync    time.Time
	lastError   string
	initialDone bool
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine requires a store")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("engine requires a remote adapter")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:   cfg.Store,
		adapter: cfg.Adapter,
		conn:    cfg.Connectivity,
		logger:  cfg.Logger,
		events:  cfg.Events,
	}, nil
}

// SetEvents installs the event sink. Call before any sync runs; the engine
// does not synchronize access to it.
func (e *Engine) SetEvents(ev Events) {
	e.events = ev
}

// Status reports the current engine snapshot. Initial sync is considered
// complete once every table's cursor has advanced at least once.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	st := Status{
		IsSyncing: e.syncing,
		LastSync:  e.lastSync,
		LastError: e.lastError,
	}
	initialDone := e.initialDone
	e.mu.Unlock()

	if e.conn != nil {
		st.IsOnline = e.conn.Current().Online
	}

	pending, err := e.store.JournalBacklog(ctx)
	if err != nil {
		return st, err
	}
	st.PendingOperations = pending

	if !initialDone {
		initialDone = true
		for _, tbl := range schema.SyncOrder() {
			cur, err := e.store.Cursor(ctx, tbl.Name)
			if err != nil {
				return st, err
			}
			if cur.LastSync.IsZero() {
				initialDone = false
				break
			}
		}
		if initialDone {
			e.mu.Lock()
			e.initialDone = true
			e.mu.Unlock()
		}
	}
	st.InitialSyncCompleted = initialDone
	return st, nil
}

// RunFullCycle syncs every table in dependency order. A transient failure
// aborts the remaining tables too: pushing a child row before its parent
// landed remotely would only manufacture foreign key errors.
func (e *Engine) RunFullCycle(ctx context.Context) ([]Summary, error) {
	if !e.begin() {
		return nil, ErrSyncInProgress
	}

	if e.events != nil {
		e.events.SyncStarted()
	}
	e.logger.Printf("starting full sync cycle")
	start := time.Now()

	var summaries []Summary
	var cycleErr error
	for _, tbl := range schema.SyncOrder() {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}
		sum, err := e.syncTable(ctx, tbl)
		summaries = append(summaries, sum)
		if err != nil {
			cycleErr = fmt.Errorf("sync %s: %w", tbl.Name, err)
			break
		}
	}

	e.finish(cycleErr)
	if e.events != nil {
		e.events.SyncFinished(summaries, cycleErr)
	}
	if cycleErr != nil {
		e.logger.Printf("sync cycle failed after %v: %v", time.Since(start).Round(time.Millisecond), cycleErr)
		return summaries, cycleErr
	}
	e.logger.Printf("sync cycle completed in %v (%d tables)", time.Since(start).Round(time.Millisecond), len(summaries))
	return summaries, nil
}

// RunTable syncs a single table on demand.
func (e *Engine) RunTable(ctx context.Context, table string) (Summary, error) {
	tbl, err := schema.Lookup(table)
	if err != nil {
		return Summary{}, err
	}
	if !e.begin() {
		return Summary{}, ErrSyncInProgress
	}

	sum, err := e.syncTable(ctx, tbl)
	e.finish(err)
	return sum, err
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return false
	}
	e.syncing = true
	return true
}

func (e *Engine) finish(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncing = false
	if err != nil {
		e.lastError = err.Error()
		return
	}
	e.lastError = ""
	e.lastSync = time.Now().UTC()
}

// syncTable runs the four phases for one table. The cursor only advances
// after pull, reconcile and push all succeeded, so an aborted table replays
// from the same watermark next cycle.
func (e *Engine) syncTable(ctx context.Context, tbl schema.Table) (Summary, error) {
	sum := Summary{Table: tbl.Name}
	start := time.Now()
	defer func() { sum.Duration = time.Since(start) }()

	fail := func(err error) (Summary, error) {
		e.setState(tbl.Name, StateFailed)
		return sum, err
	}

	cursor, err := e.store.Cursor(ctx, tbl.Name)
	if err != nil {
		return fail(err)
	}

	// Phase 1: pull remote changes since the watermark.
	e.setState(tbl.Name, StatePulling)
	pulled, err := e.adapter.FetchChangedSince(ctx, tbl.Name, cursor.LastSync, cursor.Token)
	if err != nil {
		return fail(err)
	}
	sum.RemoteChanges = len(pulled.Records)

	// Phase 2: reconcile each remote change against local state.
	e.setState(tbl.Name, StateReconciling)
	for _, rec := range pulled.Records {
		resolved, conflicted, err := e.reconcile(ctx, tbl.Name, rec)
		if err != nil {
			return fail(err)
		}
		if conflicted {
			sum.Conflicts++
		}
		if resolved {
			sum.Resolved++
		}
	}

	// Phase 3: push pending local mutations oldest first.
	e.setState(tbl.Name, StatePushing)
	pushed, pushErrs, err := e.push(ctx, tbl.Name)
	sum.LocalChanges = pushed
	sum.Errors = pushErrs
	if err != nil {
		return fail(err)
	}

	// Phase 4: advance the watermark to the server-observed time.
	e.setState(tbl.Name, StateAdvancing)
	if !pulled.ServerTime.IsZero() {
		cursor.LastSync = pulled.ServerTime
	}
	cursor.Token = pulled.NextToken
	cursor.TotalRecords, cursor.SyncedRecords, err = e.store.CountRecords(ctx, tbl.Name)
	if err != nil {
		return fail(err)
	}
	if err := e.store.AdvanceCursor(ctx, cursor); err != nil {
		return fail(err)
	}

	e.setState(tbl.Name, StateIdle)
	return sum, nil
}

// reconcile applies one remote change. A local row with unpushed edits is a
// conflict; the resolver decides the winner and the loss is recorded for
// audit either way.
func (e *Engine) reconcile(ctx context.Context, table string, rec schema.Record) (resolved, conflicted bool, err error) {
	local, err := e.store.Get(ctx, table, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, false, e.store.ApplyRemote(ctx, rec)
	}
	if err != nil {
		return false, false, err
	}

	if local.Synced {
		// No pending local edit: the remote version simply lands.
		return false, false, e.store.ApplyRemote(ctx, rec)
	}

	res := e.resolver.Resolve(local, rec)
	localData, err := schema.EncodeRecord(local)
	if err != nil {
		return false, true, err
	}
	remoteData, err := schema.EncodeRecord(rec)
	if err != nil {
		return false, true, err
	}
	if _, err := e.store.RecordConflict(ctx, store.Conflict{
		TableName:  table,
		RecordID:   rec.ID,
		LocalData:  localData,
		RemoteData: remoteData,
		Type:       res.ConflictType,
		Resolved:   true,
		Strategy:   res.Strategy,
	}); err != nil {
		return false, true, err
	}

	if res.RemoteWins {
		e.logger.Printf("conflict on %s/%s: remote wins (%s)", table, rec.ID, res.ConflictType)
		if err := e.store.ApplyRemote(ctx, rec); err != nil {
			return false, true, err
		}
		// The local edits lost; their journal entries must not push.
		if err := e.store.RetireRecordJournal(ctx, table, rec.ID); err != nil {
			return false, true, err
		}
	} else {
		// Local wins: the row stays unsynced and the push phase sends it.
		e.logger.Printf("conflict on %s/%s: local wins (%s)", table, rec.ID, res.ConflictType)
	}
	return true, true, nil
}

// push sends pending journal entries for a table. Entries superseded by a
// later local edit or a remote-wins resolution are retired without a network
// call. A permanent failure retires nothing and moves on; a transient one
// aborts the table so the entry is retried next cycle.
func (e *Engine) push(ctx context.Context, table string) (pushed, failed int, err error) {
	entries, err := e.store.PendingJournal(ctx, table)
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range entries {
		rec, decErr := schema.DecodeRecord(table, entry.Payload)
		if decErr != nil {
			failed++
			if mErr := e.store.MarkJournalFailed(ctx, entry.ID, decErr.Error()); mErr != nil {
				return pushed, failed, mErr
			}
			continue
		}

		current, getErr := e.store.Get(ctx, table, entry.RecordID)
		if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
			return pushed, failed, getErr
		}
		if getErr == nil && current.SyncVersion != rec.SyncVersion {
			// Stale entry: a newer journal entry or a remote-wins
			// resolution owns this record now.
			if mErr := e.store.MarkJournalSynced(ctx, entry.ID); mErr != nil {
				return pushed, failed, mErr
			}
			continue
		}

		var pushErr error
		if entry.Operation == schema.OpDelete {
			pushErr = e.adapter.Delete(ctx, table, entry.RecordID)
		} else {
			pushErr = e.adapter.Upsert(ctx, table, rec)
		}

		switch {
		case pushErr == nil:
			if mErr := e.store.MarkJournalSynced(ctx, entry.ID); mErr != nil {
				return pushed, failed, mErr
			}
			if getErr == nil {
				if mErr := e.store.MarkRecordSynced(ctx, table, entry.RecordID, rec.SyncVersion); mErr != nil {
					return pushed, failed, mErr
				}
			}
			pushed++
		case remote.IsPermanent(pushErr):
			e.logger.Printf("push %s %s/%s rejected: %v", entry.Operation, table, entry.RecordID, pushErr)
			failed++
			if mErr := e.store.MarkJournalFailed(ctx, entry.ID, pushErr.Error()); mErr != nil {
				return pushed, failed, mErr
			}
		default:
			// Transient: leave the entry pending and stop the table.
			return pushed, failed, pushErr
		}
	}
	return pushed, failed, nil
}

func (e *Engine) setState(table string, state TableState) {
	if e.events != nil {
		e.events.TableStateChanged(table, state)
	}
}
