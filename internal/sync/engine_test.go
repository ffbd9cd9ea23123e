package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/shelfwise/shelfsync/internal/remote"
	"github.com/shelfwise/shelfsync/internal/schema"
	"github.com/shelfwise/shelfsync/internal/store"
)

// fakeAdapter is an in-memory remote backend for engine tests.
type fakeAdapter struct {
	mu stdsync.Mutex

	pulls      map[string][]schema.Record
	serverTime time.Time

	fetchOrder []string
	upserts    []schema.Record
	deletes    []string

	fetchErr  error
	upsertErr error
	deleteErr error
	pingErr   error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		pulls:      make(map[string][]schema.Record),
		serverTime: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeAdapter) FetchChangedSince(ctx context.Context, table string, since time.Time, token string) (*remote.PullResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchOrder = append(f.fetchOrder, table)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &remote.PullResult{Records: f.pulls[table], ServerTime: f.serverTime}, nil
}

func (f *fakeAdapter) Upsert(ctx context.Context, table string, rec schema.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeAdapter) Delete(ctx context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeAdapter) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeAdapter) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	adapter := newFakeAdapter()
	engine, err := New(Config{
		Store:   st,
		Adapter: adapter,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return engine, st, adapter
}

func remoteCategory(id, name string, updatedAt time.Time) schema.Record {
	return schema.Record{
		Envelope: schema.Envelope{
			ID:          id,
			SyncVersion: 1,
			CreatedAt:   updatedAt,
			UpdatedAt:   updatedAt,
		},
		Fields: &schema.CategoryFields{Name: name},
	}
}

// TestRunFullCycle_AppliesRemoteChanges verifies pulled records land locally
// marked synced and the cursor advances to the server's clock.
func TestRunFullCycle_AppliesRemoteChanges(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	ts := adapter.serverTime.Add(-time.Minute)
	adapter.pulls[schema.TableCategories] = []schema.Record{
		remoteCategory("cat-1", "Fiction", ts),
	}

	summaries, err := engine.RunFullCycle(ctx)
	if err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}
	if len(summaries) != 7 {
		t.Fatalf("got %d summaries, want 7", len(summaries))
	}
	if summaries[0].RemoteChanges != 1 {
		t.Errorf("categories RemoteChanges = %d, want 1", summaries[0].RemoteChanges)
	}

	got, err := st.Get(ctx, schema.TableCategories, "cat-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Synced {
		t.Error("pulled record is not marked synced")
	}

	cur, err := st.Cursor(ctx, schema.TableCategories)
	if err != nil {
		t.Fatalf("Cursor() failed: %v", err)
	}
	if !cur.LastSync.Equal(adapter.serverTime) {
		t.Errorf("cursor = %v, want server time %v", cur.LastSync, adapter.serverTime)
	}
}

// TestRunTable_ReapplySameChange verifies a change delivered twice (for
// example after a crash before the cursor advanced) reconciles cleanly with
// no conflict and no version drift.
func TestRunTable_ReapplySameChange(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	ts := adapter.serverTime.Add(-time.Minute)
	adapter.pulls[schema.TableCategories] = []schema.Record{
		remoteCategory("cat-1", "Fiction", ts),
	}

	if _, err := engine.RunTable(ctx, schema.TableCategories); err != nil {
		t.Fatalf("first RunTable() failed: %v", err)
	}
	sum, err := engine.RunTable(ctx, schema.TableCategories)
	if err != nil {
		t.Fatalf("second RunTable() failed: %v", err)
	}
	if sum.Conflicts != 0 {
		t.Errorf("reapplying the same change raised %d conflicts", sum.Conflicts)
	}

	got, err := st.Get(ctx, schema.TableCategories, "cat-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.SyncVersion != 1 || !got.Synced {
		t.Errorf("row = version %d synced %v after reapply, want 1/true", got.SyncVersion, got.Synced)
	}
	if !got.UpdatedAt.Equal(ts) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, ts)
	}
}

// TestRunFullCycle_DependencyOrder verifies tables sync parents before
// children.
func TestRunFullCycle_DependencyOrder(t *testing.T) {
	engine, _, adapter := newTestEngine(t)

	if _, err := engine.RunFullCycle(context.Background()); err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}

	pos := make(map[string]int)
	for i, name := range adapter.fetchOrder {
		pos[name] = i
	}
	for _, tbl := range schema.SyncOrder() {
		for _, dep := range tbl.DependsOn {
			if pos[dep] > pos[tbl.Name] {
				t.Errorf("%s synced before its dependency %s", tbl.Name, dep)
			}
		}
	}
}

// TestRunFullCycle_PushesLocalChanges verifies offline mutations reach the
// remote and the journal drains.
func TestRunFullCycle_PushesLocalChanges(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	rec, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Offline"}})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	summaries, err := engine.RunFullCycle(ctx)
	if err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}
	if summaries[0].LocalChanges != 1 {
		t.Errorf("LocalChanges = %d, want 1", summaries[0].LocalChanges)
	}

	if len(adapter.upserts) != 1 || adapter.upserts[0].ID != rec.ID {
		t.Fatalf("remote upserts = %+v, want the local record", adapter.upserts)
	}

	got, err := st.Get(ctx, schema.TableCategories, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Synced {
		t.Error("pushed record is not marked synced")
	}

	backlog, err := st.JournalBacklog(ctx)
	if err != nil {
		t.Fatalf("JournalBacklog() failed: %v", err)
	}
	if backlog != 0 {
		t.Errorf("journal backlog = %d after push, want 0", backlog)
	}
}

// TestRunFullCycle_SupersededEntrySkipsNetwork verifies only the newest
// journal entry for a record is pushed; earlier ones retire locally.
func TestRunFullCycle_SupersededEntrySkipsNetwork(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	rec, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Draft"}})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	rec.Fields.(*schema.CategoryFields).Name = "Final"
	if _, err := st.Upsert(ctx, rec); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if _, err := engine.RunFullCycle(ctx); err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}

	if len(adapter.upserts) != 1 {
		t.Fatalf("remote saw %d upserts, want 1", len(adapter.upserts))
	}
	if got := adapter.upserts[0].Fields.(*schema.CategoryFields).Name; got != "Final" {
		t.Errorf("pushed name = %q, want the latest edit", got)
	}

	backlog, err := st.JournalBacklog(ctx)
	if err != nil {
		t.Fatalf("JournalBacklog() failed: %v", err)
	}
	if backlog != 0 {
		t.Errorf("journal backlog = %d, want 0", backlog)
	}
}

// TestRunFullCycle_PushesDeletes verifies tombstones propagate as deletes.
func TestRunFullCycle_PushesDeletes(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	rec, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Doomed"}})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := st.SoftDelete(ctx, schema.TableCategories, rec.ID); err != nil {
		t.Fatalf("SoftDelete() failed: %v", err)
	}

	if _, err := engine.RunFullCycle(ctx); err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}

	if len(adapter.deletes) != 1 || adapter.deletes[0] != rec.ID {
		t.Errorf("remote deletes = %v, want [%s]", adapter.deletes, rec.ID)
	}
}

// TestSyncTable_ConflictRemoteWins verifies a newer remote edit overwrites a
// pending local one and the loss is audited.
func TestSyncTable_ConflictRemoteWins(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	local, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Local Name"}})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	remoteRec := remoteCategory(local.ID, "Remote Name", local.UpdatedAt.Add(time.Minute))
	remoteRec.SyncVersion = 5
	adapter.pulls[schema.TableCategories] = []schema.Record{remoteRec}

	sum, err := engine.RunTable(ctx, schema.TableCategories)
	if err != nil {
		t.Fatalf("RunTable() failed: %v", err)
	}
	if sum.Conflicts != 1 || sum.Resolved != 1 {
		t.Errorf("Conflicts = %d, Resolved = %d, want 1/1", sum.Conflicts, sum.Resolved)
	}

	got, err := st.Get(ctx, schema.TableCategories, local.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Fields.(*schema.CategoryFields).Name != "Remote Name" {
		t.Errorf("name = %q, want the remote's", got.Fields.(*schema.CategoryFields).Name)
	}
	if len(adapter.upserts) != 0 {
		t.Errorf("losing local edit was pushed anyway: %+v", adapter.upserts)
	}

	conflicts, err := st.Conflicts(ctx, false)
	if err != nil {
		t.Fatalf("Conflicts() failed: %v", err)
	}
	if len(conflicts) != 1 || !conflicts[0].Resolved || conflicts[0].Strategy != store.StrategyRemoteWins {
		t.Errorf("conflict audit = %+v, want one resolved remote_wins entry", conflicts)
	}
}

// TestSyncTable_ConflictLocalWins verifies a newer local edit survives the
// pull and is pushed.
func TestSyncTable_ConflictLocalWins(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	local, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Local Name"}})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	remoteRec := remoteCategory(local.ID, "Remote Name", local.UpdatedAt.Add(-time.Minute))
	adapter.pulls[schema.TableCategories] = []schema.Record{remoteRec}

	if _, err := engine.RunTable(ctx, schema.TableCategories); err != nil {
		t.Fatalf("RunTable() failed: %v", err)
	}

	got, err := st.Get(ctx, schema.TableCategories, local.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Fields.(*schema.CategoryFields).Name != "Local Name" {
		t.Errorf("name = %q, local edit should survive", got.Fields.(*schema.CategoryFields).Name)
	}
	if len(adapter.upserts) != 1 {
		t.Errorf("winning local edit was not pushed (%d upserts)", len(adapter.upserts))
	}

	conflicts, err := st.Conflicts(ctx, false)
	if err != nil {
		t.Fatalf("Conflicts() failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Strategy != store.StrategyLocalWins {
		t.Errorf("conflict audit = %+v, want one local_wins entry", conflicts)
	}
}

// TestSyncTable_RemoteDeleteWins verifies a remote tombstone beats a pending
// local update regardless of timestamps.
func TestSyncTable_RemoteDeleteWins(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	local, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Edited Offline"}})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	// Remote tombstone with an older timestamp still wins.
	remoteRec := remoteCategory(local.ID, "Edited Offline", local.UpdatedAt.Add(-time.Hour))
	remoteRec.Deleted = true
	adapter.pulls[schema.TableCategories] = []schema.Record{remoteRec}

	if _, err := engine.RunTable(ctx, schema.TableCategories); err != nil {
		t.Fatalf("RunTable() failed: %v", err)
	}

	got, err := st.Get(ctx, schema.TableCategories, local.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Deleted {
		t.Error("remote delete did not win over local update")
	}
	if len(adapter.upserts) != 0 {
		t.Errorf("losing local edit was pushed anyway: %+v", adapter.upserts)
	}

	conflicts, err := st.Conflicts(ctx, false)
	if err != nil {
		t.Fatalf("Conflicts() failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Type != store.ConflictDelete {
		t.Errorf("conflict audit = %+v, want one delete_conflict entry", conflicts)
	}
}

// TestSyncTable_TransientPushAborts verifies a transient push failure leaves
// the journal pending and the cursor untouched.
func TestSyncTable_TransientPushAborts(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Stuck"}}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	adapter.upsertErr = &remote.Error{Kind: remote.KindTransient, Op: "upsert",
		Table: schema.TableCategories, Err: errors.New("connection refused")}

	if _, err := engine.RunTable(ctx, schema.TableCategories); err == nil {
		t.Fatal("RunTable() succeeded despite a transient push failure")
	}

	cur, err := st.Cursor(ctx, schema.TableCategories)
	if err != nil {
		t.Fatalf("Cursor() failed: %v", err)
	}
	if !cur.LastSync.IsZero() {
		t.Errorf("cursor advanced to %v after a failed table", cur.LastSync)
	}

	backlog, err := st.JournalBacklog(ctx)
	if err != nil {
		t.Fatalf("JournalBacklog() failed: %v", err)
	}
	if backlog != 1 {
		t.Errorf("journal backlog = %d, entry should remain pending", backlog)
	}

	// Once the remote recovers, the same entry goes through.
	adapter.upsertErr = nil
	if _, err := engine.RunTable(ctx, schema.TableCategories); err != nil {
		t.Fatalf("retry RunTable() failed: %v", err)
	}
	if len(adapter.upserts) != 1 {
		t.Errorf("recovered push count = %d, want 1", len(adapter.upserts))
	}
}

// TestSyncTable_PermanentPushSkips verifies a permanently rejected entry is
// recorded and the table still advances.
func TestSyncTable_PermanentPushSkips(t *testing.T) {
	engine, st, adapter := newTestEngine(t)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, schema.Record{Fields: &schema.CategoryFields{Name: "Rejected"}}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	adapter.upsertErr = &remote.Error{Kind: remote.KindPermanent, Op: "upsert",
		Table: schema.TableCategories, Err: errors.New("constraint violation")}

	sum, err := engine.RunTable(ctx, schema.TableCategories)
	if err != nil {
		t.Fatalf("RunTable() failed: %v", err)
	}
	if sum.Errors != 1 {
		t.Errorf("Errors = %d, want 1", sum.Errors)
	}

	cur, err := st.Cursor(ctx, schema.TableCategories)
	if err != nil {
		t.Fatalf("Cursor() failed: %v", err)
	}
	if !cur.LastSync.Equal(adapter.serverTime) {
		t.Errorf("cursor = %v, should advance past a permanent failure", cur.LastSync)
	}

	entries, err := st.PendingJournal(ctx, schema.TableCategories)
	if err != nil {
		t.Fatalf("PendingJournal() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].RetryCount != 1 {
		t.Errorf("entries = %+v, want one entry with RetryCount 1", entries)
	}
}

// TestRunFullCycle_TransientFetchStopsCycle verifies a failed pull stops the
// remaining tables rather than syncing children without their parents.
func TestRunFullCycle_TransientFetchStopsCycle(t *testing.T) {
	engine, _, adapter := newTestEngine(t)

	adapter.fetchErr = &remote.Error{Kind: remote.KindTransient, Op: "fetch",
		Table: schema.TableCategories, Err: errors.New("timeout")}

	summaries, err := engine.RunFullCycle(context.Background())
	if err == nil {
		t.Fatal("RunFullCycle() succeeded despite fetch failures")
	}
	if len(summaries) != 1 {
		t.Errorf("cycle continued past the failed table (%d summaries)", len(summaries))
	}
}

// TestRunFullCycle_Reentrant verifies a second concurrent cycle is refused.
func TestRunFullCycle_Reentrant(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	engine.mu.Lock()
	engine.syncing = true
	engine.mu.Unlock()

	if _, err := engine.RunFullCycle(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("err = %v, want ErrSyncInProgress", err)
	}
}

// TestStatus_InitialSyncCompletion verifies the flag flips once every table
// has a watermark.
func TestStatus_InitialSyncCompletion(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	st1, err := engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if st1.InitialSyncCompleted {
		t.Error("initial sync reported complete before any cycle")
	}

	if _, err := engine.RunFullCycle(ctx); err != nil {
		t.Fatalf("RunFullCycle() failed: %v", err)
	}

	st2, err := engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if !st2.InitialSyncCompleted {
		t.Error("initial sync not reported complete after a full cycle")
	}
	if st2.IsSyncing {
		t.Error("IsSyncing reported true while idle")
	}
	if st2.LastSync.IsZero() {
		t.Error("LastSync not recorded")
	}
}
