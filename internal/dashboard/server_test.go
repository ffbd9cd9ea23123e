package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shelfwise/shelfsync/internal/remote"
	"github.com/shelfwise/shelfsync/internal/schema"
	"github.com/shelfwise/shelfsync/internal/store"
	syncengine "github.com/shelfwise/shelfsync/internal/sync"
)

// idleAdapter is a reachable remote with nothing to say.
type idleAdapter struct{}

func (idleAdapter) FetchChangedSince(ctx context.Context, table string, since time.Time, token string) (*remote.PullResult, error) {
	return &remote.PullResult{ServerTime: time.Now().UTC()}, nil
}
func (idleAdapter) Upsert(ctx context.Context, table string, rec schema.Record) error { return nil }
func (idleAdapter) Delete(ctx context.Context, table, id string) error                { return nil }
func (idleAdapter) Ping(ctx context.Context) error                                    { return nil }

func newTestAPI(t *testing.T) (*httptest.Server, *store.Store, *int) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	quiet := log.New(io.Discard, "", 0)
	engine, err := syncengine.New(syncengine.Config{
		Store:   st,
		Adapter: idleAdapter{},
		Logger:  quiet,
	})
	if err != nil {
		t.Fatalf("syncengine.New() failed: %v", err)
	}

	triggers := 0
	srv := NewServer(engine, st, func() { triggers++ }, Config{Logger: quiet})
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, st, &triggers
}

// TestHandleStatus verifies the status endpoint reports engine state.
func TestHandleStatus(t *testing.T) {
	ts, st, _ := newTestAPI(t)

	if _, err := st.Upsert(context.Background(),
		schema.Record{Fields: &schema.CategoryFields{Name: "Pending"}}); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status syncengine.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.PendingOperations != 1 {
		t.Errorf("PendingOperations = %d, want 1", status.PendingOperations)
	}
	if status.InitialSyncCompleted {
		t.Error("InitialSyncCompleted reported true before any sync")
	}
}

// TestHandleTriggerSync verifies the sync endpoint calls the trigger.
func TestHandleTriggerSync(t *testing.T) {
	ts, _, triggers := newTestAPI(t)

	resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if *triggers != 1 {
		t.Errorf("trigger called %d times, want 1", *triggers)
	}
}

// TestHandleConflicts verifies listing and resolving conflicts over HTTP.
func TestHandleConflicts(t *testing.T) {
	ts, st, _ := newTestAPI(t)
	ctx := context.Background()

	id, err := st.RecordConflict(ctx, store.Conflict{
		TableName:  schema.TableBooks,
		RecordID:   "book-1",
		LocalData:  []byte(`{"title":"local"}`),
		RemoteData: []byte(`{"title":"remote"}`),
		Type:       store.ConflictUpdate,
	})
	if err != nil {
		t.Fatalf("RecordConflict() failed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/conflicts")
	if err != nil {
		t.Fatalf("GET /api/conflicts failed: %v", err)
	}
	defer resp.Body.Close()

	var conflicts []store.Conflict
	if err := json.NewDecoder(resp.Body).Decode(&conflicts); err != nil {
		t.Fatalf("decode conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ID != id {
		t.Fatalf("conflicts = %+v, want the recorded one", conflicts)
	}

	body := strings.NewReader(`{"strategy":"local_wins"}`)
	resolveResp, err := http.Post(ts.URL+"/api/conflicts/"+id+"/resolve", "application/json", body)
	if err != nil {
		t.Fatalf("POST resolve failed: %v", err)
	}
	defer resolveResp.Body.Close()
	if resolveResp.StatusCode != http.StatusOK {
		t.Errorf("resolve status = %d, want 200", resolveResp.StatusCode)
	}

	open, err := st.Conflicts(ctx, true)
	if err != nil {
		t.Fatalf("Conflicts() failed: %v", err)
	}
	if len(open) != 0 {
		t.Error("conflict still open after resolve")
	}
}

// TestHandleResolveConflict_BadStrategy verifies unknown strategies are
// rejected.
func TestHandleResolveConflict_BadStrategy(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	body := strings.NewReader(`{"strategy":"coin_flip"}`)
	resp, err := http.Post(ts.URL+"/api/conflicts/some-id/resolve", "application/json", body)
	if err != nil {
		t.Fatalf("POST resolve failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// TestHandleHealth verifies the health endpoint responds.
func TestHandleHealth(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
