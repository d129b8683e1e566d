package syncserver

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Evasc0/BTS-PIMS/internal/store"
	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// Full stack: local store -> engine -> reference server and back.
func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	st, err := store.New(filepath.Join(t.TempDir(), "pims.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	server := New()
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	engine := pimssync.NewEngine(st, srv.URL, srv.Client())

	created, err := st.AddEmployee(ctx, types.Employee{
		FullName: "Ana Reyes",
		Email:    "ana@example.com",
		Role:     types.RoleEmployee,
		Status:   types.EmployeeActive,
	})
	if err != nil {
		t.Fatal(err)
	}

	// A queued server-side change rides back on the same cycle.
	remote := types.Product{ID: "prod-remote", Article: "Projector", Status: types.ProductAvailable}
	remote.LastModified = time.Now().UTC()
	if err := server.Publish(pimssync.EntityProducts, remote); err != nil {
		t.Fatal(err)
	}

	result := engine.SyncNow(ctx)
	if result.Status != pimssync.StatusSynced {
		t.Fatalf("expected synced, got %s (%s)", result.Status, result.Error)
	}
	if result.Pushed != 1 || result.Acked != 1 || result.Applied != 1 {
		t.Errorf("unexpected counts %+v", result)
	}

	// Local record is clean, the authority holds it, the outbox is empty.
	got, err := st.GetEmployee(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != types.SyncSynced || got.IsDirty {
		t.Errorf("expected synced clean record, got %s dirty=%v", got.SyncStatus, got.IsDirty)
	}
	if _, ok := server.Record(pimssync.EntityEmployees, created.ID); !ok {
		t.Error("authority missing pushed record")
	}
	count, _ := st.OutboxCount(ctx, "")
	if count != 0 {
		t.Errorf("expected empty outbox, got %d", count)
	}

	// The server-originated product landed locally as already-synced state.
	p, err := st.GetProduct(ctx, "prod-remote")
	if err != nil {
		t.Fatal(err)
	}
	if p.SyncStatus != types.SyncSynced {
		t.Errorf("expected server change synced, got %s", p.SyncStatus)
	}

	// Second cycle has nothing left to do.
	if result := engine.SyncNow(ctx); result.Status != pimssync.StatusIdle {
		t.Errorf("expected idle second cycle, got %s", result.Status)
	}
}

// A soft delete flows through the wire and disappears from the authority.
func TestRoundTrip_Delete(t *testing.T) {
	ctx := context.Background()

	st, err := store.New(filepath.Join(t.TempDir(), "pims.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	server := New()
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	engine := pimssync.NewEngine(st, srv.URL, srv.Client())

	created, err := st.AddEmployee(ctx, types.Employee{FullName: "Ana Reyes", Email: "ana@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if result := engine.SyncNow(ctx); result.Status != pimssync.StatusSynced {
		t.Fatalf("first cycle: %s", result.Status)
	}

	if err := st.RemoveEmployee(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if result := engine.SyncNow(ctx); result.Status != pimssync.StatusSynced {
		t.Fatalf("delete cycle: %s", result.Status)
	}

	if _, ok := server.Record(pimssync.EntityEmployees, created.ID); ok {
		t.Error("authority still serves the deleted record")
	}
	count, _ := st.OutboxCount(ctx, "")
	if count != 0 {
		t.Errorf("expected empty outbox, got %d", count)
	}
}
