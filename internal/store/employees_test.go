package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

func TestAddEmployee(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddEmployee(ctx, testEmployee("ana@example.com"))
	if err != nil {
		t.Fatal(err)
	}

	if created.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if created.SyncStatus != types.SyncPending {
		t.Errorf("expected pending status, got %s", created.SyncStatus)
	}
	if !created.IsDirty {
		t.Error("expected record to be dirty")
	}
	if created.LastModified.IsZero() {
		t.Error("expected last_modified to be stamped")
	}

	count, err := st.OutboxCount(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 outbox entry, got %d", count)
	}

	batch, err := st.DueBatch(ctx, 10, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 due entry, got %d", len(batch))
	}
	entry := batch[0]
	if entry.EntityType != pimssync.EntityEmployees || entry.Operation != pimssync.OperationUpsert {
		t.Errorf("unexpected entry %s/%s", entry.EntityType, entry.Operation)
	}

	var snapshot types.Employee
	if err := json.Unmarshal(entry.Payload, &snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.Email != "ana@example.com" {
		t.Errorf("payload carries wrong email %q", snapshot.Email)
	}
}

func TestAddEmployee_DuplicateEmailRollsBack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.AddEmployee(ctx, testEmployee("ana@example.com")); err != nil {
		t.Fatal(err)
	}
	_, err := st.AddEmployee(ctx, testEmployee("ana@example.com"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// The failed insert must not leave a stray outbox entry behind.
	count, err := st.OutboxCount(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 outbox entry after rollback, got %d", count)
	}
}

func TestUpdateEmployee(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddEmployee(ctx, testEmployee("ana@example.com"))
	if err != nil {
		t.Fatal(err)
	}

	updated, err := st.UpdateEmployee(ctx, created.ID, func(e *types.Employee) {
		e.Department = "Operations"
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Department != "Operations" {
		t.Errorf("mutation not applied: %q", updated.Department)
	}
	if updated.SyncStatus != types.SyncPending || !updated.IsDirty {
		t.Error("expected update to restamp pending metadata")
	}

	got, err := st.GetEmployee(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Department != "Operations" {
		t.Errorf("persisted department %q", got.Department)
	}

	count, _ := st.OutboxCount(ctx, created.ID)
	if count != 2 {
		t.Errorf("expected 2 outbox entries (add + update), got %d", count)
	}
}

func TestUpdateEmployee_MissingIsNoOp(t *testing.T) {
	st := newTestStore(t)

	updated, err := st.UpdateEmployee(context.Background(), "no-such-id", func(e *types.Employee) {
		e.FullName = "ghost"
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated != nil {
		t.Fatalf("expected nil for missing id, got %+v", updated)
	}

	count, _ := st.OutboxCount(context.Background(), "")
	if count != 0 {
		t.Errorf("no-op update must not enqueue, got %d entries", count)
	}
}

func TestRemoveEmployee_SoftDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddEmployee(ctx, testEmployee("ana@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveEmployee(ctx, created.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := st.GetEmployee(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	list, err := st.ListEmployees(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("deleted employee still listed: %d", len(list))
	}

	// Physical row survives with deleted_at set.
	var deletedAt string
	err = st.DB().QueryRow(`SELECT deleted_at FROM employees WHERE id = ?`, created.ID).Scan(&deletedAt)
	if err != nil {
		t.Fatalf("physical row should remain: %v", err)
	}
	if deletedAt == "" {
		t.Error("expected deleted_at to be set")
	}

	batch, err := st.DueBatch(ctx, 10, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected upsert + delete entries, got %d", len(batch))
	}
	last := batch[1]
	if last.Operation != pimssync.OperationDelete {
		t.Errorf("expected delete operation, got %s", last.Operation)
	}
	var marker types.DeleteMarker
	if err := json.Unmarshal(last.Payload, &marker); err != nil {
		t.Fatal(err)
	}
	if marker.ID != created.ID || marker.DeletedAt.IsZero() {
		t.Errorf("bad delete marker %+v", marker)
	}
}

func TestRemoveEmployee_TwiceIsNoOp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddEmployee(ctx, testEmployee("ana@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveEmployee(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveEmployee(ctx, created.ID); err != nil {
		t.Fatal(err)
	}

	count, _ := st.OutboxCount(ctx, created.ID)
	if count != 2 {
		t.Errorf("second remove must not enqueue again, got %d entries", count)
	}
}

func TestFindEmployeeBy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddEmployee(ctx, testEmployee("ana@example.com"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := st.FindEmployeeBy(ctx, EmployeeFieldEmail, "ana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != created.ID {
		t.Errorf("lookup returned wrong record %s", got.ID)
	}

	if _, err := st.FindEmployeeBy(ctx, EmployeeField("full_name"), "Ana Reyes"); err == nil {
		t.Error("expected error for unsupported lookup field")
	}

	if _, err := st.FindEmployeeBy(ctx, EmployeeFieldEmail, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
