package store

import (
	"context"
	"errors"
	"testing"

	"github.com/Evasc0/BTS-PIMS/internal/types"
)

func testProduct(propertyNumber string) types.Product {
	return types.Product{
		ValueCategory:  types.ValueHigh,
		Article:        "Laptop",
		Date:           "2026-02-10",
		Description:    "Dell Latitude 5440",
		PropertyNumber: propertyNumber,
		Unit:           "unit",
		UnitValue:      58000,
		BalancePerCard: 1,
		OnHandPerCount: 1,
		Total:          58000,
		Location:       "IT Storage",
		Status:         types.ProductAvailable,
	}
}

func TestAddProduct(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddProduct(ctx, testProduct("PN-2026-001"))
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if created.SyncStatus != types.SyncPending || !created.IsDirty {
		t.Error("expected pending dirty metadata")
	}

	count, _ := st.OutboxCount(ctx, created.ID)
	if count != 1 {
		t.Errorf("expected 1 outbox entry, got %d", count)
	}
}

func TestAddProduct_DuplicatePropertyNumber(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.AddProduct(ctx, testProduct("PN-2026-001")); err != nil {
		t.Fatal(err)
	}
	_, err := st.AddProduct(ctx, testProduct("PN-2026-001"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestFindProductBy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := testProduct("PN-2026-001")
	p.PARControlNumber = "PAR-77"
	created, err := st.AddProduct(ctx, p)
	if err != nil {
		t.Fatal(err)
	}

	byPN, err := st.FindProductBy(ctx, ProductFieldPropertyNumber, "PN-2026-001")
	if err != nil {
		t.Fatal(err)
	}
	if byPN.ID != created.ID {
		t.Errorf("wrong record %s", byPN.ID)
	}

	byPAR, err := st.FindProductBy(ctx, ProductFieldPARControlNumber, "PAR-77")
	if err != nil {
		t.Fatal(err)
	}
	if byPAR.ID != created.ID {
		t.Errorf("wrong record %s", byPAR.ID)
	}
}

func TestUpdateProduct_Assignment(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddProduct(ctx, testProduct("PN-2026-001"))
	if err != nil {
		t.Fatal(err)
	}

	updated, err := st.UpdateProduct(ctx, created.ID, func(p *types.Product) {
		p.AssignedToEmployeeID = "emp-1"
		p.Status = types.ProductAssigned
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != types.ProductAssigned || updated.AssignedToEmployeeID != "emp-1" {
		t.Errorf("mutation not applied: %+v", updated)
	}

	got, err := st.GetProduct(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedToEmployeeID != "emp-1" {
		t.Errorf("assignment not persisted: %q", got.AssignedToEmployeeID)
	}
}

func TestRemoveProduct_SoftDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.AddProduct(ctx, testProduct("PN-2026-001"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveProduct(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetProduct(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Soft-deleted property numbers still occupy the unique index; a re-add
	// with the same number is rejected rather than silently shadowing.
	_, err = st.AddProduct(ctx, testProduct("PN-2026-001"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate against soft-deleted row, got %v", err)
	}
}
