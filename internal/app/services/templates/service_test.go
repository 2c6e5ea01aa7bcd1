package templates

import (
	"context"
	"testing"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage/memory"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
)

func TestService_CreateAndFees(t *testing.T) {
	store := memory.New()
	svc := New(store, store, 5, "system", nil)

	tpl, err := svc.Create(context.Background(), "alice", "Sunset", component.TypeBackground, 100, 10, []byte("<rect/>"), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tpl.ID == 0 {
		t.Fatalf("template id not assigned")
	}
	if tpl.CurrentSupply != 0 {
		t.Fatalf("new template has supply %d", tpl.CurrentSupply)
	}

	bal, err := store.GetBalance(context.Background(), "system", payment.AssetGas)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Available != 5 {
		t.Fatalf("creation fee not credited: %d", bal.Available)
	}
}

func TestService_CreateValidation(t *testing.T) {
	store := memory.New()
	svc := New(store, store, 5, "system", nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "alice", "x", component.TypeEyes, 0, 1, []byte("p"), true); !apperr.Is(err, apperr.ErrInvalidSupply) {
		t.Fatalf("zero supply: got %v", err)
	}
	if _, err := svc.Create(ctx, "alice", "x", component.TypeEyes, 10, 1, nil, true); !apperr.Is(err, apperr.ErrInvalidPayload) {
		t.Fatalf("empty payload: got %v", err)
	}
	if _, err := svc.Create(ctx, "alice", "x", component.Type(9), 10, 1, []byte("p"), true); !apperr.Is(err, apperr.ErrTypeMismatch) {
		t.Fatalf("bad type: got %v", err)
	}
	if _, err := svc.CreatePaid(ctx, "alice", "x", component.TypeEyes, 10, 1, []byte("p"), true, 3); !apperr.Is(err, apperr.ErrInsufficientPayment) {
		t.Fatalf("underpaid fee: got %v", err)
	}
}

func TestService_CreatorOnlyMutations(t *testing.T) {
	store := memory.New()
	svc := New(store, store, 0, "system", nil)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, "alice", "Sunset", component.TypeBackground, 10, 10, []byte("<rect/>"), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdatePrice(ctx, "mallory", tpl.ID, 99); !apperr.Is(err, apperr.ErrNotCreator) {
		t.Fatalf("price by non-creator: got %v", err)
	}
	if _, err := svc.SetActive(ctx, "mallory", tpl.ID, false); !apperr.Is(err, apperr.ErrNotCreator) {
		t.Fatalf("active by non-creator: got %v", err)
	}

	updated, err := svc.UpdatePrice(ctx, "ALICE", tpl.ID, 25)
	if err != nil {
		t.Fatalf("price by creator: %v", err)
	}
	if updated.Price != 25 {
		t.Fatalf("price not updated: %d", updated.Price)
	}

	updated, err = svc.SetActive(ctx, "alice", tpl.ID, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if updated.Active {
		t.Fatalf("template still active")
	}
	// Name and supply survive mutations untouched.
	if updated.Name != "Sunset" || updated.MaxSupply != 10 {
		t.Fatalf("immutable fields changed: %+v", updated)
	}
}

func TestService_ListByType(t *testing.T) {
	store := memory.New()
	svc := New(store, store, 0, "system", nil)
	ctx := context.Background()

	a, _ := svc.Create(ctx, "alice", "A", component.TypeMouth, 10, 1, []byte("p"), true)
	svc.Create(ctx, "alice", "B", component.TypeEyes, 10, 1, []byte("p"), true)
	c, _ := svc.Create(ctx, "bob", "C", component.TypeMouth, 10, 1, []byte("p"), true)

	ids, err := svc.ListByType(ctx, component.TypeMouth)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != a.ID || ids[1] != c.ID {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if _, err := svc.ListByType(ctx, component.Type(-1)); !apperr.Is(err, apperr.ErrTypeMismatch) {
		t.Fatalf("invalid type: got %v", err)
	}
}
