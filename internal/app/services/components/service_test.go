package components

import (
	"context"
	"sync"
	"testing"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage/memory"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
)

func seedTemplate(t *testing.T, store *memory.Store, price payment.Amount, maxSupply uint64) component.Template {
	t.Helper()
	tpl, err := store.CreateTemplate(context.Background(), component.Template{
		Name:      "Mohawk",
		Creator:   "carol",
		Type:      component.TypeHairstyle,
		MaxSupply: maxSupply,
		Price:     price,
		Payload:   []byte("<path/>"),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return tpl
}

func TestService_MintAndRoyalty(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, 30, "system", nil)
	ctx := context.Background()

	tpl := seedTemplate(t, store, 7, 100)

	inst, err := svc.Mint(ctx, tpl.ID, "dave", 7)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if inst.Owner != "dave" || inst.Equipped {
		t.Fatalf("unexpected instance: %+v", inst)
	}

	creator, _ := store.GetBalance(ctx, "carol", payment.AssetGas)
	if creator.Available != 2 {
		t.Fatalf("creator royalty: got %d, want 2", creator.Available)
	}
	owner, _ := store.GetBalance(ctx, "system", payment.AssetGas)
	if owner.Available != 5 {
		t.Fatalf("owner share: got %d, want 5", owner.Available)
	}

	got, _ := store.GetTemplate(ctx, tpl.ID)
	if got.CurrentSupply != 1 {
		t.Fatalf("supply not incremented: %d", got.CurrentSupply)
	}
}

func TestService_MintOverageToOwner(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, 30, "system", nil)
	ctx := context.Background()

	tpl := seedTemplate(t, store, 10, 100)
	if _, err := svc.Mint(ctx, tpl.ID, "dave", 15); err != nil {
		t.Fatalf("mint with overage: %v", err)
	}

	creator, _ := store.GetBalance(ctx, "carol", payment.AssetGas)
	if creator.Available != 3 {
		t.Fatalf("creator royalty: got %d, want 3", creator.Available)
	}
	owner, _ := store.GetBalance(ctx, "system", payment.AssetGas)
	if owner.Available != 12 {
		t.Fatalf("owner share with overage: got %d, want 12", owner.Available)
	}
}

func TestService_MintPaymentAndSupplyGuards(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, 30, "system", nil)
	ctx := context.Background()

	tpl := seedTemplate(t, store, 10, 1)

	if _, err := svc.Mint(ctx, tpl.ID, "dave", 9); !apperr.Is(err, apperr.ErrInsufficientPayment) {
		t.Fatalf("underpaid mint: got %v", err)
	}
	if _, err := svc.Mint(ctx, tpl.ID, "dave", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := svc.Mint(ctx, tpl.ID, "dave", 10); !apperr.Is(err, apperr.ErrSupplyExhausted) {
		t.Fatalf("exhausted mint: got %v", err)
	}

	tpl2 := seedTemplate(t, store, 10, 5)
	tpl2.Active = false
	if _, err := store.UpdateTemplate(ctx, tpl2); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Mint(ctx, tpl2.ID, "dave", 10); !apperr.Is(err, apperr.ErrTemplateInactive) {
		t.Fatalf("inactive mint: got %v", err)
	}
}

func TestService_MintConcurrentBurst(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, 30, "system", nil)
	ctx := context.Background()

	const maxSupply = 8
	tpl := seedTemplate(t, store, 1, maxSupply)

	const attempts = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Mint(ctx, tpl.ID, "dave", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != maxSupply {
		t.Fatalf("mints succeeded: got %d, want %d", succeeded, maxSupply)
	}
	insts, err := svc.ListByOwner(ctx, "dave")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(insts) != maxSupply {
		t.Fatalf("instances created: got %d, want %d", len(insts), maxSupply)
	}
}

func TestService_TransferGuards(t *testing.T) {
	store := memory.New()
	svc := New(store, store, store, 30, "system", nil)
	ctx := context.Background()

	tpl := seedTemplate(t, store, 0, 10)
	inst, err := svc.Mint(ctx, tpl.ID, "dave", 0)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := svc.Transfer(ctx, "mallory", inst.ID, "eve"); !apperr.Is(err, apperr.ErrNotAuthorized) {
		t.Fatalf("transfer by non-owner: got %v", err)
	}

	if _, err := svc.SetEquipped(ctx, inst.ID, true); err != nil {
		t.Fatalf("equip: %v", err)
	}
	if _, err := svc.Transfer(ctx, "dave", inst.ID, "eve"); !apperr.Is(err, apperr.ErrInstanceEquipped) {
		t.Fatalf("transfer while equipped: got %v", err)
	}

	if _, err := svc.SetEquipped(ctx, inst.ID, false); err != nil {
		t.Fatalf("unequip: %v", err)
	}
	moved, err := svc.Transfer(ctx, "DAVE", inst.ID, "eve")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if moved.Owner != "eve" {
		t.Fatalf("owner not updated: %s", moved.Owner)
	}
}
