package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/subaccount"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
)

func newTemplate(t *testing.T, s *Store, typ component.Type, maxSupply uint64) component.Template {
	t.Helper()
	tpl, err := s.CreateTemplate(context.Background(), component.Template{
		Name:      "tpl",
		Creator:   "creator",
		Type:      typ,
		MaxSupply: maxSupply,
		Price:     10,
		Payload:   []byte("<rect/>"),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func TestReserveSupplyConcurrentBurst(t *testing.T) {
	s := New()
	tpl := newTemplate(t, s, component.TypeBackground, 10)

	const attempts = 100
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ReserveSupply(context.Background(), tpl.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("reservations succeeded: got %d, want 10", succeeded)
	}
	got, err := s.GetTemplate(context.Background(), tpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if got.CurrentSupply != got.MaxSupply {
		t.Fatalf("current supply %d != max supply %d", got.CurrentSupply, got.MaxSupply)
	}
}

func TestReserveSupplyInactive(t *testing.T) {
	s := New()
	tpl := newTemplate(t, s, component.TypeEyes, 5)

	tpl.Active = false
	if _, err := s.UpdateTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := s.ReserveSupply(context.Background(), tpl.ID); !apperr.Is(err, apperr.ErrTemplateInactive) {
		t.Fatalf("expected ErrTemplateInactive, got %v", err)
	}
}

func TestApplyEquipSetAtomicity(t *testing.T) {
	s := New()
	ctx := context.Background()

	av, err := s.CreateAvatar(ctx, avatar.Avatar{Name: "av", Owner: "owner"})
	if err != nil {
		t.Fatalf("create avatar: %v", err)
	}
	acct, _, err := s.EnsureSubAccount(ctx, subaccount.Account{AvatarID: av.ID, Address: "aa01"})
	if err != nil {
		t.Fatalf("ensure sub-account: %v", err)
	}

	instances := make([]component.Instance, 0, component.TypeCount)
	for _, typ := range component.Types() {
		tpl := newTemplate(t, s, typ, 5)
		inst, err := s.CreateInstance(ctx, component.Instance{TemplateID: tpl.ID, Owner: acct.Address})
		if err != nil {
			t.Fatalf("create instance: %v", err)
		}
		instances = append(instances, inst)
	}

	// One change targets the wrong slot; nothing may apply.
	changes := []storage.EquipChange{
		{Slot: component.TypeBackground, InstanceID: instances[0].ID},
		{Slot: component.TypeHairstyle, InstanceID: instances[1].ID},
		{Slot: component.TypeEyes, InstanceID: instances[3].ID}, // mouth instance in eyes slot
	}
	_, err = s.ApplyEquipSet(ctx, storage.EquipSet{AvatarID: av.ID, OwnerAccount: acct.Address, Changes: changes})
	if !apperr.Is(err, apperr.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}

	got, err := s.GetAvatar(ctx, av.ID)
	if err != nil {
		t.Fatalf("get avatar: %v", err)
	}
	if got.Slots != (avatar.Slots{}) {
		t.Fatalf("slots mutated by failed change-set: %v", got.Slots)
	}
	for _, inst := range instances {
		current, err := s.GetInstance(ctx, inst.ID)
		if err != nil {
			t.Fatalf("get instance: %v", err)
		}
		if current.Equipped {
			t.Fatalf("instance %d equipped by failed change-set", inst.ID)
		}
	}
}

func TestApplyEquipSetSwapsOccupant(t *testing.T) {
	s := New()
	ctx := context.Background()

	av, err := s.CreateAvatar(ctx, avatar.Avatar{Name: "av", Owner: "owner"})
	if err != nil {
		t.Fatalf("create avatar: %v", err)
	}
	acct, _, err := s.EnsureSubAccount(ctx, subaccount.Account{AvatarID: av.ID, Address: "aa02"})
	if err != nil {
		t.Fatalf("ensure sub-account: %v", err)
	}

	tpl := newTemplate(t, s, component.TypeMouth, 5)
	first, err := s.CreateInstance(ctx, component.Instance{TemplateID: tpl.ID, Owner: acct.Address})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := s.CreateInstance(ctx, component.Instance{TemplateID: tpl.ID, Owner: acct.Address})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	set := storage.EquipSet{AvatarID: av.ID, OwnerAccount: acct.Address}
	set.Changes = []storage.EquipChange{{Slot: component.TypeMouth, InstanceID: first.ID}}
	if _, err := s.ApplyEquipSet(ctx, set); err != nil {
		t.Fatalf("equip first: %v", err)
	}

	set.Changes = []storage.EquipChange{{Slot: component.TypeMouth, InstanceID: second.ID}}
	got, err := s.ApplyEquipSet(ctx, set)
	if err != nil {
		t.Fatalf("equip second: %v", err)
	}
	if got.Slots[component.TypeMouth] != second.ID {
		t.Fatalf("slot holds %d, want %d", got.Slots[component.TypeMouth], second.ID)
	}

	prev, err := s.GetInstance(ctx, first.ID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if prev.Equipped {
		t.Fatalf("displaced occupant still equipped")
	}
}

func TestTransferInstanceEquippedGuard(t *testing.T) {
	s := New()
	ctx := context.Background()

	tpl := newTemplate(t, s, component.TypeAccessory, 5)
	inst, err := s.CreateInstance(ctx, component.Instance{TemplateID: tpl.ID, Owner: "holder"})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if _, err := s.SetEquipped(ctx, inst.ID, true); err != nil {
		t.Fatalf("equip: %v", err)
	}

	if _, err := s.TransferInstance(ctx, inst.ID, "other"); !apperr.Is(err, apperr.ErrInstanceEquipped) {
		t.Fatalf("expected ErrInstanceEquipped, got %v", err)
	}

	if _, err := s.SetEquipped(ctx, inst.ID, false); err != nil {
		t.Fatalf("unequip: %v", err)
	}
	moved, err := s.TransferInstance(ctx, inst.ID, "other")
	if err != nil {
		t.Fatalf("transfer after unequip: %v", err)
	}
	if moved.Owner != "other" {
		t.Fatalf("owner not updated: %s", moved.Owner)
	}
}

func TestEnsureSubAccountFirstWriterWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	const goroutines = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, wasCreated, err := s.EnsureSubAccount(ctx, subaccount.Account{AvatarID: 1, Address: "aa03"})
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			if wasCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("created %d times, want exactly 1", created)
	}
}

func TestTransferBalancesAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Credit(ctx, "from", payment.AssetGas, 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := s.Credit(ctx, "from", "NEO", 1); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// Second leg exceeds the balance; the first leg must not apply either.
	err := s.TransferBalances(ctx, "from", "to", []payment.Transfer{
		{Asset: payment.AssetGas, Amount: 50},
		{Asset: "NEO", Amount: 5},
	})
	if !apperr.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	gas, err := s.GetBalance(ctx, "from", payment.AssetGas)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if gas.Available != 100 {
		t.Fatalf("gas balance mutated by failed transfer: %d", gas.Available)
	}
	to, err := s.GetBalance(ctx, "to", payment.AssetGas)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if to.Available != 0 {
		t.Fatalf("recipient credited by failed transfer: %d", to.Available)
	}

	if err := s.TransferBalances(ctx, "from", "to", []payment.Transfer{
		{Asset: payment.AssetGas, Amount: 50},
		{Asset: "NEO", Amount: 1},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	gas, _ = s.GetBalance(ctx, "from", payment.AssetGas)
	if gas.Available != 50 {
		t.Fatalf("gas balance after transfer: %d", gas.Available)
	}
}

func TestListTemplateIDsByTypeInsertionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := newTemplate(t, s, component.TypeHairstyle, 5)
	newTemplate(t, s, component.TypeEyes, 5)
	second := newTemplate(t, s, component.TypeHairstyle, 5)

	ids, err := s.ListTemplateIDsByType(ctx, component.TypeHairstyle)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Fatalf("unexpected id order: %v", ids)
	}
}
