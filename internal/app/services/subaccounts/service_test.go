package subaccounts

import (
	"context"
	"strings"
	"testing"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/subaccount"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage/memory"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
)

func newService(t *testing.T) (*Service, *memory.Store, avatar.Avatar) {
	t.Helper()
	store := memory.New()
	av, err := store.CreateAvatar(context.Background(), avatar.Avatar{Name: "av", Owner: "owner"})
	if err != nil {
		t.Fatalf("create avatar: %v", err)
	}
	return New(store, store, store, "impl-v1", "salt", nil), store, av
}

func TestDeriveAddressDeterministic(t *testing.T) {
	svc, _, av := newService(t)

	before := svc.DeriveAddress(av.ID)
	if !strings.HasPrefix(before, "aa") {
		t.Fatalf("address missing prefix: %s", before)
	}
	if len(before) != 2+40 {
		t.Fatalf("unexpected address length: %d", len(before))
	}

	acct, err := svc.EnsureAccount(context.Background(), av.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if acct.Address != before {
		t.Fatalf("materialized address %s differs from derived %s", acct.Address, before)
	}
	if after := svc.DeriveAddress(av.ID); after != before {
		t.Fatalf("derivation not stable: %s vs %s", after, before)
	}

	if other := svc.DeriveAddress(av.ID + 1); other == before {
		t.Fatalf("distinct avatars derived the same address")
	}
}

func TestDeriveAddressDependsOnIdentityAndSalt(t *testing.T) {
	store := memory.New()
	a := New(store, store, store, "impl-v1", "salt", nil)
	b := New(store, store, store, "impl-v2", "salt", nil)
	c := New(store, store, store, "impl-v1", "other", nil)

	if a.DeriveAddress(7) == b.DeriveAddress(7) {
		t.Fatalf("identity change did not change address")
	}
	if a.DeriveAddress(7) == c.DeriveAddress(7) {
		t.Fatalf("salt change did not change address")
	}
}

func TestEnsureAccountIdempotent(t *testing.T) {
	svc, _, av := newService(t)
	ctx := context.Background()

	first, err := svc.EnsureAccount(ctx, av.ID)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := svc.EnsureAccount(ctx, av.ID)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.Address != second.Address || first.CreatedAt != second.CreatedAt {
		t.Fatalf("ensure not idempotent: %+v vs %+v", first, second)
	}
}

func TestApprovalsGateActions(t *testing.T) {
	svc, _, av := newService(t)
	ctx := context.Background()

	if _, _, err := svc.ExecuteCall(ctx, av.ID, "friend", "target", 0, nil); !apperr.Is(err, apperr.ErrNotAuthorized) {
		t.Fatalf("unapproved call: got %v", err)
	}

	if err := svc.Approve(ctx, av.ID, "friend", "friend"); !apperr.Is(err, apperr.ErrNotAuthorized) {
		t.Fatalf("self-approval by non-owner: got %v", err)
	}
	if err := svc.Approve(ctx, av.ID, "owner", "Friend"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, _, err := svc.ExecuteCall(ctx, av.ID, "friend", "target", 0, nil); err != nil {
		t.Fatalf("approved call: %v", err)
	}

	if err := svc.Revoke(ctx, av.ID, "owner", "friend"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := svc.ExecuteCall(ctx, av.ID, "friend", "target", 0, nil); !apperr.Is(err, apperr.ErrNotAuthorized) {
		t.Fatalf("revoked call: got %v", err)
	}
}

func TestExecuteCallNonceAndRecord(t *testing.T) {
	svc, store, av := newService(t)
	ctx := context.Background()

	rec, _, err := svc.ExecuteCall(ctx, av.ID, "owner", "0xtarget", 5, []byte("payload"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.Kind != subaccount.RecordTransactionExecuted {
		t.Fatalf("record kind: %s", rec.Kind)
	}
	if _, _, err := svc.ExecuteCall(ctx, av.ID, "owner", "0xtarget", 0, nil); err != nil {
		t.Fatalf("second execute: %v", err)
	}

	acct, err := store.GetSubAccount(ctx, av.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.Nonce != 2 {
		t.Fatalf("nonce: got %d, want 2", acct.Nonce)
	}

	records, err := svc.Records(ctx, av.ID)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}
	if records[0].Target != "0xtarget" || records[0].Value != 5 {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
}

func TestTransferAssetBatchAtomic(t *testing.T) {
	svc, store, av := newService(t)
	ctx := context.Background()

	acct, err := svc.EnsureAccount(ctx, av.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := store.Credit(ctx, acct.Address, payment.AssetGas, 100); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, err = svc.TransferAssetBatch(ctx, av.ID, "owner", "dest", []payment.Transfer{
		{Asset: payment.AssetGas, Amount: 60},
		{Asset: payment.AssetGas, Amount: 60},
	})
	if !apperr.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("overdraw batch: got %v", err)
	}
	bal, _ := store.GetBalance(ctx, acct.Address, payment.AssetGas)
	if bal.Available != 100 {
		t.Fatalf("balance mutated by failed batch: %d", bal.Available)
	}

	rec, err := svc.TransferAsset(ctx, av.ID, "owner", payment.AssetGas, "dest", 40)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rec.Kind != subaccount.RecordAssetTransferred || rec.Value != 40 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	dest, _ := store.GetBalance(ctx, "dest", payment.AssetGas)
	if dest.Available != 40 {
		t.Fatalf("recipient balance: %d", dest.Available)
	}
}

func TestHandleUnknownCall(t *testing.T) {
	svc, store, av := newService(t)
	ctx := context.Background()

	if _, err := svc.HandleUnknownCall(ctx, av.ID, "stranger", []byte("data")); !apperr.Is(err, apperr.ErrNotAuthorized) {
		t.Fatalf("unknown call by stranger: got %v", err)
	}

	rec, err := svc.HandleUnknownCall(ctx, av.ID, "owner", []byte("data"))
	if err != nil {
		t.Fatalf("unknown call: %v", err)
	}
	if rec.Kind != subaccount.RecordUnknownCallReceived {
		t.Fatalf("record kind: %s", rec.Kind)
	}

	acct, err := store.GetSubAccount(ctx, av.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.UnknownCalls != 1 {
		t.Fatalf("unknown call counter: %d", acct.UnknownCalls)
	}
	if acct.Nonce != 0 {
		t.Fatalf("unknown call must not consume a nonce: %d", acct.Nonce)
	}
}
