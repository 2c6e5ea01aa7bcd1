// Package storage defines the persistence interfaces for the four logical
// tables (templates, component instances, avatars, sub-accounts) plus the
// per-payee balance ledger. Compound operations that must be serializable per
// record (supply reservation, equip change-sets, batched transfers) live on
// the store so every backend can linearize them internally.
package storage

import (
	"context"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/subaccount"
)

// TemplateStore persists component templates and the templatesByType index.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl component.Template) (component.Template, error)
	UpdateTemplate(ctx context.Context, tpl component.Template) (component.Template, error)
	GetTemplate(ctx context.Context, id uint64) (component.Template, error)
	// ListTemplateIDsByType returns template ids of the given type in
	// insertion order. The slice is a snapshot; re-calling restarts the read.
	ListTemplateIDsByType(ctx context.Context, t component.Type) ([]uint64, error)

	// ReserveSupply atomically checks Active and CurrentSupply < MaxSupply,
	// then increments CurrentSupply. Concurrent reservations on one template
	// are linearized; at most MaxSupply ever succeed.
	ReserveSupply(ctx context.Context, id uint64) (component.Template, error)
	// ReleaseSupply decrements CurrentSupply, compensating a reservation
	// whose enclosing multi-step operation failed.
	ReleaseSupply(ctx context.Context, id uint64) error
}

// ComponentStore persists minted instances and the instancesByOwner index.
type ComponentStore interface {
	CreateInstance(ctx context.Context, inst component.Instance) (component.Instance, error)
	GetInstance(ctx context.Context, id uint64) (component.Instance, error)
	// SetEquipped flips the equipped flag, failing on double-equip and
	// double-unequip.
	SetEquipped(ctx context.Context, id uint64, equipped bool) (component.Instance, error)
	// TransferInstance reassigns ownership; fails while the instance is
	// equipped.
	TransferInstance(ctx context.Context, id uint64, newOwner string) (component.Instance, error)
	ListInstancesByOwner(ctx context.Context, owner string) ([]component.Instance, error)
	// DeleteInstance removes an instance outright. Only used to compensate a
	// failed multi-step mint; instances otherwise live indefinitely.
	DeleteInstance(ctx context.Context, id uint64) error
}

// EquipChange stages one slot mutation. InstanceID is the instance to equip;
// Clear unequips whatever occupies the slot instead.
type EquipChange struct {
	Slot       component.Type
	InstanceID uint64
	Clear      bool
}

// EquipSet is a staged, all-or-nothing multi-slot mutation for one avatar.
// OwnerAccount is the avatar's sub-account address every equipped instance
// must be owned by.
type EquipSet struct {
	AvatarID     uint64
	OwnerAccount string
	Changes      []EquipChange
}

// AvatarStore persists avatars and applies staged equip change-sets.
type AvatarStore interface {
	CreateAvatar(ctx context.Context, av avatar.Avatar) (avatar.Avatar, error)
	GetAvatar(ctx context.Context, id uint64) (avatar.Avatar, error)
	UpdateAvatarName(ctx context.Context, id uint64, name string) (avatar.Avatar, error)
	ListAvatars(ctx context.Context) ([]avatar.Avatar, error)
	// DeleteAvatar removes an avatar outright. Only used to compensate a
	// failed multi-step mint.
	DeleteAvatar(ctx context.Context, id uint64) error

	// ApplyEquipSet validates every change against current state (instance
	// exists, owned by OwnerAccount, template type matches the slot, not
	// already equipped; Clear requires an occupied slot) and then applies
	// all of them, updating instance flags and avatar slots together.
	// A failure in any change leaves every slot and flag untouched.
	ApplyEquipSet(ctx context.Context, set EquipSet) (avatar.Avatar, error)
}

// SubAccountStore persists sub-accounts keyed by avatar id, their approval
// sets and their audit records.
type SubAccountStore interface {
	// EnsureSubAccount creates the account if absent. First writer wins;
	// later callers observe the existing account (created=false).
	EnsureSubAccount(ctx context.Context, acct subaccount.Account) (out subaccount.Account, created bool, err error)
	GetSubAccount(ctx context.Context, avatarID uint64) (subaccount.Account, error)
	IncrementNonce(ctx context.Context, avatarID uint64) (subaccount.Account, error)
	IncrementUnknownCalls(ctx context.Context, avatarID uint64) (subaccount.Account, error)

	AddApproval(ctx context.Context, avatarID uint64, addr string) error
	RemoveApproval(ctx context.Context, avatarID uint64, addr string) error
	ListApprovals(ctx context.Context, avatarID uint64) ([]string, error)

	AppendRecord(ctx context.Context, rec subaccount.Record) (subaccount.Record, error)
	ListRecords(ctx context.Context, avatarID uint64) ([]subaccount.Record, error)
}

// BalanceStore keeps per-payee running accruals, keyed by (payee, asset).
type BalanceStore interface {
	Credit(ctx context.Context, payee, asset string, amount payment.Amount) (payment.Balance, error)
	// Debit fails with ErrInsufficientBalance when the accrual does not
	// cover the amount.
	Debit(ctx context.Context, payee, asset string, amount payment.Amount) (payment.Balance, error)
	GetBalance(ctx context.Context, payee, asset string) (payment.Balance, error)
	ListBalances(ctx context.Context) ([]payment.Balance, error)

	// TransferBalances applies all transfers from one payee to another
	// atomically; if any leg fails none apply.
	TransferBalances(ctx context.Context, from, to string, transfers []payment.Transfer) error
}
