package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/subaccount"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use: all compound operations run under one mutex, which
// linearizes racing mutations on the same record. Primarily intended for
// tests and local development.
type Store struct {
	mu sync.RWMutex

	nextTemplateID uint64
	nextInstanceID uint64
	nextAvatarID   uint64

	templates       map[uint64]component.Template
	templatesByType map[component.Type][]uint64

	instances        map[uint64]component.Instance
	instancesByOwner map[string]map[uint64]struct{}

	avatars map[uint64]avatar.Avatar

	subAccounts map[uint64]subaccount.Account
	approvals   map[uint64]map[string]struct{}
	records     map[uint64][]subaccount.Record

	balances map[string]map[string]payment.Balance
}

var _ storage.TemplateStore = (*Store)(nil)
var _ storage.ComponentStore = (*Store)(nil)
var _ storage.AvatarStore = (*Store)(nil)
var _ storage.SubAccountStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextTemplateID:   1,
		nextInstanceID:   1,
		nextAvatarID:     1,
		templates:        make(map[uint64]component.Template),
		templatesByType:  make(map[component.Type][]uint64),
		instances:        make(map[uint64]component.Instance),
		instancesByOwner: make(map[string]map[uint64]struct{}),
		avatars:          make(map[uint64]avatar.Avatar),
		subAccounts:      make(map[uint64]subaccount.Account),
		approvals:        make(map[uint64]map[string]struct{}),
		records:          make(map[uint64][]subaccount.Record),
		balances:         make(map[string]map[string]payment.Balance),
	}
}

// TemplateStore implementation -----------------------------------------------

func (s *Store) CreateTemplate(_ context.Context, tpl component.Template) (component.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl.ID = s.nextTemplateID
	s.nextTemplateID++

	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	tpl.CurrentSupply = 0
	tpl.Payload = append([]byte(nil), tpl.Payload...)

	s.templates[tpl.ID] = tpl
	s.templatesByType[tpl.Type] = append(s.templatesByType[tpl.Type], tpl.ID)
	return cloneTemplate(tpl), nil
}

func (s *Store) UpdateTemplate(_ context.Context, tpl component.Template) (component.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.templates[tpl.ID]
	if !ok {
		return component.Template{}, fmt.Errorf("template %d: %w", tpl.ID, apperr.ErrTemplateNotFound)
	}

	// Only price and the active flag are mutable after creation.
	original.Price = tpl.Price
	original.Active = tpl.Active
	original.UpdatedAt = time.Now().UTC()

	s.templates[original.ID] = original
	return cloneTemplate(original), nil
}

func (s *Store) GetTemplate(_ context.Context, id uint64) (component.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrTemplateNotFound)
	}
	return cloneTemplate(tpl), nil
}

func (s *Store) ListTemplateIDsByType(_ context.Context, t component.Type) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]uint64(nil), s.templatesByType[t]...), nil
}

func (s *Store) ReserveSupply(_ context.Context, id uint64) (component.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrTemplateNotFound)
	}
	if !tpl.Active {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrTemplateInactive)
	}
	if tpl.CurrentSupply >= tpl.MaxSupply {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrSupplyExhausted)
	}

	tpl.CurrentSupply++
	tpl.UpdatedAt = time.Now().UTC()
	s.templates[id] = tpl
	return cloneTemplate(tpl), nil
}

func (s *Store) ReleaseSupply(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("template %d: %w", id, apperr.ErrTemplateNotFound)
	}
	if tpl.CurrentSupply == 0 {
		return fmt.Errorf("template %d: supply already zero", id)
	}
	tpl.CurrentSupply--
	tpl.UpdatedAt = time.Now().UTC()
	s.templates[id] = tpl
	return nil
}

// ComponentStore implementation ----------------------------------------------

func (s *Store) CreateInstance(_ context.Context, inst component.Instance) (component.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[inst.TemplateID]; !ok {
		return component.Instance{}, fmt.Errorf("template %d: %w", inst.TemplateID, apperr.ErrTemplateNotFound)
	}

	inst.ID = s.nextInstanceID
	s.nextInstanceID++

	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	s.instances[inst.ID] = inst
	s.indexOwnerLocked(inst.Owner, inst.ID)
	return inst, nil
}

func (s *Store) GetInstance(_ context.Context, id uint64) (component.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceNotFound)
	}
	return inst, nil
}

func (s *Store) SetEquipped(_ context.Context, id uint64, equipped bool) (component.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceNotFound)
	}
	if inst.Equipped == equipped {
		if equipped {
			return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrAlreadyEquipped)
		}
		return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrNotEquipped)
	}

	inst.Equipped = equipped
	inst.UpdatedAt = time.Now().UTC()
	s.instances[id] = inst
	return inst, nil
}

func (s *Store) TransferInstance(_ context.Context, id uint64, newOwner string) (component.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceNotFound)
	}
	if inst.Equipped {
		return component.Instance{}, fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceEquipped)
	}

	s.unindexOwnerLocked(inst.Owner, id)
	inst.Owner = newOwner
	inst.UpdatedAt = time.Now().UTC()
	s.instances[id] = inst
	s.indexOwnerLocked(newOwner, id)
	return inst, nil
}

func (s *Store) DeleteInstance(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %d: %w", id, apperr.ErrInstanceNotFound)
	}
	s.unindexOwnerLocked(inst.Owner, id)
	delete(s.instances, id)
	return nil
}

func (s *Store) ListInstancesByOwner(_ context.Context, owner string) ([]component.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.instancesByOwner[owner]))
	for id := range s.instancesByOwner[owner] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]component.Instance, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.instances[id])
	}
	return result, nil
}

func (s *Store) indexOwnerLocked(owner string, id uint64) {
	set, ok := s.instancesByOwner[owner]
	if !ok {
		set = make(map[uint64]struct{})
		s.instancesByOwner[owner] = set
	}
	set[id] = struct{}{}
}

func (s *Store) unindexOwnerLocked(owner string, id uint64) {
	if set, ok := s.instancesByOwner[owner]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.instancesByOwner, owner)
		}
	}
}

// AvatarStore implementation -------------------------------------------------

func (s *Store) CreateAvatar(_ context.Context, av avatar.Avatar) (avatar.Avatar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	av.ID = s.nextAvatarID
	s.nextAvatarID++

	now := time.Now().UTC()
	av.CreatedAt = now
	av.UpdatedAt = now

	s.avatars[av.ID] = av
	return av, nil
}

func (s *Store) GetAvatar(_ context.Context, id uint64) (avatar.Avatar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	av, ok := s.avatars[id]
	if !ok {
		return avatar.Avatar{}, fmt.Errorf("avatar %d: %w", id, apperr.ErrAvatarNotFound)
	}
	return av, nil
}

func (s *Store) UpdateAvatarName(_ context.Context, id uint64, name string) (avatar.Avatar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	av, ok := s.avatars[id]
	if !ok {
		return avatar.Avatar{}, fmt.Errorf("avatar %d: %w", id, apperr.ErrAvatarNotFound)
	}
	av.Name = name
	av.UpdatedAt = time.Now().UTC()
	s.avatars[id] = av
	return av, nil
}

func (s *Store) DeleteAvatar(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.avatars[id]; !ok {
		return fmt.Errorf("avatar %d: %w", id, apperr.ErrAvatarNotFound)
	}
	delete(s.avatars, id)
	return nil
}

func (s *Store) ListAvatars(_ context.Context) ([]avatar.Avatar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.avatars))
	for id := range s.avatars {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]avatar.Avatar, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.avatars[id])
	}
	return result, nil
}

// ApplyEquipSet stages every change against a copy of the avatar's slots and
// commits only when all of them validate, so a failure in change k leaves
// changes 0..k-1 unapplied as well.
func (s *Store) ApplyEquipSet(_ context.Context, set storage.EquipSet) (avatar.Avatar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	av, ok := s.avatars[set.AvatarID]
	if !ok {
		return avatar.Avatar{}, fmt.Errorf("avatar %d: %w", set.AvatarID, apperr.ErrAvatarNotFound)
	}

	slots := av.Slots
	equip := make([]uint64, 0, len(set.Changes))
	unequip := make([]uint64, 0, len(set.Changes))
	staged := make(map[uint64]struct{}, len(set.Changes))

	for _, change := range set.Changes {
		if !change.Slot.Valid() {
			return avatar.Avatar{}, fmt.Errorf("slot %d: %w", change.Slot, apperr.ErrTypeMismatch)
		}

		if change.Clear {
			current := slots[change.Slot]
			if current == 0 {
				return avatar.Avatar{}, fmt.Errorf("slot %s: %w", change.Slot, apperr.ErrSlotEmpty)
			}
			unequip = append(unequip, current)
			slots[change.Slot] = 0
			continue
		}

		inst, ok := s.instances[change.InstanceID]
		if !ok {
			return avatar.Avatar{}, fmt.Errorf("instance %d: %w", change.InstanceID, apperr.ErrInstanceNotFound)
		}
		tpl, ok := s.templates[inst.TemplateID]
		if !ok {
			return avatar.Avatar{}, fmt.Errorf("template %d: %w", inst.TemplateID, apperr.ErrTemplateNotFound)
		}
		if tpl.Type != change.Slot {
			return avatar.Avatar{}, fmt.Errorf("instance %d is %s, slot wants %s: %w",
				inst.ID, tpl.Type, change.Slot, apperr.ErrTypeMismatch)
		}
		if !strings.EqualFold(inst.Owner, set.OwnerAccount) {
			return avatar.Avatar{}, fmt.Errorf("instance %d not held by %s: %w",
				inst.ID, set.OwnerAccount, apperr.ErrNotAuthorized)
		}
		if _, dup := staged[inst.ID]; dup || inst.Equipped {
			return avatar.Avatar{}, fmt.Errorf("instance %d: %w", inst.ID, apperr.ErrAlreadyEquipped)
		}

		if current := slots[change.Slot]; current != 0 {
			unequip = append(unequip, current)
		}
		staged[inst.ID] = struct{}{}
		equip = append(equip, inst.ID)
		slots[change.Slot] = inst.ID
	}

	now := time.Now().UTC()
	for _, id := range unequip {
		inst := s.instances[id]
		inst.Equipped = false
		inst.UpdatedAt = now
		s.instances[id] = inst
	}
	for _, id := range equip {
		inst := s.instances[id]
		inst.Equipped = true
		inst.UpdatedAt = now
		s.instances[id] = inst
	}

	av.Slots = slots
	av.UpdatedAt = now
	s.avatars[av.ID] = av
	return av, nil
}

// SubAccountStore implementation ---------------------------------------------

func (s *Store) EnsureSubAccount(_ context.Context, acct subaccount.Account) (subaccount.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subAccounts[acct.AvatarID]; ok {
		return existing, false, nil
	}

	now := time.Now().UTC()
	acct.Nonce = 0
	acct.UnknownCalls = 0
	acct.CreatedAt = now
	acct.UpdatedAt = now
	s.subAccounts[acct.AvatarID] = acct
	return acct, true, nil
}

func (s *Store) GetSubAccount(_ context.Context, avatarID uint64) (subaccount.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.subAccounts[avatarID]
	if !ok {
		return subaccount.Account{}, fmt.Errorf("sub-account for avatar %d: %w", avatarID, apperr.ErrAccountNotFound)
	}
	return acct, nil
}

func (s *Store) IncrementNonce(_ context.Context, avatarID uint64) (subaccount.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.subAccounts[avatarID]
	if !ok {
		return subaccount.Account{}, fmt.Errorf("sub-account for avatar %d: %w", avatarID, apperr.ErrAccountNotFound)
	}
	acct.Nonce++
	acct.UpdatedAt = time.Now().UTC()
	s.subAccounts[avatarID] = acct
	return acct, nil
}

func (s *Store) IncrementUnknownCalls(_ context.Context, avatarID uint64) (subaccount.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.subAccounts[avatarID]
	if !ok {
		return subaccount.Account{}, fmt.Errorf("sub-account for avatar %d: %w", avatarID, apperr.ErrAccountNotFound)
	}
	acct.UnknownCalls++
	acct.UpdatedAt = time.Now().UTC()
	s.subAccounts[avatarID] = acct
	return acct, nil
}

func (s *Store) AddApproval(_ context.Context, avatarID uint64, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.approvals[avatarID]
	if !ok {
		set = make(map[string]struct{})
		s.approvals[avatarID] = set
	}
	set[strings.ToLower(addr)] = struct{}{}
	return nil
}

func (s *Store) RemoveApproval(_ context.Context, avatarID uint64, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.approvals[avatarID]; ok {
		delete(set, strings.ToLower(addr))
	}
	return nil
}

func (s *Store) ListApprovals(_ context.Context, avatarID uint64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.approvals[avatarID]))
	for addr := range s.approvals[avatarID] {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result, nil
}

func (s *Store) AppendRecord(_ context.Context, rec subaccount.Record) (subaccount.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()
	rec.Data = append([]byte(nil), rec.Data...)

	s.records[rec.AvatarID] = append(s.records[rec.AvatarID], rec)
	return rec, nil
}

func (s *Store) ListRecords(_ context.Context, avatarID uint64) ([]subaccount.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]subaccount.Record(nil), s.records[avatarID]...), nil
}

// BalanceStore implementation ------------------------------------------------

func (s *Store) Credit(_ context.Context, payee, asset string, amount payment.Amount) (payment.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(payee, asset, amount), nil
}

func (s *Store) Debit(_ context.Context, payee, asset string, amount payment.Amount) (payment.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(payee, asset, amount)
}

func (s *Store) GetBalance(_ context.Context, payee, asset string) (payment.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bal, ok := s.balances[payee][asset]; ok {
		return bal, nil
	}
	return payment.Balance{Payee: payee, Asset: asset}, nil
}

func (s *Store) ListBalances(_ context.Context) ([]payment.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.Balance
	for _, assets := range s.balances {
		for _, bal := range assets {
			result = append(result, bal)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Payee != result[j].Payee {
			return result[i].Payee < result[j].Payee
		}
		return result[i].Asset < result[j].Asset
	})
	return result, nil
}

func (s *Store) TransferBalances(_ context.Context, from, to string, transfers []payment.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every leg before applying any of them.
	needed := make(map[string]payment.Amount, len(transfers))
	for _, tr := range transfers {
		if tr.Amount <= 0 {
			return fmt.Errorf("transfer amount must be positive")
		}
		needed[tr.Asset] += tr.Amount
	}
	for asset, total := range needed {
		if s.balances[from][asset].Available < total {
			return fmt.Errorf("payee %s asset %s: %w", from, asset, apperr.ErrInsufficientBalance)
		}
	}

	for _, tr := range transfers {
		if _, err := s.debitLocked(from, tr.Asset, tr.Amount); err != nil {
			return err
		}
		s.creditLocked(to, tr.Asset, tr.Amount)
	}
	return nil
}

func (s *Store) creditLocked(payee, asset string, amount payment.Amount) payment.Balance {
	assets, ok := s.balances[payee]
	if !ok {
		assets = make(map[string]payment.Balance)
		s.balances[payee] = assets
	}
	bal := assets[asset]
	bal.Payee = payee
	bal.Asset = asset
	bal.Available += amount
	bal.UpdatedAt = time.Now().UTC()
	assets[asset] = bal
	return bal
}

func (s *Store) debitLocked(payee, asset string, amount payment.Amount) (payment.Balance, error) {
	bal, ok := s.balances[payee][asset]
	if !ok || bal.Available < amount {
		return payment.Balance{}, fmt.Errorf("payee %s asset %s: %w", payee, asset, apperr.ErrInsufficientBalance)
	}
	bal.Available -= amount
	bal.UpdatedAt = time.Now().UTC()
	s.balances[payee][asset] = bal
	return bal, nil
}

// Helpers --------------------------------------------------------------------

func cloneTemplate(tpl component.Template) component.Template {
	tpl.Payload = append([]byte(nil), tpl.Payload...)
	return tpl
}
