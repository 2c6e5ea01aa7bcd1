// Package avatars implements the avatar ledger: composite tokens that bind
// one component instance per slot, minted in a single all-or-nothing
// operation and mutated through staged equip change-sets.
package avatars

import (
	"context"
	"fmt"
	"strings"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/metrics"
	"github.com/NeoAvatars/avatar_layer/internal/app/services/subaccounts"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
)

// Service manages avatars and their slot assignments.
type Service struct {
	templates  storage.TemplateStore
	components storage.ComponentStore
	store      storage.AvatarStore
	balances   storage.BalanceStore
	subs       *subaccounts.Service
	log        *logger.Logger

	mintFee        payment.Amount
	royaltyPercent int
	systemOwner    string
}

// New constructs the avatar ledger service. mintFee is the flat fee charged on
// top of the five template prices; royaltyPercent is the same registry-wide
// creator royalty the component ledger applies.
func New(templates storage.TemplateStore, components storage.ComponentStore, store storage.AvatarStore, balances storage.BalanceStore, subs *subaccounts.Service, mintFee payment.Amount, royaltyPercent int, systemOwner string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("avatars")
	}
	return &Service{
		templates:      templates,
		components:     components,
		store:          store,
		balances:       balances,
		subs:           subs,
		log:            log,
		mintFee:        mintFee,
		royaltyPercent: royaltyPercent,
		systemOwner:    systemOwner,
	}
}

// QuoteMint returns the exact payment Mint requires for the given templates:
// the sum of the five template prices plus the flat mint fee. Mint rejects
// any other amount, including overpayment.
func (s *Service) QuoteMint(ctx context.Context, templateIDs [component.TypeCount]uint64) (payment.Amount, error) {
	total := s.mintFee
	for slot, id := range templateIDs {
		tpl, err := s.templates.GetTemplate(ctx, id)
		if err != nil {
			return 0, err
		}
		if tpl.Type != component.Type(slot) {
			return 0, fmt.Errorf("template %d is %s, slot wants %s: %w",
				id, tpl.Type, component.Type(slot), apperr.ErrTypeMismatch)
		}
		total += tpl.Price
	}
	return total, nil
}

// Mint creates a complete avatar in one operation: five fresh component
// instances (one per slot, owned by the avatar's sub-account) equipped onto a
// new avatar. Either the whole composite comes into existence or none of it
// does. paid must equal the quoted total exactly.
func (s *Service) Mint(ctx context.Context, owner, name string, templateIDs [component.TypeCount]uint64, paid payment.Amount) (avatar.Avatar, error) {
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if owner == "" {
		return avatar.Avatar{}, fmt.Errorf("owner is required")
	}
	if name == "" {
		return avatar.Avatar{}, fmt.Errorf("name is required")
	}
	if len(name) > avatar.MaxNameLength {
		return avatar.Avatar{}, fmt.Errorf("name is %d characters, limit %d: %w",
			len(name), avatar.MaxNameLength, apperr.ErrNameTooLong)
	}

	tpls := make([]component.Template, component.TypeCount)
	total := s.mintFee
	for slot, id := range templateIDs {
		tpl, err := s.templates.GetTemplate(ctx, id)
		if err != nil {
			return avatar.Avatar{}, err
		}
		if tpl.Type != component.Type(slot) {
			return avatar.Avatar{}, fmt.Errorf("template %d is %s, slot wants %s: %w",
				id, tpl.Type, component.Type(slot), apperr.ErrTypeMismatch)
		}
		tpls[slot] = tpl
		total += tpl.Price
	}
	if paid != total {
		return avatar.Avatar{}, fmt.Errorf("mint costs exactly %d, paid %d: %w",
			total, paid, apperr.ErrIncorrectPayment)
	}

	// Reserve supply on all five templates before creating anything. Each
	// reservation is atomic, so concurrent mints race fairly per template;
	// on failure the ones already taken are handed back.
	reserved := make([]uint64, 0, component.TypeCount)
	fail := func(err error) (avatar.Avatar, error) {
		for _, id := range reserved {
			if relErr := s.templates.ReleaseSupply(ctx, id); relErr != nil {
				s.log.WithError(relErr).WithField("template_id", id).Error("supply rollback failed")
			}
		}
		metrics.RecordMint("avatar", false)
		return avatar.Avatar{}, err
	}
	for _, id := range templateIDs {
		if _, err := s.templates.ReserveSupply(ctx, id); err != nil {
			return fail(err)
		}
		reserved = append(reserved, id)
	}

	av, err := s.store.CreateAvatar(ctx, avatar.Avatar{Name: name, Owner: owner})
	if err != nil {
		return fail(err)
	}

	acct, err := s.subs.EnsureAccount(ctx, av.ID)
	if err != nil {
		if delErr := s.store.DeleteAvatar(ctx, av.ID); delErr != nil {
			s.log.WithError(delErr).WithField("avatar_id", av.ID).Error("avatar rollback failed")
		}
		return fail(err)
	}

	// The sub-account holds the components, not the human owner. That keeps
	// equipped assets custodied with the avatar they are part of.
	instances := make([]uint64, 0, component.TypeCount)
	changes := make([]storage.EquipChange, 0, component.TypeCount)
	cleanup := func(err error) (avatar.Avatar, error) {
		for _, instID := range instances {
			if delErr := s.components.DeleteInstance(ctx, instID); delErr != nil {
				s.log.WithError(delErr).WithField("instance_id", instID).Error("instance rollback failed")
			}
		}
		if delErr := s.store.DeleteAvatar(ctx, av.ID); delErr != nil {
			s.log.WithError(delErr).WithField("avatar_id", av.ID).Error("avatar rollback failed")
		}
		return fail(err)
	}
	for slot, id := range templateIDs {
		inst, err := s.components.CreateInstance(ctx, component.Instance{
			TemplateID: id,
			Owner:      acct.Address,
			Equipped:   false,
		})
		if err != nil {
			return cleanup(err)
		}
		instances = append(instances, inst.ID)
		changes = append(changes, storage.EquipChange{
			Slot:       component.Type(slot),
			InstanceID: inst.ID,
		})
	}

	av, err = s.store.ApplyEquipSet(ctx, storage.EquipSet{
		AvatarID:     av.ID,
		OwnerAccount: acct.Address,
		Changes:      changes,
	})
	if err != nil {
		return cleanup(err)
	}

	s.settleMintPayment(ctx, tpls)
	metrics.RecordMint("avatar", true)

	s.log.WithField("avatar_id", av.ID).
		WithField("owner", owner).
		WithField("sub_account", acct.Address).
		Info("avatar minted")
	return av, nil
}

func (s *Service) settleMintPayment(ctx context.Context, tpls []component.Template) {
	ownerShare := s.mintFee
	for _, tpl := range tpls {
		tplOwnerShare, creatorShare := payment.Split(tpl.Price, s.royaltyPercent)
		ownerShare += tplOwnerShare
		if creatorShare > 0 {
			if _, err := s.balances.Credit(ctx, tpl.Creator, payment.AssetGas, creatorShare); err != nil {
				s.log.WithError(err).WithField("template_id", tpl.ID).Warn("crediting creator royalty failed")
			}
		}
	}
	if ownerShare > 0 {
		if _, err := s.balances.Credit(ctx, s.systemOwner, payment.AssetGas, ownerShare); err != nil {
			s.log.WithError(err).Warn("crediting owner share failed")
		}
	}
}

// Equip assigns an instance into its template's slot. The caller must be
// authorized for the avatar and the instance must be owned by the avatar's
// sub-account. An occupied slot auto-unequips its current occupant first.
func (s *Service) Equip(ctx context.Context, avatarID uint64, caller string, instanceID uint64) (avatar.Avatar, error) {
	inst, err := s.components.GetInstance(ctx, instanceID)
	if err != nil {
		return avatar.Avatar{}, err
	}
	tpl, err := s.templates.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return avatar.Avatar{}, err
	}
	return s.ChangeComponents(ctx, avatarID, caller, []storage.EquipChange{
		{Slot: tpl.Type, InstanceID: instanceID},
	})
}

// Unequip clears a slot, leaving the instance owned but idle.
func (s *Service) Unequip(ctx context.Context, avatarID uint64, caller string, slot component.Type) (avatar.Avatar, error) {
	return s.ChangeComponents(ctx, avatarID, caller, []storage.EquipChange{
		{Slot: slot, Clear: true},
	})
}

// ChangeComponents applies a multi-slot change-set atomically: every change
// is validated against current state before any takes effect, so one bad
// entry leaves all five slots exactly as they were.
func (s *Service) ChangeComponents(ctx context.Context, avatarID uint64, caller string, changes []storage.EquipChange) (avatar.Avatar, error) {
	if len(changes) == 0 {
		return avatar.Avatar{}, fmt.Errorf("at least one change is required")
	}

	ok, err := s.subs.IsAuthorized(ctx, avatarID, caller)
	if err != nil {
		return avatar.Avatar{}, err
	}
	if !ok {
		return avatar.Avatar{}, fmt.Errorf("avatar %d caller %s: %w", avatarID, caller, apperr.ErrNotAuthorized)
	}

	acct, err := s.subs.EnsureAccount(ctx, avatarID)
	if err != nil {
		return avatar.Avatar{}, err
	}

	av, err := s.store.ApplyEquipSet(ctx, storage.EquipSet{
		AvatarID:     avatarID,
		OwnerAccount: acct.Address,
		Changes:      changes,
	})
	if err != nil {
		metrics.RecordEquipChange(false)
		return avatar.Avatar{}, err
	}
	metrics.RecordEquipChange(true)

	s.log.WithField("avatar_id", avatarID).
		WithField("changes", len(changes)).
		Info("avatar components changed")
	return av, nil
}

// Rename changes the avatar's display name. Owner only.
func (s *Service) Rename(ctx context.Context, avatarID uint64, caller, name string) (avatar.Avatar, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return avatar.Avatar{}, fmt.Errorf("name is required")
	}
	if len(name) > avatar.MaxNameLength {
		return avatar.Avatar{}, fmt.Errorf("name is %d characters, limit %d: %w",
			len(name), avatar.MaxNameLength, apperr.ErrNameTooLong)
	}

	av, err := s.store.GetAvatar(ctx, avatarID)
	if err != nil {
		return avatar.Avatar{}, err
	}
	if !strings.EqualFold(av.Owner, strings.TrimSpace(caller)) {
		return avatar.Avatar{}, fmt.Errorf("avatar %d: %w", avatarID, apperr.ErrNotAuthorized)
	}

	renamed, err := s.store.UpdateAvatarName(ctx, avatarID, name)
	if err != nil {
		return avatar.Avatar{}, err
	}
	s.log.WithField("avatar_id", avatarID).WithField("name", name).Info("avatar renamed")
	return renamed, nil
}

// Get retrieves an avatar by id.
func (s *Service) Get(ctx context.Context, avatarID uint64) (avatar.Avatar, error) {
	return s.store.GetAvatar(ctx, avatarID)
}

// List returns every avatar in id order.
func (s *Service) List(ctx context.Context) ([]avatar.Avatar, error) {
	return s.store.ListAvatars(ctx)
}

// Components resolves the avatar's current slot assignments to instances.
// Empty slots come back as zero-value entries with Present=false.
func (s *Service) Components(ctx context.Context, avatarID uint64) (avatar.Avatar, [component.TypeCount]SlotView, error) {
	av, err := s.store.GetAvatar(ctx, avatarID)
	if err != nil {
		return avatar.Avatar{}, [component.TypeCount]SlotView{}, err
	}

	var views [component.TypeCount]SlotView
	for slot, instID := range av.Slots {
		views[slot].Slot = component.Type(slot)
		if instID == 0 {
			continue
		}
		inst, err := s.components.GetInstance(ctx, instID)
		if err != nil {
			return avatar.Avatar{}, [component.TypeCount]SlotView{}, err
		}
		tpl, err := s.templates.GetTemplate(ctx, inst.TemplateID)
		if err != nil {
			return avatar.Avatar{}, [component.TypeCount]SlotView{}, err
		}
		views[slot].Present = true
		views[slot].Instance = inst
		views[slot].Template = tpl
	}
	return av, views, nil
}

// SlotView is one resolved slot of an avatar.
type SlotView struct {
	Slot     component.Type
	Present  bool
	Instance component.Instance
	Template component.Template
}
