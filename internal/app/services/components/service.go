// Package components implements the component instance ledger: minting from
// templates, ownership transfer and the equip flag state machine.
package components

import (
	"context"
	"fmt"
	"strings"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/metrics"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
)

// Service manages minted component instances.
type Service struct {
	templates storage.TemplateStore
	store     storage.ComponentStore
	balances  storage.BalanceStore
	log       *logger.Logger

	royaltyPercent int
	systemOwner    string
}

// New constructs a component ledger service. royaltyPercent is the registry
// wide creator royalty applied to every paid mint.
func New(templates storage.TemplateStore, store storage.ComponentStore, balances storage.BalanceStore, royaltyPercent int, systemOwner string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("components")
	}
	return &Service{
		templates:      templates,
		store:          store,
		balances:       balances,
		log:            log,
		royaltyPercent: royaltyPercent,
		systemOwner:    systemOwner,
	}
}

// Mint creates one instance from an active template with remaining supply.
// paid must cover the template price; the price is split between the system
// owner and the template creator, and any overage accrues to the system
// owner. The instance starts unequipped, owned by toAccount.
func (s *Service) Mint(ctx context.Context, templateID uint64, toAccount string, paid payment.Amount) (component.Instance, error) {
	toAccount = strings.TrimSpace(toAccount)
	if toAccount == "" {
		return component.Instance{}, fmt.Errorf("target account is required")
	}

	tpl, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return component.Instance{}, err
	}
	if paid < tpl.Price {
		return component.Instance{}, fmt.Errorf("template %d price is %d, paid %d: %w",
			templateID, tpl.Price, paid, apperr.ErrInsufficientPayment)
	}

	// The reservation re-checks active and remaining supply atomically, so a
	// concurrent burst of mints can never push past the cap.
	tpl, err = s.templates.ReserveSupply(ctx, templateID)
	if err != nil {
		metrics.RecordMint("component", false)
		return component.Instance{}, err
	}

	inst, err := s.store.CreateInstance(ctx, component.Instance{
		TemplateID: templateID,
		Owner:      toAccount,
		Equipped:   false,
	})
	if err != nil {
		if relErr := s.templates.ReleaseSupply(ctx, templateID); relErr != nil {
			s.log.WithError(relErr).WithField("template_id", templateID).Error("supply rollback failed")
		}
		metrics.RecordMint("component", false)
		return component.Instance{}, err
	}

	s.settleMintPayment(ctx, tpl, paid)
	metrics.RecordMint("component", true)

	s.log.WithField("instance_id", inst.ID).
		WithField("template_id", templateID).
		WithField("owner", toAccount).
		Info("component minted")
	return inst, nil
}

func (s *Service) settleMintPayment(ctx context.Context, tpl component.Template, paid payment.Amount) {
	ownerShare, creatorShare := payment.Split(tpl.Price, s.royaltyPercent)
	ownerShare += paid - tpl.Price // overage accrues to the system owner

	if creatorShare > 0 {
		if _, err := s.balances.Credit(ctx, tpl.Creator, payment.AssetGas, creatorShare); err != nil {
			s.log.WithError(err).WithField("template_id", tpl.ID).Warn("crediting creator royalty failed")
		}
	}
	if ownerShare > 0 {
		if _, err := s.balances.Credit(ctx, s.systemOwner, payment.AssetGas, ownerShare); err != nil {
			s.log.WithError(err).WithField("template_id", tpl.ID).Warn("crediting owner share failed")
		}
	}
}

// SetEquipped flips an instance's equipped flag. System-internal: only the
// avatar ledger may call this; it is never exposed on the HTTP surface.
func (s *Service) SetEquipped(ctx context.Context, instanceID uint64, equipped bool) (component.Instance, error) {
	return s.store.SetEquipped(ctx, instanceID, equipped)
}

// Transfer reassigns ownership of an unequipped instance. The caller must be
// the current owner; equipped instances cannot be transferred, which keeps an
// equipped asset from silently losing its backing ownership.
func (s *Service) Transfer(ctx context.Context, caller string, instanceID uint64, newOwner string) (component.Instance, error) {
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return component.Instance{}, fmt.Errorf("new owner is required")
	}

	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return component.Instance{}, err
	}
	if !strings.EqualFold(inst.Owner, strings.TrimSpace(caller)) {
		return component.Instance{}, fmt.Errorf("instance %d: %w", instanceID, apperr.ErrNotAuthorized)
	}

	transferred, err := s.store.TransferInstance(ctx, instanceID, newOwner)
	if err != nil {
		return component.Instance{}, err
	}

	s.log.WithField("instance_id", instanceID).
		WithField("new_owner", newOwner).
		Info("component transferred")
	return transferred, nil
}

// Get retrieves an instance by id.
func (s *Service) Get(ctx context.Context, instanceID uint64) (component.Instance, error) {
	return s.store.GetInstance(ctx, instanceID)
}

// IsEquipped reports whether the instance is currently equipped.
func (s *Service) IsEquipped(ctx context.Context, instanceID uint64) (bool, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	return inst.Equipped, nil
}

// OwnerOf returns the instance's current owner account.
func (s *Service) OwnerOf(ctx context.Context, instanceID uint64) (string, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return inst.Owner, nil
}

// ListByOwner returns every instance held by the account.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]component.Instance, error) {
	return s.store.ListInstancesByOwner(ctx, owner)
}
