// Package templates implements the component template registry: reusable,
// creator-owned blueprints that component instances are minted from.
package templates

import (
	"context"
	"fmt"
	"strings"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
)

// Service manages the template registry.
type Service struct {
	store    storage.TemplateStore
	balances storage.BalanceStore
	log      *logger.Logger

	creationFee payment.Amount
	systemOwner string
}

// New constructs a template registry service. creationFee is charged on every
// createTemplate call and accrues to systemOwner's balance.
func New(store storage.TemplateStore, balances storage.BalanceStore, creationFee payment.Amount, systemOwner string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("templates")
	}
	return &Service{
		store:       store,
		balances:    balances,
		log:         log,
		creationFee: creationFee,
		systemOwner: systemOwner,
	}
}

// Create registers a new template. paid is the settled payment delivered with
// the call; it must cover the flat creation fee and accrues in full to the
// system owner.
func (s *Service) Create(ctx context.Context, caller, name string, t component.Type, maxSupply uint64, price payment.Amount, payload []byte, active bool) (component.Template, error) {
	return s.CreatePaid(ctx, caller, name, t, maxSupply, price, payload, active, s.creationFee)
}

// CreatePaid is Create with an explicit payment amount.
func (s *Service) CreatePaid(ctx context.Context, caller, name string, t component.Type, maxSupply uint64, price payment.Amount, payload []byte, active bool, paid payment.Amount) (component.Template, error) {
	caller = strings.TrimSpace(caller)
	name = strings.TrimSpace(name)

	if caller == "" {
		return component.Template{}, fmt.Errorf("creator is required")
	}
	if name == "" {
		return component.Template{}, fmt.Errorf("name is required")
	}
	if !t.Valid() {
		return component.Template{}, fmt.Errorf("component type %d: %w", t, apperr.ErrTypeMismatch)
	}
	if maxSupply == 0 {
		return component.Template{}, fmt.Errorf("template %q: %w", name, apperr.ErrInvalidSupply)
	}
	if len(payload) == 0 {
		return component.Template{}, fmt.Errorf("template %q: %w", name, apperr.ErrInvalidPayload)
	}
	if price < 0 {
		return component.Template{}, fmt.Errorf("price must not be negative")
	}
	if paid < s.creationFee {
		return component.Template{}, fmt.Errorf("creation fee is %d: %w", s.creationFee, apperr.ErrInsufficientPayment)
	}

	created, err := s.store.CreateTemplate(ctx, component.Template{
		Name:      name,
		Creator:   caller,
		Type:      t,
		MaxSupply: maxSupply,
		Price:     price,
		Payload:   payload,
		Active:    active,
	})
	if err != nil {
		return component.Template{}, err
	}

	if paid > 0 {
		if _, err := s.balances.Credit(ctx, s.systemOwner, payment.AssetGas, paid); err != nil {
			s.log.WithError(err).WithField("template_id", created.ID).Warn("crediting creation fee failed")
		}
	}

	s.log.WithField("template_id", created.ID).
		WithField("type", created.Type.String()).
		WithField("creator", created.Creator).
		Info("template created")
	return created, nil
}

// UpdatePrice changes a template's mint price. Creator only.
func (s *Service) UpdatePrice(ctx context.Context, caller string, id uint64, newPrice payment.Amount) (component.Template, error) {
	if newPrice < 0 {
		return component.Template{}, fmt.Errorf("price must not be negative")
	}

	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return component.Template{}, err
	}
	if !strings.EqualFold(tpl.Creator, strings.TrimSpace(caller)) {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrNotCreator)
	}

	tpl.Price = newPrice
	updated, err := s.store.UpdateTemplate(ctx, tpl)
	if err != nil {
		return component.Template{}, err
	}
	s.log.WithField("template_id", id).WithField("price", newPrice).Info("template price updated")
	return updated, nil
}

// SetActive toggles whether a template can mint. Creator only. Deactivation
// does not affect already-minted instances.
func (s *Service) SetActive(ctx context.Context, caller string, id uint64, active bool) (component.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return component.Template{}, err
	}
	if !strings.EqualFold(tpl.Creator, strings.TrimSpace(caller)) {
		return component.Template{}, fmt.Errorf("template %d: %w", id, apperr.ErrNotCreator)
	}

	tpl.Active = active
	updated, err := s.store.UpdateTemplate(ctx, tpl)
	if err != nil {
		return component.Template{}, err
	}
	s.log.WithField("template_id", id).WithField("active", active).Info("template active flag updated")
	return updated, nil
}

// Get retrieves a template by id.
func (s *Service) Get(ctx context.Context, id uint64) (component.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// ListByType returns the ids of all templates of the given type in insertion
// order. The result is a snapshot; calling again restarts the read.
func (s *Service) ListByType(ctx context.Context, t component.Type) ([]uint64, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("component type %d: %w", t, apperr.ErrTypeMismatch)
	}
	return s.store.ListTemplateIDsByType(ctx, t)
}

// CreationFee returns the flat fee charged per createTemplate call.
func (s *Service) CreationFee() payment.Amount { return s.creationFee }
