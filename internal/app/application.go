package app

import (
	"context"
	"fmt"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	avatarsvc "github.com/NeoAvatars/avatar_layer/internal/app/services/avatars"
	balancesvc "github.com/NeoAvatars/avatar_layer/internal/app/services/balances"
	componentsvc "github.com/NeoAvatars/avatar_layer/internal/app/services/components"
	rendersvc "github.com/NeoAvatars/avatar_layer/internal/app/services/render"
	subaccountsvc "github.com/NeoAvatars/avatar_layer/internal/app/services/subaccounts"
	templatesvc "github.com/NeoAvatars/avatar_layer/internal/app/services/templates"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage/memory"
	"github.com/NeoAvatars/avatar_layer/internal/app/system"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Templates   storage.TemplateStore
	Components  storage.ComponentStore
	Avatars     storage.AvatarStore
	SubAccounts storage.SubAccountStore
	Balances    storage.BalanceStore
}

// Options carries the registry economics and optional attachments.
type Options struct {
	CreationFee      payment.Amount
	MintFee          payment.Amount
	RoyaltyPercent   int
	SystemOwner      string
	ImplementationID string
	Salt             string
	ReportSchedule   string
	RenderCache      rendersvc.Cache
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Templates   *templatesvc.Service
	Components  *componentsvc.Service
	Avatars     *avatarsvc.Service
	SubAccounts *subaccountsvc.Service
	Render      *rendersvc.Service
	Balances    *balancesvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.SystemOwner == "" {
		return nil, fmt.Errorf("system owner is required")
	}
	if opts.ImplementationID == "" || opts.Salt == "" {
		return nil, fmt.Errorf("implementation id and salt are required")
	}

	mem := memory.New()
	if stores.Templates == nil {
		stores.Templates = mem
	}
	if stores.Components == nil {
		stores.Components = mem
	}
	if stores.Avatars == nil {
		stores.Avatars = mem
	}
	if stores.SubAccounts == nil {
		stores.SubAccounts = mem
	}
	if stores.Balances == nil {
		stores.Balances = mem
	}

	manager := system.NewManager()

	templateService := templatesvc.New(stores.Templates, stores.Balances, opts.CreationFee, opts.SystemOwner, log)
	componentService := componentsvc.New(stores.Templates, stores.Components, stores.Balances, opts.RoyaltyPercent, opts.SystemOwner, log)
	subAccountService := subaccountsvc.New(stores.SubAccounts, stores.Avatars, stores.Balances, opts.ImplementationID, opts.Salt, log)
	avatarService := avatarsvc.New(stores.Templates, stores.Components, stores.Avatars, stores.Balances, subAccountService,
		opts.MintFee, opts.RoyaltyPercent, opts.SystemOwner, log)
	renderService := rendersvc.New(avatarService, opts.RenderCache, log)
	balanceService := balancesvc.New(stores.Balances, log)

	for _, name := range []string{"templates", "components", "avatars", "subaccounts", "render"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	reporter := balancesvc.NewReporter(stores.Balances, opts.ReportSchedule, log)
	if err := manager.Register(reporter); err != nil {
		return nil, fmt.Errorf("register %s: %w", reporter.Name(), err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Templates:   templateService,
		Components:  componentService,
		Avatars:     avatarService,
		SubAccounts: subAccountService,
		Render:      renderService,
		Balances:    balanceService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
