package balances

import (
	"context"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/metrics"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	"github.com/NeoAvatars/avatar_layer/internal/app/system"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Reporter periodically publishes per-asset accrual totals as gauges.
type Reporter struct {
	store    storage.BalanceStore
	schedule string
	log      *logger.Logger
	cron     *cron.Cron
}

var _ system.Service = (*Reporter)(nil)

// NewReporter creates a reporter on the given cron schedule. An empty
// schedule defaults to once a minute.
func NewReporter(store storage.BalanceStore, schedule string, log *logger.Logger) *Reporter {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if log == nil {
		log = logger.NewDefault("balance-reporter")
	}
	return &Reporter{store: store, schedule: schedule, log: log}
}

func (r *Reporter) Name() string { return "balance-reporter" }

func (r *Reporter) Start(ctx context.Context) error {
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.report(ctx) }); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.report(ctx)
	r.log.WithField("schedule", r.schedule).Info("balance reporter started")
	return nil
}

func (r *Reporter) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	stopped := r.cron.Stop()
	r.cron = nil
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) report(ctx context.Context) {
	all, err := r.store.ListBalances(ctx)
	if err != nil {
		r.log.WithError(err).Warn("listing balances failed")
		return
	}
	totals := map[string]payment.Amount{}
	for _, b := range all {
		totals[b.Asset] += b.Available
	}
	for asset, total := range totals {
		metrics.SetBalanceTotal(asset, int64(total))
	}
}
