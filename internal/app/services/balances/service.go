// Package balances exposes the accrual ledger that fees and royalties settle
// into, and lets payees withdraw what they have earned.
package balances

import (
	"context"
	"fmt"
	"strings"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
)

// Service reads and drains the balance ledger.
type Service struct {
	store storage.BalanceStore
	log   *logger.Logger
}

// New constructs the balance service.
func New(store storage.BalanceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("balances")
	}
	return &Service{store: store, log: log}
}

// Balance returns the payee's accrual for one asset. Unknown pairs report a
// zero balance rather than an error.
func (s *Service) Balance(ctx context.Context, payee, asset string) (payment.Balance, error) {
	return s.store.GetBalance(ctx, payee, asset)
}

// List returns every non-zero balance in the ledger.
func (s *Service) List(ctx context.Context) ([]payment.Balance, error) {
	return s.store.ListBalances(ctx)
}

// ListFor returns the payee's balances across assets.
func (s *Service) ListFor(ctx context.Context, payee string) ([]payment.Balance, error) {
	all, err := s.store.ListBalances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]payment.Balance, 0, 2)
	for _, b := range all {
		if strings.EqualFold(b.Payee, payee) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Withdraw debits amount from the payee's accrual. Fails with
// ErrInsufficientBalance when the accrual does not cover it.
func (s *Service) Withdraw(ctx context.Context, payee, asset string, amount payment.Amount) (payment.Balance, error) {
	if amount <= 0 {
		return payment.Balance{}, fmt.Errorf("amount must be positive")
	}
	b, err := s.store.Debit(ctx, payee, asset, amount)
	if err != nil {
		return payment.Balance{}, err
	}
	s.log.WithField("payee", payee).
		WithField("asset", asset).
		WithField("amount", amount).
		Info("balance withdrawn")
	return b, nil
}

// WithdrawAll drains the payee's full accrual for one asset and returns the
// amount taken. The read and the debit are two steps; a concurrent credit
// that lands between them simply stays behind for the next withdrawal.
func (s *Service) WithdrawAll(ctx context.Context, payee, asset string) (payment.Amount, error) {
	current, err := s.store.GetBalance(ctx, payee, asset)
	if err != nil {
		return 0, err
	}
	if current.Available <= 0 {
		return 0, nil
	}
	if _, err := s.store.Debit(ctx, payee, asset, current.Available); err != nil {
		return 0, err
	}
	s.log.WithField("payee", payee).
		WithField("asset", asset).
		WithField("amount", current.Available).
		Info("balance drained")
	return current.Available, nil
}
