// Package subaccounts implements the deterministic per-avatar custody
// accounts: address derivation, lazy materialization, delegated
// authorization, nonce tracking and auditable outbound actions.
package subaccounts

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/subaccount"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
	"golang.org/x/crypto/ripemd160"
)

// CallExecutor performs the outbound action behind ExecuteCall. The default
// executor is a no-op echo; deployments attach a real transport.
type CallExecutor interface {
	Execute(ctx context.Context, target string, value payment.Amount, data []byte) ([]byte, error)
}

// Service manages sub-accounts keyed by avatar id.
type Service struct {
	store    storage.SubAccountStore
	avatars  storage.AvatarStore
	balances storage.BalanceStore
	log      *logger.Logger
	executor CallExecutor

	identity string
	salt     string
}

// New constructs a sub-account registry. identity and salt are fixed
// registry-wide constants that feed address derivation; changing either
// changes every derived address.
func New(store storage.SubAccountStore, avatars storage.AvatarStore, balances storage.BalanceStore, identity, salt string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("subaccounts")
	}
	return &Service{
		store:    store,
		avatars:  avatars,
		balances: balances,
		log:      log,
		identity: identity,
		salt:     salt,
	}
}

// AttachExecutor injects the outbound call transport. Call before serving.
func (s *Service) AttachExecutor(exec CallExecutor) {
	s.executor = exec
}

// DeriveAddress computes the sub-account address for an avatar id. It is a
// pure function of (avatarId, identity, salt): RIPEMD160 over the SHA256 of
// the concatenated inputs, hex-encoded behind a version prefix. The same
// inputs always yield the same address, so callers can compute it before the
// account is ever materialized.
func (s *Service) DeriveAddress(avatarID uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], avatarID)

	sha := sha256.New()
	sha.Write([]byte(s.salt))
	sha.Write([]byte(s.identity))
	sha.Write(buf[:])
	digest := sha.Sum(nil)

	ripemd := ripemd160.New()
	ripemd.Write(digest)
	return "aa" + hex.EncodeToString(ripemd.Sum(nil))
}

// EnsureAccount lazily materializes the sub-account at the derived address.
// Idempotent and safe under concurrency: the first writer wins and later
// callers observe the existing account.
func (s *Service) EnsureAccount(ctx context.Context, avatarID uint64) (subaccount.Account, error) {
	acct, created, err := s.store.EnsureSubAccount(ctx, subaccount.Account{
		AvatarID: avatarID,
		Address:  s.DeriveAddress(avatarID),
	})
	if err != nil {
		return subaccount.Account{}, err
	}
	if created {
		s.log.WithField("avatar_id", avatarID).
			WithField("address", acct.Address).
			Info("sub-account materialized")
	}
	return acct, nil
}

// Get returns the materialized sub-account for an avatar.
func (s *Service) Get(ctx context.Context, avatarID uint64) (subaccount.Account, error) {
	return s.store.GetSubAccount(ctx, avatarID)
}

// IsAuthorized reports whether caller may act for the avatar: the avatar's
// current owner, or any address the owner has explicitly approved.
func (s *Service) IsAuthorized(ctx context.Context, avatarID uint64, caller string) (bool, error) {
	av, err := s.avatars.GetAvatar(ctx, avatarID)
	if err != nil {
		return false, err
	}
	caller = strings.TrimSpace(caller)
	if strings.EqualFold(av.Owner, caller) {
		return true, nil
	}

	approved, err := s.store.ListApprovals(ctx, avatarID)
	if err != nil {
		return false, err
	}
	lowered := strings.ToLower(caller)
	for _, addr := range approved {
		if addr == lowered {
			return true, nil
		}
	}
	return false, nil
}

// Approve adds an address to the avatar's approval set. Owner only.
func (s *Service) Approve(ctx context.Context, avatarID uint64, caller, addr string) error {
	if err := s.requireOwner(ctx, avatarID, caller); err != nil {
		return err
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	return s.store.AddApproval(ctx, avatarID, addr)
}

// Revoke removes an address from the avatar's approval set. Owner only.
func (s *Service) Revoke(ctx context.Context, avatarID uint64, caller, addr string) error {
	if err := s.requireOwner(ctx, avatarID, caller); err != nil {
		return err
	}
	return s.store.RemoveApproval(ctx, avatarID, addr)
}

func (s *Service) requireOwner(ctx context.Context, avatarID uint64, caller string) error {
	av, err := s.avatars.GetAvatar(ctx, avatarID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(av.Owner, strings.TrimSpace(caller)) {
		return fmt.Errorf("avatar %d: %w", avatarID, apperr.ErrNotAuthorized)
	}
	return nil
}

// ExecuteCall performs an authorized outbound action through the sub-account.
// The nonce increments on every authorized action, which prevents replay and
// doubles as a monotonic activity counter. Emits a TransactionExecuted record.
func (s *Service) ExecuteCall(ctx context.Context, avatarID uint64, caller, target string, value payment.Amount, data []byte) (subaccount.Record, []byte, error) {
	if err := s.authorize(ctx, avatarID, caller); err != nil {
		return subaccount.Record{}, nil, err
	}
	if _, err := s.EnsureAccount(ctx, avatarID); err != nil {
		return subaccount.Record{}, nil, err
	}
	if _, err := s.store.IncrementNonce(ctx, avatarID); err != nil {
		return subaccount.Record{}, nil, err
	}

	var result []byte
	if s.executor != nil {
		var err error
		result, err = s.executor.Execute(ctx, target, value, data)
		if err != nil {
			return subaccount.Record{}, nil, fmt.Errorf("execute call: %w", err)
		}
	}

	rec, err := s.store.AppendRecord(ctx, subaccount.Record{
		AvatarID: avatarID,
		Kind:     subaccount.RecordTransactionExecuted,
		Caller:   caller,
		Target:   target,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		return subaccount.Record{}, nil, err
	}

	s.log.WithField("avatar_id", avatarID).
		WithField("target", target).
		WithField("value", value).
		Info("sub-account call executed")
	return rec, result, nil
}

// TransferAsset moves fungible holdings out of the sub-account to a
// recipient. Same authorization rule as ExecuteCall.
func (s *Service) TransferAsset(ctx context.Context, avatarID uint64, caller, asset, to string, amount payment.Amount) (subaccount.Record, error) {
	recs, err := s.TransferAssetBatch(ctx, avatarID, caller, to, []payment.Transfer{{Asset: asset, Amount: amount}})
	if err != nil {
		return subaccount.Record{}, err
	}
	return recs[0], nil
}

// TransferAssetBatch applies a list of (asset, amount) legs against one
// recipient atomically: either every transfer applies or none do.
func (s *Service) TransferAssetBatch(ctx context.Context, avatarID uint64, caller, to string, transfers []payment.Transfer) ([]subaccount.Record, error) {
	if err := s.authorize(ctx, avatarID, caller); err != nil {
		return nil, err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if len(transfers) == 0 {
		return nil, fmt.Errorf("at least one transfer is required")
	}

	acct, err := s.EnsureAccount(ctx, avatarID)
	if err != nil {
		return nil, err
	}
	if err := s.balances.TransferBalances(ctx, acct.Address, to, transfers); err != nil {
		return nil, err
	}
	if _, err := s.store.IncrementNonce(ctx, avatarID); err != nil {
		return nil, err
	}

	records := make([]subaccount.Record, 0, len(transfers))
	for _, tr := range transfers {
		rec, err := s.store.AppendRecord(ctx, subaccount.Record{
			AvatarID: avatarID,
			Kind:     subaccount.RecordAssetTransferred,
			Caller:   caller,
			Target:   to,
			Asset:    tr.Asset,
			Value:    tr.Amount,
		})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	s.log.WithField("avatar_id", avatarID).
		WithField("to", to).
		WithField("legs", len(transfers)).
		Info("sub-account assets transferred")
	return records, nil
}

// HandleUnknownCall accounts for a call the sub-account does not model.
// Authorized callers get an UnknownCallReceived record and an incremented
// counter instead of a silent drop; unauthorized callers are rejected.
func (s *Service) HandleUnknownCall(ctx context.Context, avatarID uint64, caller string, data []byte) (subaccount.Record, error) {
	if err := s.authorize(ctx, avatarID, caller); err != nil {
		return subaccount.Record{}, err
	}
	if _, err := s.EnsureAccount(ctx, avatarID); err != nil {
		return subaccount.Record{}, err
	}
	if _, err := s.store.IncrementUnknownCalls(ctx, avatarID); err != nil {
		return subaccount.Record{}, err
	}

	rec, err := s.store.AppendRecord(ctx, subaccount.Record{
		AvatarID: avatarID,
		Kind:     subaccount.RecordUnknownCallReceived,
		Caller:   caller,
		Data:     data,
	})
	if err != nil {
		return subaccount.Record{}, err
	}

	s.log.WithField("avatar_id", avatarID).
		WithField("caller", caller).
		Warn("unknown call received on sub-account")
	return rec, nil
}

// Records lists the audit records for an avatar's sub-account.
func (s *Service) Records(ctx context.Context, avatarID uint64) ([]subaccount.Record, error) {
	return s.store.ListRecords(ctx, avatarID)
}

func (s *Service) authorize(ctx context.Context, avatarID uint64, caller string) error {
	ok, err := s.IsAuthorized(ctx, avatarID, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("avatar %d caller %s: %w", avatarID, caller, apperr.ErrNotAuthorized)
	}
	return nil
}
