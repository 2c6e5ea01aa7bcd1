// Package subaccount defines the deterministic per-avatar custody accounts
// and the auditable records of actions executed through them.
package subaccount

import (
	"time"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
)

// Account is the authorization-gated account bound to one avatar. The address
// is a pure function of the avatar id plus the registry's implementation
// identity and salt, so it can be computed before the account exists. Nonce
// increments on every authorized outbound action.
type Account struct {
	AvatarID     uint64    `json:"avatar_id"`
	Address      string    `json:"address"`
	Nonce        uint64    `json:"nonce"`
	UnknownCalls uint64    `json:"unknown_calls"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecordKind classifies audit records emitted by sub-account operations.
type RecordKind string

const (
	RecordTransactionExecuted RecordKind = "TransactionExecuted"
	RecordAssetTransferred    RecordKind = "AssetTransferred"
	RecordUnknownCallReceived RecordKind = "UnknownCallReceived"
)

// Record is one auditable sub-account event.
type Record struct {
	ID        string         `json:"id"`
	AvatarID  uint64         `json:"avatar_id"`
	Kind      RecordKind     `json:"kind"`
	Caller    string         `json:"caller"`
	Target    string         `json:"target,omitempty"`
	Asset     string         `json:"asset,omitempty"`
	Value     payment.Amount `json:"value"`
	Data      []byte         `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
