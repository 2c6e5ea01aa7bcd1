// Package payment defines the monetary primitives used by the registry:
// fixed-point amounts, per-payee balances and the royalty split.
package payment

import "time"

// Amount is a quantity of the settlement asset in base units. One whole unit
// equals 1e8 base units, so 0.01 units is 1_000_000.
type Amount int64

// UnitFractions is the number of base units per whole unit.
const UnitFractions Amount = 100_000_000

// AssetGas is the default settlement asset for mint payments and royalties.
const AssetGas = "GAS"

// Balance is a per-payee running accrual for one asset.
type Balance struct {
	Payee     string    `json:"payee"`
	Asset     string    `json:"asset"`
	Available Amount    `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transfer is one leg of a (possibly batched) asset movement.
type Transfer struct {
	Asset  string `json:"asset"`
	Amount Amount `json:"amount"`
}

// Split divides a component price between the system owner and the template
// creator. Integer division; any remainder from a non-divisible percentage
// accrues to the owner share, so ownerShare+creatorShare always equals price.
func Split(price Amount, royaltyPercent int) (ownerShare, creatorShare Amount) {
	if price <= 0 || royaltyPercent <= 0 {
		return price, 0
	}
	if royaltyPercent > 100 {
		royaltyPercent = 100
	}
	creatorShare = price * Amount(royaltyPercent) / 100
	ownerShare = price - creatorShare
	return ownerShare, creatorShare
}
