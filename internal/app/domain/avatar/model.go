// Package avatar defines the top-level layered asset: a named, owned token
// with one equip slot per component type.
package avatar

import (
	"time"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
)

// MaxNameLength bounds avatar display names.
const MaxNameLength = 50

// Slots holds one component instance id per component type, indexed by the
// type's slot number. Zero means the slot is empty.
type Slots [component.TypeCount]uint64

// Avatar is the top-level asset. Slots are mutated only through the equip,
// unequip and change operations on the avatar ledger.
type Avatar struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Slots     Slots     `json:"slots"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Equipped returns the instance id occupying the slot for t, or 0.
func (a Avatar) Equipped(t component.Type) uint64 {
	if !t.Valid() {
		return 0
	}
	return a.Slots[t]
}
