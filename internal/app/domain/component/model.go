// Package component defines templates and minted component instances, the
// building blocks avatars are assembled from.
package component

import (
	"fmt"
	"strings"
	"time"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
)

// Type classifies a template and doubles as the avatar slot index.
type Type int

const (
	TypeBackground Type = iota
	TypeHairstyle
	TypeEyes
	TypeMouth
	TypeAccessory
)

// TypeCount is the number of component types and therefore avatar slots.
const TypeCount = 5

// Types lists all component types in slot order.
func Types() [TypeCount]Type {
	return [TypeCount]Type{TypeBackground, TypeHairstyle, TypeEyes, TypeMouth, TypeAccessory}
}

// Valid reports whether t is one of the five known types.
func (t Type) Valid() bool {
	return t >= TypeBackground && t <= TypeAccessory
}

func (t Type) String() string {
	switch t {
	case TypeBackground:
		return "Background"
	case TypeHairstyle:
		return "Hairstyle"
	case TypeEyes:
		return "Eyes"
	case TypeMouth:
		return "Mouth"
	case TypeAccessory:
		return "Accessory"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType resolves a case-insensitive type name or numeric slot index.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "background", "0":
		return TypeBackground, nil
	case "hairstyle", "1":
		return TypeHairstyle, nil
	case "eyes", "2":
		return TypeEyes, nil
	case "mouth", "3":
		return TypeMouth, nil
	case "accessory", "4":
		return TypeAccessory, nil
	}
	return 0, fmt.Errorf("unknown component type %q", s)
}

// Template is a reusable, creator-owned blueprint for minting component
// instances. CurrentSupply never exceeds MaxSupply; Active=false permanently
// disables further minting without affecting minted instances.
type Template struct {
	ID            uint64         `json:"id"`
	Name          string         `json:"name"`
	Creator       string         `json:"creator"`
	Type          Type           `json:"type"`
	MaxSupply     uint64         `json:"max_supply"`
	CurrentSupply uint64         `json:"current_supply"`
	Price         payment.Amount `json:"price"`
	Payload       []byte         `json:"payload"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Remaining returns how many instances can still be minted.
func (t Template) Remaining() uint64 {
	if t.CurrentSupply >= t.MaxSupply {
		return 0
	}
	return t.MaxSupply - t.CurrentSupply
}

// Instance is one minted, individually owned unit derived from a template.
// Equipped is toggled only by the avatar ledger; an equipped instance cannot
// be transferred.
type Instance struct {
	ID         uint64    `json:"id"`
	TemplateID uint64    `json:"template_id"`
	Owner      string    `json:"owner"`
	Equipped   bool      `json:"equipped"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
