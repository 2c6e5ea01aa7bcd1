// Package render composes avatar artwork and token metadata. Rendering is a
// pure function of the avatar's name and slot assignments, so identical state
// always yields byte-identical output and results can be cached by content.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NeoAvatars/avatar_layer/internal/app/domain/avatar"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/metrics"
	"github.com/NeoAvatars/avatar_layer/internal/app/services/avatars"
	"github.com/NeoAvatars/avatar_layer/pkg/logger"
)

const (
	// CanvasSize is the fixed square edge of the composed SVG in pixels.
	CanvasSize = 512

	baseLayer = `<rect width="512" height="512" fill="#1a1a2e"/>`

	description = "A composable avatar assembled from five component layers."
)

// Service renders avatars to SVG and ERC-721 style metadata documents.
type Service struct {
	avatars *avatars.Service
	cache   Cache
	log     *logger.Logger
}

// New constructs the renderer. cache may be nil to disable caching.
func New(avatarSvc *avatars.Service, cache Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("render")
	}
	return &Service{avatars: avatarSvc, cache: cache, log: log}
}

// Attribute is one trait of the metadata document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata is the token metadata document for a rendered avatar.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
}

// Render composes the avatar's current state into a metadata document with an
// embedded SVG image. Two calls against identical avatar state return
// byte-identical documents.
func (s *Service) Render(ctx context.Context, avatarID uint64) ([]byte, error) {
	start := time.Now()

	av, views, err := s.avatars.Components(ctx, avatarID)
	if err != nil {
		return nil, err
	}

	key := cacheKey(av, views)
	if s.cache != nil {
		if doc, ok := s.cache.Get(ctx, key); ok {
			metrics.RecordRender("hit", time.Since(start))
			return doc, nil
		}
	}

	doc, err := compose(av, views)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, doc)
		metrics.RecordRender("miss", time.Since(start))
	} else {
		metrics.RecordRender("off", time.Since(start))
	}
	return doc, nil
}

// RenderImage returns only the composed SVG, without the metadata envelope.
func (s *Service) RenderImage(ctx context.Context, avatarID uint64) ([]byte, error) {
	av, views, err := s.avatars.Components(ctx, avatarID)
	if err != nil {
		return nil, err
	}
	return composeSVG(av, views), nil
}

// cacheKey hashes exactly the inputs compose consumes: the name and the
// per-slot (instance, template, payload) state. Renaming or any equip change
// produces a new key; stale entries age out rather than being invalidated.
func cacheKey(av avatar.Avatar, views [component.TypeCount]avatars.SlotView) string {
	h := sha256.New()
	h.Write([]byte(av.Name))
	for _, v := range views {
		if !v.Present {
			h.Write([]byte{0})
			continue
		}
		fmt.Fprintf(h, "%d:%d:", v.Instance.ID, v.Template.ID)
		h.Write(v.Template.Payload)
	}
	return "render:" + hex.EncodeToString(h.Sum(nil))
}

func compose(av avatar.Avatar, views [component.TypeCount]avatars.SlotView) ([]byte, error) {
	svg := composeSVG(av, views)

	attributes := make([]Attribute, 0, component.TypeCount)
	for _, slot := range component.Types() {
		value := "None"
		if v := views[slot]; v.Present {
			value = strconv.FormatUint(v.Instance.ID, 10)
		}
		attributes = append(attributes, Attribute{TraitType: slot.String(), Value: value})
	}

	meta := Metadata{
		Name:        av.Name,
		Description: description,
		Image:       "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(svg),
		Attributes:  attributes,
	}
	return json.Marshal(meta)
}

// composeSVG layers the slot payloads back to front on the fixed canvas.
// Slot order is the z-order: background lowest, accessory topmost.
func composeSVG(av avatar.Avatar, views [component.TypeCount]avatars.SlotView) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		CanvasSize, CanvasSize, CanvasSize, CanvasSize)
	b.WriteString(baseLayer)
	for _, slot := range component.Types() {
		v := views[slot]
		if !v.Present {
			continue
		}
		fmt.Fprintf(&b, `<g data-layer="%s">`, strings.ToLower(slot.String()))
		b.Write(v.Template.Payload)
		b.WriteString(`</g>`)
	}
	b.WriteString(`</svg>`)
	return []byte(b.String())
}
