// Package httpapi exposes the application services over REST.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/NeoAvatars/avatar_layer/internal/app"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/component"
	"github.com/NeoAvatars/avatar_layer/internal/app/domain/payment"
	"github.com/NeoAvatars/avatar_layer/internal/app/metrics"
	"github.com/NeoAvatars/avatar_layer/internal/app/storage"
	"github.com/NeoAvatars/avatar_layer/internal/app/system"
	apperr "github.com/NeoAvatars/avatar_layer/internal/errors"
	"github.com/NeoAvatars/avatar_layer/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	return NewHandlerWithAudit(application, nil)
}

// NewHandlerWithAudit is NewHandler with an optional persistent audit sink.
func NewHandlerWithAudit(application *app.Application, sink AuditSink) http.Handler {
	h := &handler{app: application, audit: newAuditLog(200, sink)}

	r := mux.NewRouter()

	r.HandleFunc("/templates", h.createTemplate).Methods(http.MethodPost)
	r.HandleFunc("/templates", h.listTemplates).Methods(http.MethodGet)
	r.HandleFunc("/templates/{id:[0-9]+}", h.getTemplate).Methods(http.MethodGet)
	r.HandleFunc("/templates/{id:[0-9]+}/price", h.updateTemplatePrice).Methods(http.MethodPut)
	r.HandleFunc("/templates/{id:[0-9]+}/active", h.setTemplateActive).Methods(http.MethodPut)

	r.HandleFunc("/components", h.mintComponent).Methods(http.MethodPost)
	r.HandleFunc("/components", h.listComponents).Methods(http.MethodGet)
	r.HandleFunc("/components/{id:[0-9]+}", h.getComponent).Methods(http.MethodGet)
	r.HandleFunc("/components/{id:[0-9]+}/transfer", h.transferComponent).Methods(http.MethodPost)

	r.HandleFunc("/avatars", h.mintAvatar).Methods(http.MethodPost)
	r.HandleFunc("/avatars", h.listAvatars).Methods(http.MethodGet)
	r.HandleFunc("/avatars/{id:[0-9]+}", h.getAvatar).Methods(http.MethodGet)
	r.HandleFunc("/avatars/{id:[0-9]+}/name", h.renameAvatar).Methods(http.MethodPut)
	r.HandleFunc("/avatars/{id:[0-9]+}/components", h.avatarComponents).Methods(http.MethodGet)
	r.HandleFunc("/avatars/{id:[0-9]+}/components", h.changeComponents).Methods(http.MethodPost)
	r.HandleFunc("/avatars/{id:[0-9]+}/equip", h.equip).Methods(http.MethodPost)
	r.HandleFunc("/avatars/{id:[0-9]+}/unequip", h.unequip).Methods(http.MethodPost)
	r.HandleFunc("/avatars/{id:[0-9]+}/render", h.renderAvatar).Methods(http.MethodGet)
	r.HandleFunc("/avatars/{id:[0-9]+}/image", h.renderImage).Methods(http.MethodGet)

	r.HandleFunc("/avatars/{id:[0-9]+}/account", h.getSubAccount).Methods(http.MethodGet)
	r.HandleFunc("/avatars/{id:[0-9]+}/account/approvals", h.approve).Methods(http.MethodPost)
	r.HandleFunc("/avatars/{id:[0-9]+}/account/approvals", h.revoke).Methods(http.MethodDelete)
	r.HandleFunc("/avatars/{id:[0-9]+}/account/execute", h.executeCall).Methods(http.MethodPost)
	r.HandleFunc("/avatars/{id:[0-9]+}/account/transfer", h.transferAsset).Methods(http.MethodPost)
	r.HandleFunc("/avatars/{id:[0-9]+}/account/call", h.unknownCall).Methods(http.MethodPost)
	r.HandleFunc("/avatars/{id:[0-9]+}/account/records", h.listRecords).Methods(http.MethodGet)

	r.HandleFunc("/balances", h.listBalances).Methods(http.MethodGet)
	r.HandleFunc("/balances/{payee}", h.listBalancesFor).Methods(http.MethodGet)
	r.HandleFunc("/balances/{payee}/withdraw", h.withdraw).Methods(http.MethodPost)

	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return metrics.InstrumentHandler(h.auditMiddleware(r))
}

func caller(r *http.Request) string {
	return r.Header.Get(middleware.CallerHeader)
}

func pathID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func (h *handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name      string         `json:"name"`
		Type      string         `json:"type"`
		MaxSupply uint64         `json:"max_supply"`
		Price     payment.Amount `json:"price"`
		Payload   []byte         `json:"payload"`
		Active    bool           `json:"active"`
		Paid      payment.Amount `json:"paid"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := component.ParseType(payload.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tpl, err := h.app.Templates.CreatePaid(r.Context(), caller(r), payload.Name, t,
		payload.MaxSupply, payload.Price, payload.Payload, payload.Active, payload.Paid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	t, err := component.ParseType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := h.app.Templates.ListByType(r.Context(), t)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": t.String(), "template_ids": ids})
}

func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tpl, err := h.app.Templates.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *handler) updateTemplatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Price payment.Amount `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tpl, err := h.app.Templates.UpdatePrice(r.Context(), caller(r), id, payload.Price)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *handler) setTemplateActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tpl, err := h.app.Templates.SetActive(r.Context(), caller(r), id, payload.Active)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *handler) mintComponent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TemplateID uint64         `json:"template_id"`
		To         string         `json:"to"`
		Paid       payment.Amount `json:"paid"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to := payload.To
	if to == "" {
		to = caller(r)
	}
	inst, err := h.app.Components.Mint(r.Context(), payload.TemplateID, to, payload.Paid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (h *handler) listComponents(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = caller(r)
	}
	if owner == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("owner is required"))
		return
	}
	insts, err := h.app.Components.ListByOwner(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insts)
}

func (h *handler) getComponent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	inst, err := h.app.Components.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handler) transferComponent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		To string `json:"to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	inst, err := h.app.Components.Transfer(r.Context(), caller(r), id, payload.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handler) mintAvatar(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        string                      `json:"name"`
		TemplateIDs [component.TypeCount]uint64 `json:"template_ids"`
		Paid        payment.Amount              `json:"paid"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	av, err := h.app.Avatars.Mint(r.Context(), caller(r), payload.Name, payload.TemplateIDs, payload.Paid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, av)
}

func (h *handler) listAvatars(w http.ResponseWriter, r *http.Request) {
	avs, err := h.app.Avatars.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avs)
}

func (h *handler) getAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	av, err := h.app.Avatars.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handler) renameAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	av, err := h.app.Avatars.Rename(r.Context(), id, caller(r), payload.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handler) avatarComponents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	av, views, err := h.app.Avatars.Components(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	type slotDoc struct {
		Slot       string `json:"slot"`
		InstanceID uint64 `json:"instance_id,omitempty"`
		TemplateID uint64 `json:"template_id,omitempty"`
		Name       string `json:"name,omitempty"`
	}
	slots := make([]slotDoc, 0, len(views))
	for _, v := range views {
		doc := slotDoc{Slot: v.Slot.String()}
		if v.Present {
			doc.InstanceID = v.Instance.ID
			doc.TemplateID = v.Template.ID
			doc.Name = v.Template.Name
		}
		slots = append(slots, doc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"avatar": av, "slots": slots})
}

type changeDoc struct {
	Slot       string `json:"slot"`
	InstanceID uint64 `json:"instance_id,omitempty"`
	Clear      bool   `json:"clear,omitempty"`
}

func (h *handler) changeComponents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Changes []changeDoc `json:"changes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	changes := make([]storage.EquipChange, 0, len(payload.Changes))
	for _, c := range payload.Changes {
		slot, err := component.ParseType(c.Slot)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		changes = append(changes, storage.EquipChange{Slot: slot, InstanceID: c.InstanceID, Clear: c.Clear})
	}
	av, err := h.app.Avatars.ChangeComponents(r.Context(), id, caller(r), changes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handler) equip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		InstanceID uint64 `json:"instance_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	av, err := h.app.Avatars.Equip(r.Context(), id, caller(r), payload.InstanceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handler) unequip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Slot string `json:"slot"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	slot, err := component.ParseType(payload.Slot)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	av, err := h.app.Avatars.Unequip(r.Context(), id, caller(r), slot)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handler) renderAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := h.app.Render.Render(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (h *handler) renderImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	svg, err := h.app.Render.RenderImage(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(svg)
}

func (h *handler) getSubAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := h.app.Avatars.Get(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	acct, err := h.app.SubAccounts.EnsureAccount(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.SubAccounts.Approve(r.Context(), id, caller(r), payload.Address); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.SubAccounts.Revoke(r.Context(), id, caller(r), payload.Address); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) executeCall(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Target string         `json:"target"`
		Value  payment.Amount `json:"value"`
		Data   []byte         `json:"data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, result, err := h.app.SubAccounts.ExecuteCall(r.Context(), id, caller(r), payload.Target, payload.Value, payload.Data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec, "result": result})
}

func (h *handler) transferAsset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		To        string             `json:"to"`
		Transfers []payment.Transfer `json:"transfers"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.app.SubAccounts.TransferAssetBatch(r.Context(), id, caller(r), payload.To, payload.Transfers)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) unknownCall(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Data []byte `json:"data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.SubAccounts.HandleUnknownCall(r.Context(), id, caller(r), payload.Data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.app.SubAccounts.Records(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) listBalances(w http.ResponseWriter, r *http.Request) {
	bals, err := h.app.Balances.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bals)
}

func (h *handler) listBalancesFor(w http.ResponseWriter, r *http.Request) {
	payee := mux.Vars(r)["payee"]
	bals, err := h.app.Balances.ListFor(r.Context(), payee)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bals)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	payee := mux.Vars(r)["payee"]
	var payload struct {
		Asset  string         `json:"asset"`
		Amount payment.Amount `json:"amount"`
		All    bool           `json:"all"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset := payload.Asset
	if asset == "" {
		asset = payment.AssetGas
	}
	if payload.All {
		amount, err := h.app.Balances.WithdrawAll(r.Context(), payee, asset)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "withdrawn": amount})
		return
	}
	b, err := h.app.Balances.Withdraw(r.Context(), payee, asset, payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, system.Snapshot())
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeServiceError maps domain sentinels to HTTP statuses and stable codes.
func writeServiceError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusFor(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  apperr.CodeFor(err),
	})
}
