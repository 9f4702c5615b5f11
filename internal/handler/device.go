package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/devshare/control-server-go/internal/errors"
	"github.com/devshare/control-server-go/internal/middleware"
	"github.com/devshare/control-server-go/internal/model"
	"github.com/devshare/control-server-go/internal/service"
)

type DeviceHandler struct {
	devices *service.DeviceService
}

func NewDeviceHandler(devices *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

func (h *DeviceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/mac/{mac}", h.GetByMac)
	r.Get("/{id}", h.GetByID)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}", h.Patch)
	r.Delete("/{id}", h.Delete)
	r.Get("/{id}/state", h.GetLiveState)
	r.Put("/{id}/state", h.UpsertLiveState)

	return r
}

// GET /v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	list, err := h.devices.List(r.Context(), model.ListDevicesParams{
		OwnerID:        r.URL.Query().Get("ownerId"),
		Limit:          page.Limit,
		Offset:         page.Offset,
		OrderBy:        model.DeviceOrderBy(r.URL.Query().Get("orderBy")),
		OrderDirection: model.OrderDirection(r.URL.Query().Get("orderDirection")),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// GET /v1/devices/{id}
func (h *DeviceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	device, err := h.devices.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// GET /v1/devices/mac/{mac}
func (h *DeviceHandler) GetByMac(w http.ResponseWriter, r *http.Request) {
	device, err := h.devices.GetByMac(r.Context(), chi.URLParam(r, "mac"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// POST /v1/devices
func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params model.CreateDeviceParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	if params.OwnerID == "" {
		params.OwnerID = middleware.GetUserID(r.Context())
	}
	if params.Mac == "" {
		writeError(w, apperrors.InvalidInput("mac", "cannot be empty"))
		return
	}

	device, err := h.devices.Create(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, device)
}

// PUT /v1/devices/{id}
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var params model.UpdateDeviceParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	device, err := h.devices.Update(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// PATCH /v1/devices/{id}
func (h *DeviceHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var params model.PatchDeviceParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	device, err := h.devices.Patch(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// DELETE /v1/devices/{id}
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.devices.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// GET /v1/devices/{id}/state
func (h *DeviceHandler) GetLiveState(w http.ResponseWriter, r *http.Request) {
	state, err := h.devices.GetLiveState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if state == nil {
		writeError(w, apperrors.NotFound("Device live state"))
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// PUT /v1/devices/{id}/state
func (h *DeviceHandler) UpsertLiveState(w http.ResponseWriter, r *http.Request) {
	var patch model.DeviceLiveStatePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}

	state, err := h.devices.UpsertLiveState(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}
