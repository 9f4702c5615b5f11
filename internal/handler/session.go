package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devshare/control-server-go/internal/middleware"
	"github.com/devshare/control-server-go/internal/model"
	"github.com/devshare/control-server-go/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.GetByID)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/close", h.Close)

	return r
}

// GET /v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	list, err := h.sessions.List(r.Context(), model.ListSessionsParams{
		StartDate: parseTimeParam(r, "startDate"),
		EndDate:   parseTimeParam(r, "endDate"),
		DeviceID:  r.URL.Query().Get("deviceId"),
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params model.CreateSessionParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), middleware.GetUserID(r.Context()), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GET /v1/sessions/{id}
func (h *SessionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// PATCH /v1/sessions/{id}
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var params model.UpdateSessionParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessions.Update(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// DELETE /v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.sessions.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// POST /v1/sessions/{id}/close
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	closed, err := h.sessions.Close(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"closed": closed})
}
