package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devshare/control-server-go/internal/middleware"
	"github.com/devshare/control-server-go/internal/model"
	"github.com/devshare/control-server-go/internal/service"
)

type RequirementHandler struct {
	requirements *service.RequirementService
}

func NewRequirementHandler(requirements *service.RequirementService) *RequirementHandler {
	return &RequirementHandler{requirements: requirements}
}

func (h *RequirementHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/{id}", h.GetByID)
	r.Patch("/{id}", h.Update)

	return r
}

// POST /v1/requirements
func (h *RequirementHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params model.CreateRequirementParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	requirement, err := h.requirements.Create(r.Context(), middleware.GetUserID(r.Context()), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, requirement)
}

// GET /v1/requirements/{id}
func (h *RequirementHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	requirement, err := h.requirements.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requirement)
}

// PATCH /v1/requirements/{id}
func (h *RequirementHandler) Update(w http.ResponseWriter, r *http.Request) {
	var params model.UpdateRequirementParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	requirement, err := h.requirements.Update(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requirement)
}
