package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/hotspot/internal/auth"
	"github.com/dukerupert/hotspot/internal/family"
)

// FamilyHandler manages the family plan owned by the session's user.
type FamilyHandler struct {
	service *family.Service
	logger  *slog.Logger
}

func NewFamilyHandler(s *family.Service, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{service: s, logger: logger}
}

func (h *FamilyHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	ownerID := auth.UserID(r.Context())
	if _, err := h.service.Create(r.Context(), ownerID, req.Name); err != nil {
		writeError(w, h.logger, err)
		return
	}
	v, err := h.service.Get(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *FamilyHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var in family.MemberInput
	if err := decode(r, &in); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	m, err := h.service.Add(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *FamilyHandler) ReplaceMember(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	var in family.MemberInput
	if err := decode(r, &in); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	m, err := h.service.Replace(r.Context(), auth.UserID(r.Context()), id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *FamilyHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, h.service.Remove)
}

func (h *FamilyHandler) SuspendMember(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, h.service.Suspend)
}

func (h *FamilyHandler) ReactivateMember(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, h.service.Reactivate)
}

// memberAction runs a roster change on the {id} member and answers with the
// updated family.
func (h *FamilyHandler) memberAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ownerID, memberID int64) error) {
	id, err := parseIDParam(r)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	ownerID := auth.UserID(r.Context())
	if err := fn(r.Context(), ownerID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	v, err := h.service.Get(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
