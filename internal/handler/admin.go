package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/hotspot/internal/auth"
	"github.com/dukerupert/hotspot/internal/portal"
)

type AdminHandler struct {
	machine *portal.Machine
	logger  *slog.Logger
}

func NewAdminHandler(m *portal.Machine, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{machine: m, logger: logger}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.machine.AdminStats(r.Context(), auth.SessionID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
