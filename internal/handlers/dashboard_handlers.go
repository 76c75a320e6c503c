package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/genc-murat/ringtsdb/internal/core/models"
	"github.com/genc-murat/ringtsdb/internal/core/ports"
)

type DashboardHandlers struct {
	store ports.Store
	log   *slog.Logger
}

func NewDashboardHandlers(store ports.Store, log *slog.Logger) *DashboardHandlers {
	return &DashboardHandlers{store: store, log: log}
}

type dashboardPayload struct {
	Slug       string          `json:"slug"`
	Title      string          `json:"title"`
	Definition json.RawMessage `json:"definition"`
}

func (h *DashboardHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	dashboards, err := h.store.ListDashboards(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if dashboards == nil {
		dashboards = []models.DashboardInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dashboards": dashboards})
}

func (h *DashboardHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	blob, err := h.store.GetDashboard(r.Context(), slug)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (h *DashboardHandlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	var p dashboardPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, h.log, err)
		return
	}
	// The stored blob keeps title and definition together, so GET returns
	// exactly what was saved.
	blob, err := json.Marshal(map[string]interface{}{
		"title":      p.Title,
		"definition": p.Definition,
	})
	if err != nil {
		writeError(w, h.log, models.Validationf("invalid dashboard payload: %v", err))
		return
	}
	if err := h.store.SaveDashboard(r.Context(), p.Slug, blob); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "slug": p.Slug})
}

func (h *DashboardHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if err := h.store.DeleteDashboard(r.Context(), slug); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "slug": slug})
}
