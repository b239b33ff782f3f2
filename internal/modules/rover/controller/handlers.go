package controller

import (
	"errors"
	"log/slog"
	"net/http"

	"tofyx-server/internal/modules/rover/service"
	"tofyx-server/internal/modules/rover/types"
	"tofyx-server/internal/utils"
)

type telemetryResponse struct {
	types.Snapshot
	Image types.Image `json:"image"`
}

func (c *roverControllerImpl) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	snap := c.synth.Snapshot()

	// Persistence and publishing are both best-effort: the response never
	// depends on store or broker health.
	c.svc.RecordIfActive(r.Context(), snap)
	if c.pub != nil {
		c.pub.PublishSnapshot(snap)
	}

	utils.WriteJSON(w, http.StatusOK, telemetryResponse{
		Snapshot: snap,
		Image:    types.Image{URL: imageURL},
	})
}

func (c *roverControllerImpl) handleImage(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, types.Image{URL: imageURL})
}

func (c *roverControllerImpl) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	_, err := c.svc.StartSession(r.Context(), "")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "recording_started",
		"active": true,
	})
}

func (c *roverControllerImpl) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := c.svc.StopSession(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "recording_stopped",
		"active": false,
	})
}

func (c *roverControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, minutes, err := parseHistoryQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := c.svc.History(r.Context(), limit, minutes)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (c *roverControllerImpl) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	limit, minutes, err := parseExportQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !c.svc.StoreConfigured() {
		writeStoreError(w, service.ErrStoreUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="telemetry_export.csv"`)
	if _, err := c.svc.ExportCSV(r.Context(), w, limit, minutes); err != nil {
		// Headers are already out; all we can do is log.
		slog.Error("csv export failed mid-stream", "error", err)
	}
}

func (c *roverControllerImpl) handleSummary(w http.ResponseWriter, r *http.Request) {
	minutes, err := parseSummaryQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, summary, err := c.svc.Summary(r.Context(), minutes)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"items":   items,
		"summary": summary,
	})
}

// handleStoreDiagnostic reports store connectivity and env-var presence as
// independent informational fields, not one combined health signal.
func (c *roverControllerImpl) handleStoreDiagnostic(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"backend":           "running",
		"database":          "not available",
		"database_url":      envStatus(c.cfg.DatabaseURL),
		"database_name":     envStatus(c.cfg.DatabaseName),
		"connection_status": "not connected",
		"tables":            []string{},
	}

	if c.svc.StoreConfigured() {
		tables, err := c.svc.Tables(r.Context())
		if err != nil {
			resp["database"] = "configured but error: " + err.Error()
		} else {
			resp["database"] = "connected"
			resp["connection_status"] = "connected"
			if len(tables) > 10 {
				tables = tables[:10]
			}
			if tables == nil {
				tables = []string{}
			}
			resp["tables"] = tables
		}
	}

	utils.WriteJSON(w, http.StatusOK, resp)
}

func envStatus(v string) string {
	if v == "" {
		return "not set"
	}
	return "set"
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrStoreUnavailable) {
		utils.WriteError(w, http.StatusBadRequest, service.ErrStoreUnavailable.Error())
		return
	}
	slog.Error("store operation failed", "error", err)
	utils.WriteError(w, http.StatusInternalServerError, "store operation failed")
}
