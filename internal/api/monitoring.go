package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberlink/emberlink/internal/monitoring"
)

// monitoringResponse wraps the config with its version so clients can
// detect concurrent edits.
type monitoringResponse struct {
	Version int64             `json:"version"`
	Config  monitoring.Config `json:"config"`
}

// handleGetMonitoring returns the live monitoring configuration.
func (s *Server) handleGetMonitoring(w http.ResponseWriter, _ *http.Request) {
	snap := s.monitor.Current()
	writeJSON(w, http.StatusOK, monitoringResponse{
		Version: snap.Version(),
		Config:  snap.Config(),
	})
}

// monitoringRequest carries the replacement config together with the
// version the client last read, for optimistic concurrency.
type monitoringRequest struct {
	Version int64             `json:"version"`
	Config  monitoring.Config `json:"config"`
}

// handlePutMonitoring replaces the monitoring configuration. The
// dispatch engine observes the new snapshot on its next event without
// a restart. The submitted version must match the live one; a stale
// version gets 409 instead of silently overwriting a concurrent edit.
func (s *Server) handlePutMonitoring(w http.ResponseWriter, r *http.Request) {
	var req monitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.monitor.Update(r.Context(), req.Config, req.Version)
	if err != nil {
		if errors.Is(err, monitoring.ErrVersionConflict) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "configuration changed concurrently, retry")
			return
		}
		s.logger.Error("monitoring config update failed", "error", err)
		writeInternalError(w, "update failed")
		return
	}

	writeJSON(w, http.StatusOK, monitoringResponse{
		Version: snap.Version(),
		Config:  snap.Config(),
	})
}

// handleCriticalSensors returns the cached state of all alarm-class
// sensors so the app can render current alarm status without querying
// the hub.
func (s *Server) handleCriticalSensors(w http.ResponseWriter, _ *http.Request) {
	if s.sensors == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sensors": []any{}, "count": 0})
		return
	}

	snapshot := s.sensors.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"sensors": snapshot,
		"count":   len(snapshot),
	})
}

// handleListOutcomes returns the delivery outcome log for one event.
func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		writeBadRequest(w, "event id is required")
		return
	}
	if s.outcomes == nil {
		writeNotFound(w, "outcome log not available")
		return
	}

	records, err := s.outcomes.ListByEvent(r.Context(), eventID)
	if err != nil {
		s.logger.Error("outcome query failed", "event_id", eventID, "error", err)
		writeInternalError(w, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"attempts": records,
		"count":    len(records),
	})
}
