package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emberlink/emberlink/internal/registry"
)

// registerDeviceRequest is the body for POST /devices.
type registerDeviceRequest struct {
	DeviceID  string `json:"device_id"`
	PushToken string `json:"push_token"`
}

// setCriticalRequest is the body for PUT /devices/{id}/critical.
type setCriticalRequest struct {
	Enabled bool `json:"enabled"`
}

// handleRegisterDevice registers or refreshes a device for the
// authenticated household. Idempotent by device id.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	claims := claimsFrom(r.Context())
	if claims.DeviceID != "" && claims.DeviceID != req.DeviceID {
		writeForbidden(w, "token is bound to a different device")
		return
	}

	reg, err := s.registry.Register(r.Context(), req.DeviceID, claims.HouseholdID, req.PushToken)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidRegistration) {
			writeBadRequest(w, "device_id and push_token are required")
			return
		}
		s.logger.Error("device registration failed", "device_id", req.DeviceID, "error", err)
		writeInternalError(w, "registration failed")
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// handleListDevices returns the household's registrations.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	devices := s.registry.List(claims.HouseholdID)
	if devices == nil {
		devices = []registry.Registration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one registration.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.householdDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// handleUnregisterDevice removes a registration.
func (s *Server) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.householdDevice(w, r)
	if !ok {
		return
	}

	if err := s.registry.Unregister(r.Context(), reg.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeNotFound(w, "device not registered")
			return
		}
		s.logger.Error("device unregistration failed", "device_id", reg.ID, "error", err)
		writeInternalError(w, "unregistration failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

// handleHeartbeat refreshes a device's last-seen timestamp.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.householdDevice(w, r)
	if !ok {
		return
	}

	if err := s.registry.Heartbeat(r.Context(), reg.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeNotFound(w, "device not registered")
			return
		}
		s.logger.Error("heartbeat failed", "device_id", reg.ID, "error", err)
		writeInternalError(w, "heartbeat failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSetCritical flips a device's critical-delivery opt-out.
func (s *Server) handleSetCritical(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.householdDevice(w, r)
	if !ok {
		return
	}

	var req setCriticalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.SetCriticalEnabled(r.Context(), reg.ID, req.Enabled); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeNotFound(w, "device not registered")
			return
		}
		s.logger.Error("critical flag update failed", "device_id", reg.ID, "error", err)
		writeInternalError(w, "update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"critical_enabled": req.Enabled})
}

// householdDevice loads the device named in the URL and verifies it
// belongs to the caller's household. Writes the error response itself
// when the lookup fails.
func (s *Server) householdDevice(w http.ResponseWriter, r *http.Request) (*registry.Registration, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeBadRequest(w, "device id is required")
		return nil, false
	}

	reg, err := s.registry.Get(id)
	if err != nil {
		writeNotFound(w, "device not registered")
		return nil, false
	}

	claims := claimsFrom(r.Context())
	if reg.HouseholdID != claims.HouseholdID {
		// Do not leak existence of other households' devices.
		writeNotFound(w, "device not registered")
		return nil, false
	}
	return reg, true
}
