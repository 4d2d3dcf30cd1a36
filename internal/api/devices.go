package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/relaywire/smsgate/internal/device"
	"github.com/relaywire/smsgate/internal/gateway"
)

// createDeviceRequest is the body of POST /api/v1/devices.
type createDeviceRequest struct {
	// Key is the pre-shared secret the device will register with.
	Key string `json:"key"`

	// Expiry is an optional RFC3339 timestamp after which the key stops
	// working.
	Expiry string `json:"expiry,omitempty"`
}

// registerDeviceRequest is the body of POST /api/v1/devices/register and
// DELETE /api/v1/devices.
type registerDeviceRequest struct {
	Key string `json:"key"`
}

// handleCreateDevice provisions a new device key.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var expiry *time.Time
	if req.Expiry != "" {
		t, err := time.Parse(time.RFC3339, req.Expiry)
		if err != nil {
			writeBadRequest(w, "expiry must be an RFC3339 timestamp")
			return
		}
		expiry = &t
	}

	d, err := s.store.Create(req.Key, expiry)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrMissingKey):
			writeBadRequest(w, "key is required")
		case errors.Is(err, device.ErrDuplicateKey):
			writeConflict(w, "key is already registered")
		default:
			writeInternalError(w, "failed to create device")
		}
		return
	}

	s.logger.Info("device key created", "identifier", d.Identifier)
	if s.events != nil {
		s.events.DeviceRegistered(d.Identifier)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":               d.ID,
		"deviceIdentifier": d.Identifier,
	})
}

// handleDeleteDevice removes a device key. A device connected on that key
// receives a force_disconnect explaining why it lost its session.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	removed, err := s.store.Delete(req.Key)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	// Sever the connection bound at removal time. The record is already
	// gone, so a connect racing this handler fails authentication and no
	// binding can outlive the key.
	if removed.ConnectionID != "" {
		if err := s.gateway.ForceClose(removed.ConnectionID, gateway.ReasonKeyDeleted); err != nil {
			s.logger.Warn("force close on delete failed",
				"identifier", removed.Identifier,
				"error", err,
			)
		}
	}

	s.logger.Info("device key deleted", "identifier", removed.Identifier)
	if s.events != nil {
		s.events.DeviceDeleted(removed.Identifier)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":          true,
		"deviceIdentifier": removed.Identifier,
	})
}

// handleRegisterDevice exchanges a pre-shared key for the public device
// identifier. Called by the device once, before its first WebSocket connect.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.store.LookupByKey(req.Key)
	if err != nil {
		writeNotFound(w, "invalid key")
		return
	}

	if !d.Usable(time.Now()) {
		writeBadRequest(w, "key has expired")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceIdentifier": d.Identifier,
	})
}
