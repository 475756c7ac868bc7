package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/airlogic/turkov-bridge/internal/channel"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/engine"
)

// handleListDevices returns all discovered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.engine.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for _, dev := range s.engine.Devices() {
		if dev.ID == id {
			writeJSON(w, http.StatusOK, dev)
			return
		}
	}
	writeNotFound(w, "device not found")
}

// StateResponse is the device state payload.
type StateResponse struct {
	DeviceID    string             `json:"device_id"`
	Values      map[string]any     `json:"values"`
	Timestamp   time.Time          `json:"timestamp"`
	Channel     device.ChannelName `json:"channel"`
	Stale       bool               `json:"stale"`
	Provisional []string           `json:"provisional,omitempty"`
	Corrected   []string           `json:"corrected,omitempty"`
}

// handleGetDeviceState returns a device's cached state snapshot.
//
// A device that has never completed a poll returns 404 with a distinct
// message; stale state is returned normally with the stale flag set.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.engine.State(id)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, engine.ErrStateUnknown):
			writeNotFound(w, "device state not yet known")
		default:
			writeInternalError(w, "failed to read device state")
		}
		return
	}

	writeJSON(w, http.StatusOK, StateResponse{
		DeviceID:    id,
		Values:      snap.Values,
		Timestamp:   snap.Timestamp,
		Channel:     snap.Channel,
		Stale:       snap.Stale,
		Provisional: snap.Provisional,
		Corrected:   snap.Corrected,
	})
}

// handleGetDeviceCapabilities returns a device's advertised capability set.
func (s *Server) handleGetDeviceCapabilities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	caps, err := s.engine.Capabilities(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to read device capabilities")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"capabilities": caps, "count": len(caps)})
}

// CommandRequest is the body for POST /devices/{id}/command.
type CommandRequest struct {
	Capability string `json:"capability"`
	Value      any    `json:"value"`
}

// commandTimeout bounds a synchronous command dispatch, covering a
// possible cross-channel retry.
const commandTimeout = 30 * time.Second

// handleDispatchCommand validates and dispatches a control intent,
// returning the command record with its terminal outcome.
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Capability == "" {
		writeBadRequest(w, "capability is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	cmd, err := s.engine.Dispatch(ctx, id, req.Capability, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrUnsupportedCapability):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, device.ErrValueRejected):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, channel.ErrCommandRejected):
			writeError(w, http.StatusConflict, ErrCodeConflict, "device rejected the command")
		case errors.Is(err, engine.ErrCommandFailed), errors.Is(err, channel.ErrConnectivity):
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, "command failed on all channels")
		default:
			writeInternalError(w, "command dispatch failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}
