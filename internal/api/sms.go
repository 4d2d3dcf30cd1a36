package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/relaywire/smsgate/internal/broker"
	"github.com/relaywire/smsgate/internal/history"
)

// sendSMSRequest is the body of POST /api/v1/sms.
type sendSMSRequest struct {
	DeviceIdentifier string `json:"deviceIdentifier"`
	Destination      string `json:"destination"`
	Message          string `json:"message"`
}

// handleSendSMS relays one SMS through a connected device and waits for the
// device's reply. The call is bounded by the broker's reply deadline, so a
// dead device costs the caller at most that window.
func (s *Server) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	var req sendSMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceIdentifier == "" {
		writeBadRequest(w, "deviceIdentifier is required")
		return
	}
	if req.Destination == "" {
		writeBadRequest(w, "destination is required")
		return
	}
	if req.Message == "" {
		writeBadRequest(w, "message is required")
		return
	}

	start := time.Now()
	reply, err := s.broker.Send(r.Context(), req.DeviceIdentifier, req.Destination, req.Message)
	latency := time.Since(start)

	outcome := outcomeFor(reply, err)
	s.recordDelivery(r.Context(), req, outcome, reply.Message, latency)

	if err != nil {
		switch {
		case errors.Is(err, broker.ErrNotRegistered):
			writeNotFound(w, "unknown device identifier")
		case errors.Is(err, broker.ErrNotConnected):
			writeNotFound(w, "device is not connected")
		case errors.Is(err, broker.ErrTimeout):
			writeTimeout(w, "device did not reply in time")
		default:
			writeInternalError(w, "failed to relay message")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        reply.Status,
		"deviceMessage": reply.Message,
	})
}

// outcomeFor maps a broker result onto a delivery log outcome.
func outcomeFor(reply broker.Reply, err error) string {
	switch {
	case err == nil && reply.Status:
		return history.OutcomeDelivered
	case err == nil:
		return history.OutcomeFailed
	case errors.Is(err, broker.ErrTimeout):
		return history.OutcomeTimeout
	case errors.Is(err, broker.ErrNotConnected):
		return history.OutcomeNotConnected
	case errors.Is(err, broker.ErrNotRegistered):
		return history.OutcomeNotFound
	default:
		return history.OutcomeFailed
	}
}

// recordDelivery writes the attempt to the history log, metrics, and event
// mirror. All three are best-effort; failures are logged and do not affect
// the response.
func (s *Server) recordDelivery(ctx context.Context, req sendSMSRequest, outcome, detail string, latency time.Duration) {
	if s.history != nil {
		entry := history.Entry{
			Identifier:  req.DeviceIdentifier,
			Destination: req.Destination,
			Message:     req.Message,
			Outcome:     outcome,
			Detail:      detail,
		}
		if err := s.history.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to record delivery history",
				"identifier", req.DeviceIdentifier,
				"error", err,
			)
		}
	}

	if s.metrics != nil {
		s.metrics.WriteDelivery(req.DeviceIdentifier, outcome, latency)
	}

	if s.events != nil {
		s.events.Delivery(req.DeviceIdentifier, req.Destination, outcome, "", latency)
	}
}

// handleHistory returns recent delivery attempts.
//
// Query parameters:
//   - device: filter by device identifier
//   - limit: maximum entries (default 50, max 200)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "delivery history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), r.URL.Query().Get("device"), limit)
	if err != nil {
		s.logger.Error("failed to list delivery history", "error", err)
		writeInternalError(w, "failed to list delivery history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleStats returns registry and relay gauges.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": s.store.Count(),
		"connected":  s.gateway.Count(),
		"pending":    s.broker.PendingCount(),
	})
}
