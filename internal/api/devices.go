package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-devicehub/internal/command"
	"github.com/nerrad567/gray-logic-devicehub/internal/device"
	"github.com/nerrad567/gray-logic-devicehub/internal/hub"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

// deviceView is a device record plus the in-flight command, if any, so a UI
// can overlay the requested patch until newer state arrives.
type deviceView struct {
	device.Record
	Pending *command.PendingInfo `json:"pending,omitempty"`
}

func deviceViews(records []device.Record, pending map[string]command.PendingInfo) []deviceView {
	views := make([]deviceView, len(records))
	for i, rec := range records {
		views[i] = deviceView{Record: rec}
		if p, ok := pending[rec.ID]; ok {
			views[i].Pending = &p
		}
	}
	return views
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	hub.ConnectionStatus
	Broker *mqtt.ConnStatus `json:"broker,omitempty"`
	Stats  hub.Stats        `json:"stats"`
}

// handleListDevices returns every visible device.
//
// Query parameters:
//   - protocol: only devices of this protocol
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records := s.hub.ListDevices()
	if protocol := r.URL.Query().Get("protocol"); protocol != "" {
		filtered := records[:0:0]
		for _, rec := range records {
			if rec.Protocol == protocol {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	devices := deviceViews(records, s.hub.PendingCommands())
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// deviceID returns the {id} path parameter. Canonical ids contain a slash,
// so clients send them escaped ("zigbee%2Flamp").
func deviceID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return id
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)

	rec, ok := s.hub.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, deviceViews([]device.Record{rec}, s.hub.PendingCommands())[0])
}

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	State map[string]any `json:"state"`
	Input *struct {
		ID    string `json:"id"`
		Value any    `json:"value"`
	} `json:"input"`
	TransitionMS  *int   `json:"transition_ms"`
	CorrelationID string `json:"correlation_id"`
}

// refreshRequest is the optional body of POST /devices/{id}/refresh.
type refreshRequest struct {
	Metadata   *bool    `json:"metadata"`
	State      *bool    `json:"state"`
	Properties []string `json:"properties"`
}

// handleSetDeviceState sends the request body as a state patch and waits for
// the command outcome. Success, failure and unknown outcomes are all 200; the
// outcome's status says which.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	outcome, err := s.hub.SendCommand(r.Context(), id, patch)
	s.writeOutcome(w, r, id, outcome, err)
}

// handleDeviceCommand sends a UI command: a state patch and/or a declared
// input value, with an optional transition and correlation id.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)

	var body commandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body.State) == 0 && body.Input == nil {
		writeBadRequest(w, "state or input required")
		return
	}

	req := hub.CommandRequest{
		State:         body.State,
		TransitionMS:  body.TransitionMS,
		CorrelationID: body.CorrelationID,
	}
	if body.Input != nil {
		req.Input = &hub.InputValue{ID: body.Input.ID, Value: body.Input.Value}
	}

	outcome, err := s.hub.SendCommandRequest(r.Context(), id, req)
	s.writeOutcome(w, r, id, outcome, err)
}

// handleDeviceRefresh asks the device's adapter to republish. The body is
// optional; without one both metadata and state are requested.
func (s *Server) handleDeviceRefresh(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)

	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.hub.Refresh(r.Context(), id, hub.RefreshRequest{
		Metadata:   body.Metadata,
		State:      body.State,
		Properties: body.Properties,
	})
	if err != nil {
		s.writeCommandError(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "device_id": id})
}

func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, id string, outcome command.Outcome, err error) {
	if err != nil {
		s.writeCommandError(w, id, err)
		return
	}
	s.logger.Debug("command resolved",
		"device_id", id,
		"correlation_id", outcome.CorrelationID,
		"status", outcome.Status,
		"caller", callerSubject(r),
	)
	writeJSON(w, http.StatusOK, outcome)
}

// writeCommandError maps command path errors onto HTTP statuses.
func (s *Server) writeCommandError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, command.ErrInvalidPayload):
		writeBadRequest(w, "device id and a non-empty patch are required")
	case errors.Is(err, device.ErrNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrInputNotFound):
		writeNotFound(w, "input not found")
	case errors.Is(err, device.ErrInvalidInput):
		writeBadRequest(w, err.Error())
	case errors.Is(err, command.ErrNotConnected),
		errors.Is(err, hub.ErrNotStarted),
		errors.Is(err, hub.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "broker connection unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "request ended before the command resolved")
	default:
		s.logger.Error("sending command failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to send command")
	}
}

// handleStatus returns the push stream status plus broker and hub detail.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		ConnectionStatus: s.hub.ConnectionStatus(),
		Stats:            s.hub.Stats(),
	}
	if s.conn != nil {
		st := s.conn.Status()
		resp.Broker = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePairing returns the latest pairing session per protocol.
func (s *Server) handlePairing(w http.ResponseWriter, _ *http.Request) {
	sessions := s.hub.PairingSessions()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}
