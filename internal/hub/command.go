package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-devicehub/internal/command"
	"github.com/nerrad567/gray-logic-devicehub/internal/device"
	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

// CommandRequest is a state command as issued by a UI.
type CommandRequest struct {
	// State is the property patch. Empty keys and nil values are dropped.
	State map[string]any

	// Input, when set, is resolved against the device's declared inputs and
	// merged into State.
	Input *InputValue

	// TransitionMS, when set, is sent as "transition" in seconds.
	TransitionMS *int

	// CorrelationID overrides the generated correlation id.
	CorrelationID string
}

// InputValue targets one declared device input.
type InputValue struct {
	ID    string
	Value any
}

// RefreshRequest selects what a refresh command asks the adapter to
// republish. With neither Metadata nor State set, both are requested.
type RefreshRequest struct {
	Metadata   *bool
	State      *bool
	Properties []string
}

// SendCommand publishes a set_state command and waits for its outcome.
//
// The command is registered before it is published, superseding any command
// still pending for the device. The outcome is Success or Failed when the
// adapter reports a result for this correlation id, and Unknown on timeout,
// supersede, or connection teardown.
//
// Parameters:
//   - ctx: Bounds the wait; the command keeps its own timeout regardless
//   - deviceID: Device id, usually "protocol/external"
//   - patch: Properties to set
//
// Returns:
//   - command.Outcome: The single outcome of this command
//   - error: command.ErrInvalidPayload or command.ErrNotConnected when
//     nothing was sent, a publish error, or ctx's error
func (h *Hub) SendCommand(ctx context.Context, deviceID string, patch map[string]any) (command.Outcome, error) {
	return h.SendCommandRequest(ctx, deviceID, CommandRequest{State: patch})
}

// SendCommandRequest is SendCommand with input resolution, a transition and
// a caller-supplied correlation id. Resolving an input needs the device to be
// known: device.ErrNotFound, device.ErrInputNotFound and
// device.ErrInvalidInput are returned before anything is sent.
func (h *Hub) SendCommandRequest(ctx context.Context, deviceID string, req CommandRequest) (command.Outcome, error) {
	id := device.NormalizeID(deviceID)
	patch := cleanPatch(req.State)
	if id == "" || (len(patch) == 0 && req.Input == nil) {
		return command.Outcome{}, command.ErrInvalidPayload
	}
	if !h.conn.Connected() {
		return command.Outcome{}, command.ErrNotConnected
	}
	if req.TransitionMS != nil {
		patch["transition"] = float64(*req.TransitionMS) / 1000.0
	}

	result := make(chan command.Outcome, 1)
	var (
		info       command.PendingInfo
		resolveErr error
	)
	err := h.do(ctx, func() {
		if req.Input != nil {
			rec, ok := h.recon.Get(id)
			if !ok {
				resolveErr = fmt.Errorf("%w: %s", device.ErrNotFound, id)
				return
			}
			if resolveErr = rec.ResolveInput(req.Input.ID, req.Input.Value, patch); resolveErr != nil {
				return
			}
		}
		if len(patch) == 0 {
			resolveErr = command.ErrInvalidPayload
			return
		}
		corr := strings.TrimSpace(req.CorrelationID)
		info = h.corr.RegisterAs(id, corr, patch, h.recon.StateVersion(id), func(o command.Outcome) {
			result <- o
		})
		h.pendingDirty = true
	})
	if err != nil {
		return command.Outcome{}, err
	}
	if resolveErr != nil {
		return command.Outcome{}, resolveErr
	}

	if err := h.publishCommand(ctx, id, info.CorrelationID, patch); err != nil {
		h.post(func() {
			h.corr.Cancel(id, info.CorrelationID)
			h.pendingDirty = true
		})
		return command.Outcome{}, err
	}
	h.logger.Debug("command sent", "device_id", id, "corr", info.CorrelationID)

	select {
	case o := <-result:
		if o.Status != command.StatusSuccess {
			h.logger.Info("command not confirmed",
				"device_id", id, "corr", o.CorrelationID, "status", string(o.Status), "reason", string(o.Reason))
		}
		return o, nil
	case <-ctx.Done():
		return command.Outcome{}, ctx.Err()
	}
}

// Refresh asks the device's adapter to republish metadata and/or state. It
// does not wait: the republished messages arrive through the normal channels.
func (h *Hub) Refresh(ctx context.Context, deviceID string, req RefreshRequest) error {
	id := device.NormalizeID(deviceID)
	if id == "" {
		return command.ErrInvalidPayload
	}
	if !h.conn.Connected() {
		return command.ErrNotConnected
	}

	var known bool
	if err := h.do(ctx, func() { _, known = h.recon.Get(id) }); err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %s", device.ErrNotFound, id)
	}

	metadata, state := true, true
	if req.Metadata != nil || req.State != nil {
		metadata = req.Metadata == nil || *req.Metadata
		state = req.State == nil || *req.State
		if !metadata && !state {
			state = true
		}
	}
	props := make([]string, 0, len(req.Properties))
	for _, p := range req.Properties {
		if p = strings.TrimSpace(p); p != "" {
			props = append(props, p)
		}
	}

	payload, err := hdp.NewRefresh(id, metadata, state, props, h.now()).Encode()
	if err != nil {
		return fmt.Errorf("%w: %w", command.ErrInvalidPayload, err)
	}
	if err := h.sendEnvelope(ctx, id, payload); err != nil {
		return err
	}
	h.logger.Debug("refresh sent", "device_id", id, "metadata", metadata, "state", state)
	return nil
}

// cleanPatch copies patch without empty keys or nil values.
func cleanPatch(patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		if strings.TrimSpace(k) != "" && v != nil {
			out[k] = v
		}
	}
	return out
}

func (h *Hub) publishCommand(ctx context.Context, id, corr string, patch map[string]any) error {
	payload, err := hdp.NewSetState(id, corr, patch, h.now()).Encode()
	if err != nil {
		return fmt.Errorf("%w: %w", command.ErrInvalidPayload, err)
	}
	return h.sendEnvelope(ctx, id, payload)
}

// sendEnvelope sends an encoded command envelope to the device's command topic.
func (h *Hub) sendEnvelope(ctx context.Context, id string, payload []byte) error {
	if err := h.conn.Publish(ctx, h.topics.Command(id), payload, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) || errors.Is(err, mqtt.ErrClosed) {
			return fmt.Errorf("%w: %w", command.ErrNotConnected, err)
		}
		return fmt.Errorf("publishing command for %s: %w", id, err)
	}
	return nil
}
