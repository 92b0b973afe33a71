package device

import (
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

// PairingStatus is the normalised progress of a pairing session.
type PairingStatus string

// Pairing statuses.
const (
	PairingJoined       PairingStatus = "joined"
	PairingInterviewing PairingStatus = "interviewing"
	PairingCompleted    PairingStatus = "completed"
	PairingFailed       PairingStatus = "failed"
)

// Terminal reports whether no further progress is expected.
func (s PairingStatus) Terminal() bool {
	return s == PairingCompleted || s == PairingFailed
}

// PairingSession is the latest pairing progress for one protocol.
type PairingSession struct {
	Protocol   string              `json:"protocol"`
	Stage      string              `json:"stage"`
	Status     PairingStatus       `json:"status"`
	Active     bool                `json:"active"`
	ExternalID string              `json:"external_id,omitempty"`
	DeviceID   string              `json:"device_id,omitempty"`
	Metadata   hdp.PairingMetadata `json:"metadata,omitzero"`
	StartedAt  time.Time           `json:"started_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// normalizeStage maps adapter stage names onto PairingStatus.
func normalizeStage(stage string) (PairingStatus, bool) {
	switch stage {
	case "device_joined", "device_announced", "joined":
		return PairingJoined, true
	case "interview_started", "interviewing":
		return PairingInterviewing, true
	case "interview_succeeded", "interview_complete", "completed":
		return PairingCompleted, true
	case "interview_failed", "failed", "timeout":
		return PairingFailed, true
	default:
		return "", false
	}
}

// PairingTracker keeps one session per protocol.
// Like Reconciler it is owned by a single goroutine.
type PairingTracker struct {
	sessions map[string]PairingSession
}

// NewPairingTracker creates an empty tracker.
func NewPairingTracker() *PairingTracker {
	return &PairingTracker{sessions: make(map[string]PairingSession)}
}

// Apply folds one progress message into its protocol's session.
// Unrecognised stages and messages without a protocol are ignored.
func (t *PairingTracker) Apply(p hdp.PairingProgress) (PairingSession, bool) {
	if p.Protocol == "" {
		return PairingSession{}, false
	}
	status, ok := normalizeStage(p.Stage)
	if !ok {
		if status, ok = normalizeStage(p.Status); !ok {
			return PairingSession{}, false
		}
	}

	session, exists := t.sessions[p.Protocol]
	if !exists || !session.Active {
		// A finished session is replaced by the next one.
		session = PairingSession{Protocol: p.Protocol, StartedAt: p.TS}
	}

	session.Stage = p.Stage
	session.Status = status
	session.Active = !status.Terminal()
	session.UpdatedAt = p.TS
	if p.ExternalID != "" {
		session.ExternalID = p.ExternalID
	}
	if p.DeviceID != "" {
		session.DeviceID = p.DeviceID
	}
	mergePairingMetadata(&session.Metadata, p.Metadata)

	t.sessions[p.Protocol] = session
	return session, true
}

func mergePairingMetadata(dst *hdp.PairingMetadata, src hdp.PairingMetadata) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Icon != "" {
		dst.Icon = src.Icon
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Type != "" {
		dst.Type = src.Type
	}
	if src.Manufacturer != "" {
		dst.Manufacturer = src.Manufacturer
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
}

// Sessions returns a copy of the session map keyed by protocol.
func (t *PairingTracker) Sessions() map[string]PairingSession {
	out := make(map[string]PairingSession, len(t.sessions))
	for k, v := range t.sessions {
		out[k] = v
	}
	return out
}
