package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

// CanonicalID builds the "protocol/external" device id.
// The protocol is lowercased; surrounding slashes and spaces are trimmed.
func CanonicalID(protocol, external string) string {
	p := strings.ToLower(strings.Trim(strings.TrimSpace(protocol), "/"))
	e := strings.Trim(strings.TrimSpace(external), "/")
	if p == "" {
		return e
	}
	return p + "/" + e
}

// NormalizeID canonicalises an id received on the wire.
func NormalizeID(id string) string {
	id = strings.Trim(strings.TrimSpace(id), "/")
	protocol, external, ok := strings.Cut(id, "/")
	if !ok {
		return id
	}
	return CanonicalID(protocol, external)
}

// IdentityPolicy decides which device ids are legacy identities.
//
// Legacy ids come from older adapters and must not surface: a bare UUID or
// an id matching one of the configured topic-style patterns (e.g. "zigbee/+"
// for adapters that used to publish short ids). Ids without a protocol
// prefix are accepted as they are.
type IdentityPolicy struct {
	patterns []string
}

// NewIdentityPolicy validates patterns with the topic filter rules.
func NewIdentityPolicy(patterns []string) (IdentityPolicy, error) {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := mqtt.ValidFilter(p); err != nil {
			return IdentityPolicy{}, fmt.Errorf("%w: legacy identity pattern %q: %w", ErrInvalidIdentity, p, err)
		}
		cleaned = append(cleaned, p)
	}
	return IdentityPolicy{patterns: cleaned}, nil
}

// IsLegacy reports whether id is a legacy identity.
func (p IdentityPolicy) IsLegacy(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	for _, pattern := range p.patterns {
		if mqtt.Matches(pattern, id) {
			return true
		}
	}
	return false
}
