package mqtt

import (
	"fmt"
	"strings"
)

const (
	wildcardSingle = "+"
	wildcardMulti  = "#"
	topicSeparator = "/"
)

// Matches reports whether a published topic matches a subscription filter.
//
// Matching is segment-wise and case-sensitive:
//   - "+" consumes exactly one topic segment of any value
//   - "#" must be the last filter segment and matches one or more remaining segments
//   - any other segment must equal the topic segment
//
// Topics starting with "$" are never matched by a leading wildcard.
//
// Example:
//
//	Matches("a/+/c", "a/b/c")     // true
//	Matches("a/#", "a/b/c/d")     // true
//	Matches("a/#", "a")           // false
//	Matches("a/+/c", "a/b/x/c")   // false
func Matches(filter, topic string) bool {
	if topic == "" || filter == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterParts := strings.Split(filter, topicSeparator)
	topicParts := strings.Split(topic, topicSeparator)

	if strings.HasPrefix(topic, "$") && (filterParts[0] == wildcardSingle || filterParts[0] == wildcardMulti) {
		return false
	}

	for i, fp := range filterParts {
		if fp == wildcardMulti {
			return i == len(filterParts)-1 && len(topicParts) > i
		}
		if i >= len(topicParts) {
			return false
		}
		if fp != wildcardSingle && fp != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

// ValidFilter checks that a subscription filter is well formed.
//
// Returns:
//   - error: ErrInvalidTopic for an empty filter, ErrInvalidFilter for a
//     misplaced or partial-segment wildcard, nil otherwise
func ValidFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}

	parts := strings.Split(filter, topicSeparator)
	for i, p := range parts {
		if strings.Contains(p, wildcardMulti) && (p != wildcardMulti || i != len(parts)-1) {
			return fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
		}
		if strings.Contains(p, wildcardSingle) && p != wildcardSingle {
			return fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// validPublishTopic rejects empty topics and topics containing wildcards.
func validPublishTopic(topic string) error {
	if topic == "" || strings.ContainsAny(topic, wildcardSingle+wildcardMulti) {
		return ErrInvalidTopic
	}
	return nil
}
