package mqtt

import (
	"errors"
	"testing"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/+/c", "a/b/c", true},
		{"a/#", "a/b/c/d", true},
		{"a/#", "a", false},
		{"a/+/c", "a/b/x/c", false},
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"A/b", "a/b", false},
		{"+", "a", true},
		{"+", "a/b", false},
		{"+/+", "a/b", true},
		{"#", "a/b/c", true},
		{"a/+", "a", false},
		{"a/b/c", "a/b", false},
		{"a/b", "a/b/c", false},
		{"homenavi/hdp/device/state/#", "homenavi/hdp/device/state/zigbee/0x01", true},
		{"homenavi/hdp/device/state/#", "homenavi/hdp/device/metadata/zigbee/0x01", false},
		{"homenavi/hdp/pairing/progress/+", "homenavi/hdp/pairing/progress/zigbee", true},
		{"#", "$SYS/broker/uptime", false},
		{"+/broker/uptime", "$SYS/broker/uptime", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"", "a", false},
		{"a", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			if got := Matches(tt.filter, tt.topic); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestValidFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr error
	}{
		{"a/b/c", nil},
		{"a/+/c", nil},
		{"a/#", nil},
		{"#", nil},
		{"+", nil},
		{"", ErrInvalidTopic},
		{"a/#/c", ErrInvalidFilter},
		{"a/b#", ErrInvalidFilter},
		{"a/b+/c", ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidFilter(tt.filter)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidFilter(%q) error = %v, want nil", tt.filter, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidFilter(%q) error = %v, want %v", tt.filter, err, tt.wantErr)
			}
		})
	}
}

func TestValidPublishTopic(t *testing.T) {
	for _, topic := range []string{"", "a/+", "a/#"} {
		if err := validPublishTopic(topic); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("validPublishTopic(%q) error = %v, want ErrInvalidTopic", topic, err)
		}
	}
	if err := validPublishTopic("homenavi/hdp/device/command/zigbee/0x01"); err != nil {
		t.Errorf("validPublishTopic() error = %v, want nil", err)
	}
}
