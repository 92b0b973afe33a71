package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

// ResolveInput maps a UI input value onto patch using the device's declared
// inputs. The input is matched by id or property, case-insensitively.
//
// Toggles become booleans (a "state" or "power" property is written as
// "on"), sliders and numerics become numbers, colours become {"hex": ...}
// and anything else is passed through.
func (r *Record) ResolveInput(inputID string, value any, patch map[string]any) error {
	inputID = strings.TrimSpace(inputID)
	if inputID == "" {
		return fmt.Errorf("%w: input id is required", ErrInvalidInput)
	}

	var in *hdp.Input
	for i := range r.Inputs {
		if strings.EqualFold(r.Inputs[i].ID, inputID) || strings.EqualFold(r.Inputs[i].Property, inputID) {
			in = &r.Inputs[i]
			break
		}
	}
	if in == nil {
		return fmt.Errorf("%w: %q on %s", ErrInputNotFound, inputID, r.ID)
	}

	key := in.Property
	if key == "" {
		key = in.CapabilityID
	}
	if key == "" {
		return fmt.Errorf("%w: input %q has no property mapping", ErrInvalidInput, in.ID)
	}

	switch in.Type {
	case "toggle":
		patch[toggleKey(key)] = toBool(value)
	case "slider", "number", "numeric":
		n, ok := toNumber(value)
		if !ok {
			return fmt.Errorf("%w: %v is not numeric", ErrInvalidInput, value)
		}
		patch[key] = n
	case "color":
		patch[key] = colorValue(value)
	default:
		patch[key] = value
	}
	return nil
}

func toggleKey(key string) string {
	switch strings.ToLower(key) {
	case "state", "power":
		return "on"
	}
	return key
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "on", "true", "1", "yes":
			return true
		}
		return false
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return false
	}
}

func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func colorValue(v any) any {
	switch val := v.(type) {
	case string:
		return map[string]any{"hex": strings.TrimSpace(val)}
	case map[string]any:
		if hex, ok := val["hex"].(string); ok {
			return map[string]any{"hex": strings.TrimSpace(hex)}
		}
	}
	return v
}
