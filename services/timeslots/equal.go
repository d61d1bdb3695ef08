package timeslots

import (
	"encoding/json"
	"math"
	"reflect"
)

// Equal reports whether two JSON-like values are structurally equal.
//
// Records that both carry non-empty "from" and "to" fields are treated as
// time slots and compared on those two fields only, so metadata added by the
// provider never produces a difference. Sequences are order sensitive. Equal
// never panics.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true

	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		if isSlotShaped(av) && isSlotShaped(bv) {
			return Equal(av["from"], bv["from"]) && Equal(av["to"], bv["to"])
		}
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true

	case string:
		bv, ok := b.(string)
		return ok && av == bv

	case float64:
		bv, ok := b.(float64)
		return ok && av == bv

	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}

	return reflect.DeepEqual(a, b)
}

func isSlotShaped(rec map[string]any) bool {
	return truthy(rec["from"]) && truthy(rec["to"])
}

// truthy mirrors what "non-empty" means for a JSON value.
func truthy(v any) bool {
	switch t := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case TimeSlot:
		return t.Record()
	case *TimeSlot:
		if t == nil {
			return nil
		}
		return t.Record()
	case []TimeSlot:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s.Record()
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	}
	return v
}
