package timeslots

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"time"
)

// TimeSlot is an available interval published by the provider. Its identity is
// the (From, To) pair; Extra keeps every other field the provider sent.
type TimeSlot struct {
	From  string
	To    string
	Extra map[string]any
}

// Record returns the slot as a JSON-like record, the shape Equal works on.
func (s TimeSlot) Record() map[string]any {
	rec := make(map[string]any, len(s.Extra)+2)
	rec["from"] = s.From
	rec["to"] = s.To
	for k, v := range s.Extra {
		rec[k] = v
	}
	return rec
}

// MarshalJSON writes the slot back with its extra fields.
func (s TimeSlot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record())
}

// UnmarshalJSON reads from/to and keeps the rest of the object in Extra.
func (s *TimeSlot) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	slot := TimeSlot{}
	for k, v := range raw {
		switch k {
		case "from":
			if str, ok := v.(string); ok {
				slot.From = str
				continue
			}
		case "to":
			if str, ok := v.(string); ok {
				slot.To = str
				continue
			}
		}
		if slot.Extra == nil {
			slot.Extra = map[string]any{}
		}
		slot.Extra[k] = v
	}

	*s = slot
	return nil
}

// MarshalYAML exports the slot as a plain mapping.
func (s TimeSlot) MarshalYAML() (any, error) {
	return s.Record(), nil
}

// Offset is the provider's timezone offset. The API has been seen sending it
// both as a string and as a number of seconds.
type Offset string

// UnmarshalJSON accepts string and numeric offsets.
func (o *Offset) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*o = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = Offset(s)
		return nil
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
		return err
	}
	*o = Offset(trimmed)
	return nil
}

// Timezone describes the warehouse timezone attached to a timeslot response.
type Timezone struct {
	IANAName string `json:"iana_name"`
	Offset   Offset `json:"offset"`
}

// Response is the provider payload for a single supply order's timeslots. A
// non-zero Code marks the payload as a provider error.
type Response struct {
	Timeslots []TimeSlot        `json:"timeslots"`
	Timezone  []Timezone        `json:"timezone,omitempty"`
	Code      int               `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
	Details   []json.RawMessage `json:"details,omitempty"`
}

// Err returns the provider error carried by the payload, if any.
func (r *Response) Err() error {
	if r == nil || r.Code == 0 {
		return nil
	}
	return &UpstreamError{Code: r.Code, Message: r.Message}
}

// DiffEntry records one detected change for a comparison key.
type DiffEntry struct {
	ID        string     `json:"id" yaml:"id"`
	Key       string     `json:"key" yaml:"key"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
	Added     []TimeSlot `json:"added" yaml:"added"`
	Removed   []TimeSlot `json:"removed" yaml:"removed"`
}

// Result is what a single Diff call detected.
type Result struct {
	Added   []TimeSlot `json:"added"`
	Removed []TimeSlot `json:"removed"`
}

// Changed reports whether anything was added or removed.
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// MemoryRecord is a snapshot of what the engine remembers for one key.
type MemoryRecord struct {
	Key      string      `json:"key"`
	Original []TimeSlot  `json:"original"`
	Latest   []TimeSlot  `json:"latest"`
	History  []DiffEntry `json:"history"`
}

func (e DiffEntry) clone() DiffEntry {
	e.Added = cloneSlots(e.Added)
	e.Removed = cloneSlots(e.Removed)
	return e
}

func cloneSlots(src []TimeSlot) []TimeSlot {
	out := make([]TimeSlot, len(src))
	copy(out, src)
	for i := range out {
		if out[i].Extra != nil {
			out[i].Extra = maps.Clone(out[i].Extra)
		}
	}
	return out
}
