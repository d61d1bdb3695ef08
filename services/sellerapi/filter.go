package sellerapi

import (
	"math"
	"strconv"
	"strings"
	"time"

	"slotwatch/services/timeslots"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FilterRange keeps the slots of resp that overlap [from, to]. A slot is
// dropped only when it ends before from or starts after to, so touching
// bounds are kept. Either bound may be empty.
//
// Times without a zone designator are read in the payload's first timezone.
// With both bounds empty, or without timezone data, resp is returned as is.
// Times that cannot be parsed never exclude a slot.
func FilterRange(resp timeslots.Response, from, to string) timeslots.Response {
	if from == "" && to == "" {
		return resp
	}
	if resp.Timeslots == nil || len(resp.Timezone) == 0 {
		return resp
	}
	loc, ok := Location(resp.Timezone[0])
	if !ok {
		return resp
	}

	lower, hasLower := parseTime(from, loc)
	upper, hasUpper := parseTime(to, loc)

	kept := make([]timeslots.TimeSlot, 0, len(resp.Timeslots))
	for _, s := range resp.Timeslots {
		if hasLower {
			if end, ok := parseTime(s.To, loc); ok && end.Before(lower) {
				continue
			}
		}
		if hasUpper {
			if start, ok := parseTime(s.From, loc); ok && start.After(upper) {
				continue
			}
		}
		kept = append(kept, s)
	}

	out := resp
	out.Timeslots = kept
	return out
}

// Location resolves the provider timezone. The offset wins over the IANA
// name; accepted offsets are "Z", "±HH:MM", "±HHMM", "±HH" and a number of
// seconds east of UTC.
func Location(tz timeslots.Timezone) (*time.Location, bool) {
	if loc, ok := offsetLocation(strings.TrimSpace(string(tz.Offset))); ok {
		return loc, true
	}
	if tz.IANAName != "" {
		if loc, err := time.LoadLocation(tz.IANAName); err == nil {
			return loc, true
		}
	}
	return nil, false
}

func offsetLocation(s string) (*time.Location, bool) {
	switch {
	case s == "":
		return nil, false
	case s == "Z" || s == "z":
		return time.UTC, true
	}

	if s[0] == '+' || s[0] == '-' {
		if h, m, ok := splitClock(s[1:]); ok {
			sign := 1
			if s[0] == '-' {
				sign = -1
			}
			return time.FixedZone(s, sign*(h*3600+m*60)), true
		}
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || math.Abs(secs) > 14*3600 {
		return nil, false
	}
	return time.FixedZone(s, int(secs)), true
}

func parseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// splitClock reads "HH", "HHMM" or "HH:MM".
func splitClock(s string) (int, int, bool) {
	var hh, mm string
	switch {
	case len(s) == 2:
		hh = s
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	case len(s) == 5 && s[2] == ':':
		hh, mm = s[:2], s[3:]
	default:
		return 0, 0, false
	}
	if !isDigits(hh) || (mm != "" && !isDigits(mm)) {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(hh)
	m := 0
	if mm != "" {
		m, _ = strconv.Atoi(mm)
	}
	if h > 14 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
