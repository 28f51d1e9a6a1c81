package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultWindow is how long after a scheduled instant a slot may still fire.
// Slightly under an hour so adjacent slots (>= 60 min apart by configuration
// rule) can never overlap.
const DefaultWindow = 59 * time.Minute

// Matcher decides whether a channel's scheduled slot is due. Post times are
// civil "HH:MM" strings interpreted in a fixed UTC offset.
type Matcher struct {
	loc    *time.Location
	window time.Duration
}

func NewMatcher(utcOffsetHours int, window time.Duration) Matcher {
	if window <= 0 {
		window = DefaultWindow
	}
	name := fmt.Sprintf("UTC%+d", utcOffsetHours)
	return Matcher{loc: time.FixedZone(name, utcOffsetHours*3600), window: window}
}

// NextDue returns the slot instant (unix ms) to serve now, if any.
//
// A slot fires when now lies in [slot, slot+window) and lastPostedAt is
// strictly before the slot instant. lastPostedAt records slot identity, so
// the same slot never fires twice regardless of tick cadence or send
// latency, and the next day's occurrence fires again. Scanning stops at the
// first match; at most one slot per channel per tick.
func (m Matcher) NextDue(now time.Time, times []string, lastPostedAt int64) (int64, bool) {
	local := now.In(m.loc)
	for _, raw := range times {
		h, min, err := parseHHMM(raw)
		if err != nil {
			continue
		}
		slot := time.Date(local.Year(), local.Month(), local.Day(), h, min, 0, 0, m.loc)
		ms := slot.UnixMilli()
		if !now.Before(slot) && now.Sub(slot) < m.window && lastPostedAt < ms {
			return ms, true
		}
	}
	return 0, false
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
