package sched

import (
	"testing"
	"time"
)

var utc5 = time.FixedZone("UTC+5", 5*3600)

func at(t *testing.T, hhmm string, day int) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", "2024-03-"+pad(day)+" "+hhmm+":00", utc5)
	if err != nil {
		t.Fatalf("bad test time %q: %v", hhmm, err)
	}
	return parsed
}

func pad(day int) string {
	if day < 10 {
		return "0" + string(rune('0'+day))
	}
	return string(rune('0'+day/10)) + string(rune('0'+day%10))
}

func TestMatcherFiresInsideWindow(t *testing.T) {
	t.Parallel()
	m := NewMatcher(5, 0)

	now := at(t, "10:05", 15)
	slot, ok := m.NextDue(now, []string{"10:00"}, 0)
	if !ok {
		t.Fatal("expected slot to fire at 10:05 for a 10:00 time")
	}
	want := at(t, "10:00", 15).UnixMilli()
	if slot != want {
		t.Fatalf("slot = %d, want %d", slot, want)
	}
}

func TestMatcherWindowBounds(t *testing.T) {
	t.Parallel()
	m := NewMatcher(5, 0)
	times := []string{"10:00"}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "just before slot", now: at(t, "09:59", 15), want: false},
		{name: "exactly at slot", now: at(t, "10:00", 15), want: true},
		{name: "last minute of window", now: at(t, "10:58", 15), want: true},
		{name: "window closed", now: at(t, "10:59", 15), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, ok := m.NextDue(tt.now, times, 0)
			if ok != tt.want {
				t.Fatalf("NextDue at %v = %v, want %v", tt.now, ok, tt.want)
			}
		})
	}
}

func TestMatcherIdempotentAcrossTicks(t *testing.T) {
	t.Parallel()
	m := NewMatcher(5, 0)
	times := []string{"10:00"}

	slot, ok := m.NextDue(at(t, "10:00", 15), times, 0)
	if !ok {
		t.Fatal("first tick should fire")
	}

	// Simulated 60s ticks through the rest of the window: never fires again
	// once lastPostedAt holds the slot identity.
	for min := 1; min < 59; min++ {
		now := at(t, "10:00", 15).Add(time.Duration(min) * time.Minute)
		if _, again := m.NextDue(now, times, slot); again {
			t.Fatalf("slot fired twice at +%dm", min)
		}
	}

	// Next day's occurrence fires again.
	next, ok := m.NextDue(at(t, "10:05", 16), times, slot)
	if !ok {
		t.Fatal("next day's slot should fire")
	}
	if next <= slot {
		t.Fatalf("next day slot %d not after previous %d", next, slot)
	}
	if next-slot != 24*time.Hour.Milliseconds() {
		t.Fatalf("slot spacing = %dms, want 24h", next-slot)
	}
}

func TestMatcherFirstMatchWins(t *testing.T) {
	t.Parallel()
	m := NewMatcher(5, 0)

	// 09:30 window is still open at 10:05; it is listed first and must win
	// even though 10:00 also matches.
	now := at(t, "10:05", 15)
	slot, ok := m.NextDue(now, []string{"09:30", "10:00"}, 0)
	if !ok {
		t.Fatal("expected a slot")
	}
	if want := at(t, "09:30", 15).UnixMilli(); slot != want {
		t.Fatalf("slot = %d, want first listed time %d", slot, want)
	}
}

func TestMatcherAtMostOncePerTimePerDay(t *testing.T) {
	t.Parallel()
	m := NewMatcher(5, 0)
	times := []string{"08:00", "12:00", "20:00"}

	fired := map[int64]int{}
	last := int64(0)
	// Tick every minute for a whole civil day.
	start := at(t, "00:00", 15)
	for min := 0; min < 24*60; min++ {
		now := start.Add(time.Duration(min) * time.Minute)
		if slot, ok := m.NextDue(now, times, last); ok {
			fired[slot]++
			last = slot
		}
	}
	if len(fired) != len(times) {
		t.Fatalf("fired %d distinct slots, want %d", len(fired), len(times))
	}
	for slot, n := range fired {
		if n != 1 {
			t.Fatalf("slot %d fired %d times", slot, n)
		}
	}
}

func TestMatcherSkipsMalformedTimes(t *testing.T) {
	t.Parallel()
	m := NewMatcher(5, 0)
	now := at(t, "10:05", 15)
	slot, ok := m.NextDue(now, []string{"nonsense", "25:00", "10:0x", "10:00"}, 0)
	if !ok {
		t.Fatal("valid time after malformed entries should still fire")
	}
	if want := at(t, "10:00", 15).UnixMilli(); slot != want {
		t.Fatalf("slot = %d, want %d", slot, want)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}
	for _, bad := range []string{"", "10", "24:00", "10:60", "aa:bb"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
