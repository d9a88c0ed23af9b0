package gate

import (
	"testing"
	"time"
)

func TestScheduleContains(t *testing.T) {
	s := DefaultSchedule(time.UTC)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday mid-morning", time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC), true},
		{"opening boundary inclusive", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), true},
		{"last allowed minute", time.Date(2025, 3, 10, 18, 59, 0, 0, time.UTC), true},
		{"closing boundary exclusive", time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC), false},
		{"before opening", time.Date(2025, 3, 10, 8, 59, 0, 0, time.UTC), false},
		{"saturday allowed", time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC), true},
		{"sunday blocked", time.Date(2025, 3, 16, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := s.Contains(tc.at); got != tc.want {
			t.Errorf("%s: Contains(%s) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}
}

func TestScheduleHonorsLocation(t *testing.T) {
	paris := time.FixedZone("CET", 1*60*60)
	s := DefaultSchedule(paris)

	// 08:30 UTC is 09:30 in Paris: inside the window there, outside in UTC.
	at := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	if !s.Contains(at) {
		t.Fatal("expected 09:30 local to be inside the window")
	}

	// 18:30 UTC is 19:30 in Paris: already closed.
	at = time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)
	if s.Contains(at) {
		t.Fatal("expected 19:30 local to be outside the window")
	}
}

func TestScheduleNilLocationDefaultsUTC(t *testing.T) {
	s := DefaultSchedule(nil)
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if !s.Contains(at) {
		t.Fatal("nil location must fall back to UTC")
	}
}
