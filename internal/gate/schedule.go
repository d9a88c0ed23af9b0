package gate

import "time"

// Schedule is the window inside which unattended execution is allowed.
// Attended (human-confirmed) actions bypass it entirely.
type Schedule struct {
	Days      map[time.Weekday]bool
	OpenHour  int // inclusive
	CloseHour int // exclusive
	Location  *time.Location
}

// DefaultSchedule allows Monday through Saturday, 09:00 to 19:00, in the
// given zone.
func DefaultSchedule(loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return Schedule{
		Days: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
			time.Saturday:  true,
		},
		OpenHour:  9,
		CloseHour: 19,
		Location:  loc,
	}
}

// Contains reports whether now falls inside the window. It never errors;
// callers map false to an OUT_OF_SCHEDULE rejection.
func (s Schedule) Contains(now time.Time) bool {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if !s.Days[local.Weekday()] {
		return false
	}
	h := local.Hour()
	return h >= s.OpenHour && h < s.CloseHour
}
