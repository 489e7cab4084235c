package permit

import "time"

// EndTime adds d to now and returns the result as Unix seconds, floored.
// Negative durations are accepted and yield timestamps in the past.
func EndTime(now time.Time, d time.Duration) int64 {
	ms := now.UnixMilli() + d.Milliseconds()
	s := ms / 1000
	if ms%1000 < 0 {
		s--
	}
	return s
}
