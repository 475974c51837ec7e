package models

import (
	"math"
	"time"
)

// UnixSeconds converts t to fractional Unix seconds. The zero time maps to 0.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds converts fractional Unix seconds back to a time.Time.
// Zero and non-finite values map to the zero time.
func FromUnixSeconds(s float64) time.Time {
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// unixPtr converts an optional end timestamp.
func unixPtr(t *time.Time) *float64 {
	if t == nil {
		return nil
	}
	s := UnixSeconds(*t)
	return &s
}

func timePtr(s *float64) *time.Time {
	if s == nil {
		return nil
	}
	t := FromUnixSeconds(*s)
	return &t
}
