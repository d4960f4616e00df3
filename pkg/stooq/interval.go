// Package stooq talks to the stooq.com data site: the authenticated
// HTTP client, the external browser capability boundary, and the
// challenge gate that authorizes a session.
package stooq

import "fmt"

// Interval is a granularity of market data published by the site
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalHourly  Interval = "hourly"
	IntervalFiveMin Interval = "five_minute"
)

// AllIntervals returns every interval in fixed order
func AllIntervals() []Interval {
	return []Interval{IntervalDaily, IntervalHourly, IntervalFiveMin}
}

// Suffix is the file name suffix the site uses for the interval
func (i Interval) Suffix() string {
	switch i {
	case IntervalDaily:
		return "_d"
	case IntervalHourly:
		return "_h"
	case IntervalFiveMin:
		return "_5"
	}
	return ""
}

// Prefix is the settings-form field prefix for the interval
func (i Interval) Prefix() string {
	switch i {
	case IntervalDaily:
		return "d"
	case IntervalHourly:
		return "h"
	case IntervalFiveMin:
		return "5"
	}
	return ""
}

// Bit is the interval's position in the exit-status bitmask
func (i Interval) Bit() int {
	switch i {
	case IntervalDaily:
		return 1
	case IntervalHourly:
		return 2
	case IntervalFiveMin:
		return 4
	}
	return 0
}

// ParseInterval converts a user-facing name to an Interval
func ParseInterval(s string) (Interval, error) {
	switch s {
	case "daily", "d":
		return IntervalDaily, nil
	case "hourly", "h":
		return IntervalHourly, nil
	case "five_minute", "5min", "5":
		return IntervalFiveMin, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}
