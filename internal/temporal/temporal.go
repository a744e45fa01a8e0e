// Package temporal produces the one-line human-readable current-time
// string injected into every outbound backend call, so models can reason
// about "today", "tonight", and the season without a tool call.
package temporal

import (
	"fmt"
	"time"
)

// Context returns a rich temporal-context string for the current instant
// in loc. It is a pure function of the wall clock and the configured
// location — callers must not rely on the host's default timezone.
//
// Example: "Today is Sunday, February 15, 2026. It is evening (8:42 PM
// PST). It is a weekend. The current season is winter."
func Context(loc *time.Location) string {
	t := time.Now().In(loc)
	return contextAt(t)
}

func contextAt(t time.Time) string {
	dayType := "weekday"
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		dayType = "weekend"
	}

	var period string
	switch h := t.Hour(); {
	case h < 5:
		period = "late night"
	case h < 12:
		period = "morning"
	case h < 17:
		period = "afternoon"
	case h < 21:
		period = "evening"
	default:
		period = "night"
	}

	var season string
	switch t.Month() {
	case time.March, time.April, time.May:
		season = "spring"
	case time.June, time.July, time.August:
		season = "summer"
	case time.September, time.October, time.November:
		season = "autumn"
	default:
		season = "winter"
	}

	tzAbbr, _ := t.Zone()
	dateStr := t.Format("Monday, January 2, 2006")
	timeStr := formatHour12(t)

	return fmt.Sprintf(
		"Today is %s. It is %s (%s %s). It is a %s. The current season is %s.",
		dateStr, period, timeStr, tzAbbr, dayType, season,
	)
}

// formatHour12 renders "8:42 PM" without a leading zero on the hour,
// matching Python's strftime("%-I:%M %p").
func formatHour12(t time.Time) string {
	h := t.Hour() % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, t.Minute(), ampm(t.Hour()))
}

func ampm(hour24 int) string {
	if hour24 < 12 {
		return "AM"
	}
	return "PM"
}

// Prepend builds the composite `<temporal-context>\n<prompt>` system
// message every backend call and the classifier call inject, so callers
// never concatenate the two strings inconsistently.
func Prepend(dateCtx, prompt string) string {
	return dateCtx + "\n" + prompt
}
