// Package datevars expands ${date}, ${englishMonth}, ${spanishMonth} and ${year}
// placeholders in email subjects and bodies.
package datevars

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var spanishMonths = [...]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

var calendarDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"January 2, 2006",
}

// Replace substitutes the placeholders using date. An empty template yields "";
// an empty or unparseable date leaves the template unchanged.
func Replace(template, date string) string {
	if template == "" {
		return ""
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return template
	}
	t, ok := Parse(date)
	if !ok {
		return template
	}
	return ReplaceTime(template, t)
}

// ReplaceTime substitutes the placeholders using the calendar date of t in its own location.
func ReplaceTime(template string, t time.Time) string {
	if template == "" {
		return ""
	}
	r := strings.NewReplacer(
		"${date}", fmt.Sprintf("%02d/%02d/%04d", int(t.Month()), t.Day(), t.Year()),
		"${englishMonth}", t.Month().String(),
		"${spanishMonth}", spanishMonths[t.Month()-1],
		"${year}", strconv.Itoa(t.Year()),
	)
	return r.Replace(template)
}

// Parse reads YYYY-MM-DD as a local calendar date with no timezone shift, then
// tries a handful of common timestamp layouts. Timestamps are returned in the
// process's local zone, so an explicit offset can move the calendar day.
func Parse(raw string) (time.Time, bool) {
	if calendarDate.MatchString(raw) {
		t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t.In(time.Local), true
		}
	}
	return time.Time{}, false
}
