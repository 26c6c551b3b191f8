// Package cronexpr parses and evaluates 5-field cron expressions
// (minute hour day-of-month month day-of-week).
//
// Day-of-week is Monday-based: 0=Monday .. 6=Sunday. Every cron path in this
// module must go through this package; mixing in another cron library would
// shift day-of-week semantics by a day.
package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidExpression = errors.New("invalid cron expression")

// maxScanMinutes caps the NextRun forward scan at one year.
const maxScanMinutes = 525600

// Expression holds the five raw fields of a cron expression.
type Expression struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// Parse splits expr into its five fields. It validates shape only; field
// contents are checked lazily by Matches.
func Parse(expr string) (Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Expression{}, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidExpression, expr, len(fields))
	}
	return Expression{
		Minute:     fields[0],
		Hour:       fields[1],
		DayOfMonth: fields[2],
		Month:      fields[3],
		DayOfWeek:  fields[4],
	}, nil
}

// Weekday returns the Monday-based weekday index of t (0=Monday .. 6=Sunday).
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Matches reports whether t satisfies expr. A timestamp matches iff every
// field matches independently. Any parse failure yields false rather than an
// error, so Matches is safe to call with untrusted expressions.
func Matches(expr string, t time.Time) bool {
	e, err := Parse(expr)
	if err != nil {
		return false
	}
	return fieldMatches(e.Minute, t.Minute()) &&
		fieldMatches(e.Hour, t.Hour()) &&
		fieldMatches(e.DayOfMonth, t.Day()) &&
		fieldMatches(e.Month, int(t.Month())) &&
		fieldMatches(e.DayOfWeek, Weekday(t))
}

// fieldMatches evaluates a single cron field against a value. Precedence:
// wildcard, step, range, list, exact.
func fieldMatches(field string, value int) bool {
	if field == "*" {
		return true
	}
	if base, step, ok := strings.Cut(field, "/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return false
		}
		if base == "*" {
			return value%n == 0
		}
		b, err := strconv.Atoi(base)
		if err != nil {
			return false
		}
		return value >= b && (value-b)%n == 0
	}
	if lo, hi, ok := strings.Cut(field, "-"); ok {
		a, errA := strconv.Atoi(lo)
		b, errB := strconv.Atoi(hi)
		if errA != nil || errB != nil {
			return false
		}
		return value >= a && value <= b
	}
	if strings.Contains(field, ",") {
		for _, part := range strings.Split(field, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err == nil && n == value {
				return true
			}
		}
		return false
	}
	n, err := strconv.Atoi(field)
	return err == nil && n == value
}

// NextRun returns the first timestamp after from that matches expr, scanning
// minute by minute from the next whole minute. If no match is found within a
// year the scan gives up and returns from+24h; that degraded fallback keeps
// schedules with impossible expressions from wedging the scheduler.
func NextRun(expr string, from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxScanMinutes; i++ {
		if Matches(expr, t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return from.Add(24 * time.Hour)
}

var dayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

var wellKnown = map[string]string{
	"* * * * *":    "Every minute",
	"*/5 * * * *":  "Every 5 minutes",
	"*/15 * * * *": "Every 15 minutes",
	"*/30 * * * *": "Every 30 minutes",
	"0 * * * *":    "Every hour",
	"0 0 * * *":    "Daily at midnight",
	"0 9 * * *":    "Daily at 9:00",
	"0 9 * * 0":    "Every Monday at 9:00",
	"0 0 1 * *":    "Monthly on day 1 at 0:00",
}

// Describe renders a best-effort human label for expr. Unrecognized shapes
// fall back to echoing the raw expression.
func Describe(expr string) string {
	norm := strings.Join(strings.Fields(expr), " ")
	if label, ok := wellKnown[norm]; ok {
		return label
	}
	e, err := Parse(norm)
	if err != nil {
		return expr
	}
	minute, errM := strconv.Atoi(e.Minute)
	hour, errH := strconv.Atoi(e.Hour)
	if errM != nil || errH != nil {
		return expr
	}
	clock := fmt.Sprintf("%d:%02d", hour, minute)
	if dow, err := strconv.Atoi(e.DayOfWeek); err == nil && dow >= 0 && dow <= 6 {
		return fmt.Sprintf("Every %s at %s", dayNames[dow], clock)
	}
	if dom, err := strconv.Atoi(e.DayOfMonth); err == nil {
		return fmt.Sprintf("Monthly on day %d at %s", dom, clock)
	}
	if e.DayOfMonth == "*" && e.DayOfWeek == "*" {
		return fmt.Sprintf("Daily at %s", clock)
	}
	return expr
}
