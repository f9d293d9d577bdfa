package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var labelDate = regexp.MustCompile(`^\s*Year:\s*(\d{1,4})\s*Month:\s*(\d{1,2})\s*Day:\s*(\d{1,2})\s*$`)

// ParseDate parses a label-delimited date such as "Year: 2018 Month: 7 Day: 21"
// as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	m := labelDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("reminder: malformed date %q", s)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if loc == nil {
		loc = time.Local
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("reminder: invalid calendar date %q", s)
	}
	return t, nil
}

// FormatDate renders t in the label-delimited form read by ParseDate.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("Year: %d Month: %d Day: %d", t.Year(), int(t.Month()), t.Day())
}

// DaysBetween returns the number of whole days between a and b, ignoring order.
func DaysBetween(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d / (24 * time.Hour))
}
