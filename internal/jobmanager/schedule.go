package jobmanager

import (
	"fmt"
	"strconv"
	"strings"
)

// Schedule is the structured schedule grammar stored as an expert setting:
// {days: {monday: bool, ..., sunday: bool}, times: ["HH:MM", ...]}.
type Schedule struct {
	Days  map[string]bool `json:"days"`
	Times []string        `json:"times"`
}

// weekdayOrder lists day names in robfig/cron's day-of-week numbering, where
// Sunday is 0. Iterated in order so the generated expression is stable.
var weekdayOrder = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// cronExpressions materialises one 6-field (seconds-enabled) cron expression
// per configured time, each firing on every enabled weekday. At least one
// enabled day and one time are required.
func (s Schedule) cronExpressions() ([]string, error) {
	known := make(map[string]int, len(weekdayOrder))
	for n, name := range weekdayOrder {
		known[name] = n
	}
	enabled := make(map[string]bool, len(s.Days))
	for name, on := range s.Days {
		lower := strings.ToLower(name)
		if _, ok := known[lower]; !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		enabled[lower] = on
	}

	var days []string
	for n, name := range weekdayOrder {
		if enabled[name] {
			days = append(days, strconv.Itoa(n))
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("schedule has no enabled day")
	}
	if len(s.Times) == 0 {
		return nil, fmt.Errorf("schedule has no times")
	}
	dowField := strings.Join(days, ",")

	exprs := make([]string, 0, len(s.Times))
	for _, t := range s.Times {
		hour, minute, err := parseHHMM(t)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, fmt.Sprintf("0 %d %d * * %s", minute, hour, dowField))
	}
	return exprs, nil
}

func parseHHMM(t string) (hour, minute int, err error) {
	parts := strings.SplitN(t, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", t)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", t)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", t)
	}
	return hour, minute, nil
}
