package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Free-text schedule parsing. ParseScheduleText turns a small set of
// human phrasings into five-field cron expressions. It is a pure
// function over a fixed grammar; anything it does not recognize the
// caller should treat as a literal cron expression.

var dayNames = map[string]string{
	"sunday":    "0",
	"monday":    "1",
	"tuesday":   "2",
	"wednesday": "3",
	"thursday":  "4",
	"friday":    "5",
	"saturday":  "6",
}

var (
	everyDayRe     = regexp.MustCompile(`^every day at (.+)$`)
	weekdaysRe     = regexp.MustCompile(`^weekdays at (.+)$`)
	weekendsRe     = regexp.MustCompile(`^weekends at (.+)$`)
	everyWeekdayRe = regexp.MustCompile(`^every (sunday|monday|tuesday|wednesday|thursday|friday|saturday) at (.+)$`)
	everyNMinRe    = regexp.MustCompile(`^every (\d+) minutes?$`)
	everyNHourRe   = regexp.MustCompile(`^every (\d+) hours?$`)
	timeRe         = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// ParseScheduleText converts a free-text schedule to a cron expression.
// The second return is false when the text is not in the grammar.
func ParseScheduleText(text string) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.Join(strings.Fields(text), " ")

	switch text {
	case "every minute":
		return "* * * * *", true
	case "every hour", "hourly":
		return "0 * * * *", true
	case "every day", "daily":
		return "0 0 * * *", true
	case "every week", "weekly":
		return "0 0 * * 0", true
	case "every month", "monthly":
		return "0 0 1 * *", true
	}

	if m := everyNMinRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > 59 {
			return "", false
		}
		return fmt.Sprintf("*/%d * * * *", n), true
	}
	if m := everyNHourRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > 23 {
			return "", false
		}
		return fmt.Sprintf("0 */%d * * *", n), true
	}

	if m := everyDayRe.FindStringSubmatch(text); m != nil {
		hour, minute, ok := parseClock(m[1])
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%d %d * * *", minute, hour), true
	}
	if m := weekdaysRe.FindStringSubmatch(text); m != nil {
		hour, minute, ok := parseClock(m[1])
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%d %d * * 1-5", minute, hour), true
	}
	if m := weekendsRe.FindStringSubmatch(text); m != nil {
		hour, minute, ok := parseClock(m[1])
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%d %d * * 0,6", minute, hour), true
	}
	if m := everyWeekdayRe.FindStringSubmatch(text); m != nil {
		hour, minute, ok := parseClock(m[2])
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, dayNames[m[1]]), true
	}

	return "", false
}

// parseClock parses "9am", "9:30pm", "14:00", "7".
func parseClock(text string) (hour, minute int, ok bool) {
	m := timeRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, 0, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return 0, 0, false
		}
	}

	switch m[3] {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}
