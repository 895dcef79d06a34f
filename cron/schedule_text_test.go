package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScheduleText(t *testing.T) {
	cases := []struct {
		text string
		expr string
	}{
		{"every minute", "* * * * *"},
		{"every hour", "0 * * * *"},
		{"hourly", "0 * * * *"},
		{"daily", "0 0 * * *"},
		{"weekly", "0 0 * * 0"},
		{"monthly", "0 0 1 * *"},
		{"every 5 minutes", "*/5 * * * *"},
		{"every 1 minute", "*/1 * * * *"},
		{"every 2 hours", "0 */2 * * *"},
		{"every day at 9am", "0 9 * * *"},
		{"every day at 9:30pm", "30 21 * * *"},
		{"every day at 12am", "0 0 * * *"},
		{"every day at 12pm", "0 12 * * *"},
		{"every day at 14:15", "15 14 * * *"},
		{"weekdays at 9am", "0 9 * * 1-5"},
		{"weekends at 10:30am", "30 10 * * 0,6"},
		{"every monday at 9am", "0 9 * * 1"},
		{"every friday at 5pm", "0 17 * * 5"},
		{"  Every  Day  At 9AM ", "0 9 * * *"},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			expr, ok := ParseScheduleText(tc.text)
			assert.True(t, ok)
			assert.Equal(t, tc.expr, expr)

			// Everything the parser emits must be a valid expression.
			_, err := ParseExpr(expr)
			assert.NoError(t, err)
		})
	}
}

func TestParseScheduleTextRejectsUnknown(t *testing.T) {
	cases := []string{
		"",
		"whenever",
		"every 0 minutes",
		"every 90 minutes",
		"every 30 hours",
		"every day at 25:00",
		"every day at 13pm",
		"every someday at 9am",
		"0 9 * * *",
	}

	for _, text := range cases {
		t.Run(text, func(t *testing.T) {
			_, ok := ParseScheduleText(text)
			assert.False(t, ok)
		})
	}
}
