// Package reltime renders timestamps relative to now in short English
// phrases ("5 minutes ago", "yesterday", "in 2 weeks") for list views.
package reltime

import (
	"math"
	"strconv"
	"time"
)

type division struct {
	amount float64
	unit   string
}

var divisions = []division{
	{60, "second"},
	{60, "minute"},
	{24, "hour"},
	{7, "day"},
	{4.34524, "week"},
	{12, "month"},
	{math.Inf(1), "year"},
}

// named phrases for -1, 0 and +1 of each unit.
var named = map[string][3]string{
	"second": {"", "now", ""},
	"minute": {"", "this minute", ""},
	"hour":   {"", "this hour", ""},
	"day":    {"yesterday", "today", "tomorrow"},
	"week":   {"last week", "this week", "next week"},
	"month":  {"last month", "this month", "next month"},
	"year":   {"last year", "this year", "next year"},
}

// Format describes t relative to now using the largest unit whose
// magnitude stays below the next division.
func Format(t, now time.Time) string {
	d := t.Sub(now).Seconds()
	for _, div := range divisions {
		if math.Abs(d) < div.amount {
			return phrase(round(d), div.unit)
		}
		d /= div.amount
	}
	return phrase(round(d), "year")
}

// Since is Format(t, time.Now()).
func Since(t time.Time) string {
	return Format(t, time.Now())
}

// round matches the usual half-up rule: 2.5 -> 3, -2.5 -> -2.
func round(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

func phrase(n int64, unit string) string {
	if n >= -1 && n <= 1 {
		if p := named[unit][n+1]; p != "" {
			return p
		}
	}
	abs := n
	if abs < 0 {
		abs = -abs
	}
	label := unit
	if abs != 1 {
		label += "s"
	}
	count := group(abs) + " " + label
	if n < 0 {
		return count + " ago"
	}
	return "in " + count
}

// group inserts thousands separators.
func group(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	out = append(out, s[:lead]...)
	for i := lead; i < len(s); i += 3 {
		out = append(out, ',')
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
