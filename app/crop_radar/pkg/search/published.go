package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var relativeDate = regexp.MustCompile(`^(\d+|an?|one)\s+(second|minute|min|hour|hr|day|week|month|year)s?\s+ago$`)

// ParsePublished 解析搜索服务返回的发布日期。
// 支持绝对日期（交给 dateparse）和 "3 days ago" 形式的相对日期；
// 无法解析时返回零值，调用方按"日期未知"处理。
// dayOnly 表示结果只精确到天，此时 t 为当天 UTC 零点。
func ParsePublished(raw string, now time.Time) (t time.Time, dayOnly bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	lower := strings.ToLower(s)
	switch lower {
	case "just now", "today":
		return StartOfDay(now), true
	case "yesterday":
		return StartOfDay(now.AddDate(0, 0, -1)), true
	}

	if m := relativeDate.FindStringSubmatch(lower); m != nil {
		n := 1
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
		switch m[2] {
		case "second":
			return now.Add(-time.Duration(n) * time.Second), false
		case "minute", "min":
			return now.Add(-time.Duration(n) * time.Minute), false
		case "hour", "hr":
			return now.Add(-time.Duration(n) * time.Hour), false
		case "day":
			return StartOfDay(now.AddDate(0, 0, -n)), true
		case "week":
			return StartOfDay(now.AddDate(0, 0, -7*n)), true
		case "month":
			return StartOfDay(now.AddDate(0, -n, 0)), true
		case "year":
			return StartOfDay(now.AddDate(-n, 0, 0)), true
		}
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	// "Nov 7, 2025" 这类不带时刻的日期
	if !strings.Contains(s, ":") && t.Equal(StartOfDay(t)) {
		return t, true
	}
	return t, false
}

// StartOfDay 当天 UTC 零点
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
