package bulk

import (
	"strings"
	"time"
)

const (
	MinCount     = 1
	MaxCount     = 500
	DefaultCount = 1

	MinInterval     = 100 * time.Millisecond
	DefaultInterval = 1000 * time.Millisecond
)

// Params configures one bulk run.
type Params struct {
	Text     string
	Count    int
	Interval time.Duration
}

// NewParams normalises raw user input. Zero count or interval fall back to
// the defaults; count is then clamped to [MinCount, MaxCount] and the
// interval floored at MinInterval.
func NewParams(text string, count, intervalMs int) Params {
	if count == 0 {
		count = DefaultCount
	}
	count = max(MinCount, min(MaxCount, count))

	interval := DefaultInterval
	if intervalMs != 0 {
		interval = time.Duration(intervalMs) * time.Millisecond
	}
	interval = max(MinInterval, interval)

	return Params{Text: strings.TrimSpace(text), Count: count, Interval: interval}
}

// ParseParams is NewParams for form input. Count and interval use their
// leading integer; anything non-numeric counts as missing.
func ParseParams(text, count, interval string) Params {
	return NewParams(text, leadingInt(count), leadingInt(interval))
}

// leadingInt parses an optional sign followed by digits at the start of s,
// ignoring whatever follows. It returns 0 when there are no digits.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 1<<30 {
			n = 1 << 30
		}
	}
	if neg {
		return -n
	}
	return n
}
