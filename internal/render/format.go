package render

import (
	"fmt"
	"time"
)

var sizeSuffixes = [...]byte{'K', 'M', 'G', 'T'}

// FormatSize renders a byte count compactly: plain bytes below 1024, above
// that one decimal with the largest suffix keeping the mantissa in
// [1.0, 1000).
func FormatSize(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%db", n)
	}
	v := float64(n) / 1024
	i := 0
	for v >= 1000 && i < len(sizeSuffixes)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f%c", v, sizeSuffixes[i])
}

// FormatClock renders a timestamp as local wall-clock time, strftime %X
// style. The zero time renders as a dash.
func FormatClock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

// TruncateLeft keeps the tail of s, prefixing "..." when it does not fit.
// Used for paths, where the tail is the interesting part.
func TruncateLeft(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return ""
	}
	return "..." + string(r[len(r)-(max-3):])
}

// TruncateRight keeps the head of s, appending "..." when it does not fit.
func TruncateRight(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return ""
	}
	return string(r[:max-3]) + "..."
}
