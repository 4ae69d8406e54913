package render

import (
	"testing"
	"time"
)

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0b"},
		{1, "1b"},
		{1023, "1023b"},
		{1024, "1.0K"},
		{1536, "1.5K"},
		{1024 * 1024, "1.0M"},
		{12898877, "12.3M"},
		{1024 * 1024 * 1024, "1.0G"},
		{uint64(1024) * 1024 * 1024 * 1024, "1.0T"},
	}
	for _, c := range cases {
		if got := FormatSize(c.in); got != c.want {
			t.Fatalf("FormatSize(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(time.Time{}); got != "-" {
		t.Fatalf("zero time = %q", got)
	}
	ts := time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local)
	if got := FormatClock(ts); got != "13:04:05" {
		t.Fatalf("FormatClock = %q", got)
	}
}

func TestTruncateLeft(t *testing.T) {
	if got := TruncateLeft("/very/long/path/name", 10); got != "...th/name" {
		t.Fatalf("TruncateLeft = %q", got)
	}
	if got := TruncateLeft("/short", 10); got != "/short" {
		t.Fatalf("no-op truncate = %q", got)
	}
	if got := TruncateLeft("/very/long", 3); got != "" {
		t.Fatalf("tiny width = %q", got)
	}
}

func TestTruncateRight(t *testing.T) {
	if got := TruncateRight("command line args", 10); got != "command..." {
		t.Fatalf("TruncateRight = %q", got)
	}
	if got := TruncateRight("short", 10); got != "short" {
		t.Fatalf("no-op truncate = %q", got)
	}
}
