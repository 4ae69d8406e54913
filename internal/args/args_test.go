package args

import (
	"os"
	"strconv"
	"testing"

	"github.com/mukovnin/psfiles/internal/column"
)

func TestParseCmdline(t *testing.T) {
	opts, err := Parse([]string{"-s", "wsize-", "-d", "2", "-c", "/bin/sh", "-c", "echo hi"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Sort != column.WriteSize || !opts.Reverse {
		t.Fatalf("sort = %v reverse = %v", opts.Sort, opts.Reverse)
	}
	if opts.Delay != 2 {
		t.Fatalf("delay = %d", opts.Delay)
	}
	want := []string{"/bin/sh", "-c", "echo hi"}
	if len(opts.Cmdline) != len(want) {
		t.Fatalf("cmdline = %v", opts.Cmdline)
	}
	for i := range want {
		if opts.Cmdline[i] != want[i] {
			t.Fatalf("cmdline = %v, want %v", opts.Cmdline, want)
		}
	}
}

func TestParsePid(t *testing.T) {
	opts, err := Parse([]string{"--pid", "42", "--filter", "*.log", "--output", "/tmp/out"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.PID != 42 || opts.Filter != "*.log" || opts.Output != "/tmp/out" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseErrors(t *testing.T) {
	cases := [][]string{
		{},                             // neither pid nor cmdline
		{"-p", "1", "-c", "/bin/true"}, // both
		{"-p", "1", "-s", "nope"},      // unknown column
		{"-p", "1", "-d", "0"},         // zero delay
		{"-c"},                         // empty cmdline
		{"-p", "1", "stray"},           // positional garbage
	}
	for _, argv := range cases {
		if _, err := Parse(argv); err == nil {
			t.Fatalf("Parse(%v) accepted invalid input", argv)
		}
	}
}

func TestParseRejectsSelfTrace(t *testing.T) {
	if _, err := Parse([]string{"-p", "1", "-s", "path"}); err != nil {
		t.Fatalf("valid pid rejected: %v", err)
	}
	if _, err := Parse([]string{"-p", "0"}); err == nil {
		t.Fatalf("pid 0 accepted")
	}
	self := os.Getpid()
	if _, err := Parse([]string{"-p", strconv.Itoa(self)}); err == nil {
		t.Fatalf("self pid accepted")
	}
}
