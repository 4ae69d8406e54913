package input

import "testing"

func TestDecodeKey(t *testing.T) {
	cases := []struct {
		ch   byte
		cmd  Command
		arg  int
		ok   bool
	}{
		{'Q', Quit, 0, true},
		{'q', Quit, 0, true},
		{'S', SortOrder, 0, true},
		{'P', PageUp, 0, true},
		{'N', PageDown, 0, true},
		{'0', SortColumn, 0, true},
		{'5', SortColumn, 5, true},
		{'9', SortColumn, 9, true},
		{'x', 0, 0, false},
		{27, 0, 0, false},
	}
	for _, c := range cases {
		cmd, arg, ok := decodeKey(c.ch)
		if ok != c.ok || (ok && (cmd != c.cmd || arg != c.arg)) {
			t.Fatalf("decodeKey(%q) = %v,%d,%v; want %v,%d,%v", c.ch, cmd, arg, ok, c.cmd, c.arg, c.ok)
		}
	}
}
