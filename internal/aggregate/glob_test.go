package aggregate

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"*.log", "/var/log/app.log", true},
		{"*.log", "/etc/passwd", false},
		{"/tmp/*", "/tmp/x", true},
		{"/tmp/*", "/tmp/a/b", true},
		{"/tmp/?", "/tmp/x", true},
		{"/tmp/?", "/tmp/xy", false},
		{"/dev/tty[0-9]", "/dev/tty5", true},
		{"/dev/tty[0-9]", "/dev/ttyS", false},
		{"/dev/tty[!0-9]", "/dev/ttyS", true},
		{"*", "/anything/at/all", true},
		{"", "", true},
		{"", "/x", false},
		{"/a/[bc]/d", "/a/b/d", true},
		{"/a/[bc]/d", "/a/c/d", true},
		{"/a/[bc]/d", "/a/x/d", false},
		{"**/x", "/deep/nested/x", true},
		{"/a/[", "/a/[", false}, // malformed class matches nothing
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.path); got != c.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
