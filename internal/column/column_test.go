package column

import "testing"

func TestFromString(t *testing.T) {
	for i, name := range Names() {
		c, ok := FromString(name)
		if !ok {
			t.Fatalf("FromString(%q): not found", name)
		}
		if int(c) != i {
			t.Fatalf("FromString(%q): index %d, want %d", name, c, i)
		}
	}
	if _, ok := FromString("mm"); ok {
		t.Fatalf("FromString accepted unknown token")
	}
	if _, ok := FromString("Path"); ok {
		t.Fatalf("column tokens must be case-sensitive")
	}
}

func TestRoundTrip(t *testing.T) {
	for i := 0; i < Count; i++ {
		c := Column(i)
		got, ok := FromString(c.String())
		if !ok || got != c {
			t.Fatalf("round trip failed for %v", c)
		}
	}
}
