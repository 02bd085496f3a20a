package bridge

import (
	"strings"
	"testing"
)

func TestWrapSourceNamedArgs(t *testing.T) {
	got := wrapSource([]string{"a", "b"}, 2, "return a + b;", false)
	want := "(function (a, b) {\nreturn a + b;\n})"
	if got != want {
		t.Errorf("wrapSource = %q, want %q", got, want)
	}
}

func TestWrapSourceUnnamedArgsGetPositions(t *testing.T) {
	got := wrapSource([]string{"", "named", ""}, 3, "return $1;", false)
	if !strings.HasPrefix(got, "(function ($1, named, $3) {") {
		t.Errorf("wrapSource header = %q", got)
	}
}

func TestWrapSourceMoreTypesThanNames(t *testing.T) {
	// Declared arity wins; surplus positions get positional names.
	got := wrapSource([]string{"x"}, 3, "return x;", false)
	if !strings.HasPrefix(got, "(function (x, $2, $3) {") {
		t.Errorf("wrapSource header = %q", got)
	}
}

func TestWrapSourceTriggerSignature(t *testing.T) {
	got := wrapSource(triggerArgNames, 0, "return NEW;", true)
	header := strings.SplitN(got, "\n", 2)[0]

	for _, name := range []string{"NEW", "OLD", "TG_NAME", "TG_WHEN", "TG_LEVEL",
		"TG_OP", "TG_RELID", "TG_TABLE_NAME", "TG_TABLE_SCHEMA", "TG_ARGV"} {
		if !strings.Contains(header, name) {
			t.Errorf("trigger header missing %s: %q", name, header)
		}
	}
}

func TestWrapSourceHeaderIsOneLine(t *testing.T) {
	// The body must start on line two so reported lines shift by exactly one.
	got := wrapSource([]string{"a"}, 1, "first;\nsecond;", false)
	lines := strings.Split(got, "\n")
	if lines[1] != "first;" {
		t.Errorf("body should start at line 2, got %q", lines[1])
	}
}
