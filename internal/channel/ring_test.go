package channel

import (
	"fmt"
	"strings"
	"testing"
)

func TestLogRingKeepsMostRecent(t *testing.T) {
	ring := NewLogRing(3)
	for i := 1; i <= 5; i++ {
		ring.Append(fmt.Sprintf("line %d", i))
	}
	lines := ring.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, want := range []string{"line 3", "line 4", "line 5"} {
		if !strings.HasSuffix(lines[i], want) {
			t.Fatalf("line %d = %q, want suffix %q", i, lines[i], want)
		}
	}
}

func TestLogRingPartialFill(t *testing.T) {
	ring := NewLogRing(10)
	ring.Append("only")
	lines := ring.Lines()
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "only") {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestLogRingTimestamps(t *testing.T) {
	ring := NewLogRing(2)
	stamped := ring.Append("x")
	if !strings.Contains(stamped, "T") || !strings.HasSuffix(stamped, " x") {
		t.Fatalf("expected RFC3339 stamp prefix, got %q", stamped)
	}
}
