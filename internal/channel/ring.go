package channel

import (
	"fmt"
	"sync"
	"time"
)

// LogRing retains the most recent N timestamped log lines for operator
// inspection without unbounded growth.
type LogRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &LogRing{lines: make([]string, capacity)}
}

// Append records a line with a timestamp, evicting the oldest when full.
func (r *LogRing) Append(line string) string {
	stamped := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), line)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = stamped
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	return stamped
}

// Lines returns the retained lines, oldest first.
func (r *LogRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}
