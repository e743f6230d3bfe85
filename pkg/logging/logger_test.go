package logging

import "testing"

func TestNewDefaultsToInfo(t *testing.T) {
	logger := New("not-a-level")
	if logger == nil || logger.Logger == nil {
		t.Fatal("expected logger")
	}
}

func TestWithOnNilLogger(t *testing.T) {
	var logger *Logger
	child := logger.With("component", "test")
	if child == nil || child.Logger == nil {
		t.Fatal("expected fallback logger")
	}
}
