package obslog

import "testing"

func TestSetLevelGatesOutput(t *testing.T) {
	saved := current
	defer SetLevel(saved)

	SetLevel(LevelNone)
	Debug("should not print: %d", 1)
	Info("should not print: %d", 2)
	Error("should not print: %d", 3)

	SetLevel(LevelDebug)
	Debug("debug at LevelDebug")
	Info("info at LevelDebug")
	Error("error at LevelDebug")

	SetLevel(LevelError)
	Debug("should not print: suppressed below LevelError")
	Error("error at LevelError still prints")
}

func TestLevelOrdering(t *testing.T) {
	if !(LevelNone < LevelFatal && LevelFatal < LevelError && LevelError < LevelInfo && LevelInfo < LevelDebug) {
		t.Fatalf("log levels must be strictly ordered None < Fatal < Error < Info < Debug")
	}
}
