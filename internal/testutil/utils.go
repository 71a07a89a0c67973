package testutil

import (
	"log"
	"strings"
	"sync/atomic"
	"testing"
)

type testWriter struct {
	t    testing.TB
	done *atomic.Bool
}

func (w testWriter) Write(p []byte) (int, error) {
	// t.Log panics once the test has returned; late goroutines are dropped.
	if !w.done.Load() {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

// TestLogger returns a logger whose output is attached to the running test,
// so it only shows up for failing tests or with -v.
func TestLogger(t testing.TB) *log.Logger {
	done := &atomic.Bool{}
	t.Cleanup(func() { done.Store(true) })
	return log.New(testWriter{t: t, done: done}, "[test] ", 0)
}
