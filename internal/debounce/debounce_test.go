package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBurstCoalescesToOneRun(t *testing.T) {
	var runs int64
	d := NewTrailing(30*time.Millisecond, func() { atomic.AddInt64(&runs, 1) })
	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt64(&runs); got != 1 {
		t.Fatalf("expected a single trailing run, got %d", got)
	}
}

func TestSeparatedTriggersRunSeparately(t *testing.T) {
	var runs int64
	d := NewTrailing(10*time.Millisecond, func() { atomic.AddInt64(&runs, 1) })
	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt64(&runs); got != 2 {
		t.Fatalf("expected two runs, got %d", got)
	}
}

func TestStopDropsPendingRun(t *testing.T) {
	var runs int64
	d := NewTrailing(20*time.Millisecond, func() { atomic.AddInt64(&runs, 1) })
	d.Trigger()
	d.Stop()
	d.Trigger() // after Stop, silently dropped
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt64(&runs); got != 0 {
		t.Fatalf("expected no runs after Stop, got %d", got)
	}
}
