package coalescer

import (
	"testing"
	"time"

	"github.com/lectervox/lecturepipe/internal/clock"
)

func TestFirstUpdateEmitsImmediately(t *testing.T) {
	var got []string
	c := New(50*time.Millisecond, 200*time.Millisecond, clock.System{}, func(key, value string) {
		got = append(got, value)
	})

	c.Update("seg-1", "hello")

	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("expected immediate emit, got %v", got)
	}
}

func TestRapidUpdatesAreDebounced(t *testing.T) {
	var got []string
	c := New(50*time.Millisecond, 5*time.Second, clock.System{}, func(key, value string) {
		got = append(got, value)
	})

	c.Update("seg-1", "h")
	c.Update("seg-1", "he")
	c.Update("seg-1", "hel")

	if len(got) != 1 {
		t.Fatalf("expected only the first value emitted immediately, got %v", got)
	}
}

func TestForceCommitFiresAfterMaxHold(t *testing.T) {
	var got []string
	c := New(time.Hour, 50*time.Millisecond, clock.System{}, func(key, value string) {
		got = append(got, value)
	})

	c.Update("seg-1", "h")
	c.Update("seg-1", "he") // suppressed, waiting on max_hold

	time.Sleep(150 * time.Millisecond)

	if len(got) != 2 || got[1] != "he" {
		t.Fatalf("expected force-commit of latest value, got %v", got)
	}
}

func TestFinalEmitsImmediatelyAndClearsState(t *testing.T) {
	var got []string
	c := New(time.Hour, time.Hour, clock.System{}, func(key, value string) {
		got = append(got, value)
	})

	c.Update("seg-1", "partial")
	c.Final("seg-1", "complete")

	if len(got) != 2 || got[len(got)-1] != "complete" {
		t.Fatalf("expected final value delivered immediately, got %v", got)
	}
}

func TestIdenticalValueDoesNotReemit(t *testing.T) {
	var got []string
	c := New(10*time.Millisecond, time.Second, clock.System{}, func(key, value string) {
		got = append(got, value)
	})

	c.Update("seg-1", "same")
	time.Sleep(20 * time.Millisecond)
	c.Update("seg-1", "same")

	if len(got) != 1 {
		t.Fatalf("expected identical value to be suppressed, got %v", got)
	}
}
