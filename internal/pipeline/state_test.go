package pipeline

import (
	"errors"
	"testing"
)

func TestHappyPathLifecycle(t *testing.T) {
	m := New()
	steps := []struct {
		ev   Event
		want State
	}{
		{EventStartCommand, StateStarting},
		{EventAsrConnected, StateListening},
		{EventPauseCommand, StatePaused},
		{EventResumeCommand, StateListening},
		{EventStopCommand, StateStopping},
		{EventDrained, StateIdle},
	}
	for _, s := range steps {
		got, err := m.Fire(s.ev)
		if err != nil {
			t.Fatalf("Fire(%v) unexpected error: %v", s.ev, err)
		}
		if got != s.want {
			t.Fatalf("Fire(%v) = %v, want %v", s.ev, got, s.want)
		}
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := New()
	_, err := m.Fire(EventPauseCommand) // idle has no pause transition
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.Current() != StateIdle {
		t.Fatalf("expected state unchanged after rejected transition, got %v", m.Current())
	}
}

func TestFatalFromAnyState(t *testing.T) {
	m := New()
	m.Fire(EventStartCommand)
	m.Fire(EventAsrConnected)

	got, err := m.Fire(EventFatal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != StateError {
		t.Fatalf("expected error state, got %v", got)
	}
}

func TestErrorRecoversViaReset(t *testing.T) {
	m := New()
	m.Fire(EventFatal)
	got, err := m.Fire(EventReset)
	if err != nil || got != StateIdle {
		t.Fatalf("expected reset to idle, got %v err %v", got, err)
	}
}

func TestGuardsReflectCurrentState(t *testing.T) {
	m := New()
	if m.CanSendAudio() {
		t.Fatal("expected send_audio rejected in idle")
	}
	if !m.CanChangeLanguage() {
		t.Fatal("expected language change accepted in idle")
	}

	m.Fire(EventStartCommand)
	m.Fire(EventAsrConnected)
	if !m.CanSendAudio() {
		t.Fatal("expected send_audio accepted in listening")
	}
	if m.CanChangeLanguage() {
		t.Fatal("expected language change rejected while listening")
	}

	m.Fire(EventStopCommand)
	if !m.CanEnqueue() {
		t.Fatal("expected enqueue accepted in stopping, to allow draining")
	}
}
