package domain

import (
	"strings"
	"testing"
)

func TestIsValidTransitionAllowsCaptureChain(t *testing.T) {
	g := NewStatusGraph()

	chain := []struct {
		from    ChargeStatus
		to      ChargeStatus
		trigger TriggerKind
	}{
		{StatusCreated, StatusEnteringDetails, TriggerAPI},
		{StatusEnteringDetails, StatusAuthorisationSubmitted, TriggerAPI},
		{StatusAuthorisationSubmitted, StatusAuthorisationSuccess, TriggerNotification},
		{StatusAuthorisationSuccess, StatusCaptureApproved, TriggerAPI},
		{StatusCaptureApproved, StatusCaptureReady, TriggerCapture},
		{StatusCaptureReady, StatusCaptureSubmitted, TriggerCapture},
		{StatusCaptureSubmitted, StatusCaptured, TriggerCapture},
	}
	for _, step := range chain {
		if !g.IsValidTransition(step.from, step.to, step.trigger) {
			t.Fatalf("expected %s -> %s via %s to be valid", step.from, step.to, step.trigger)
		}
	}
}

func TestIsValidTransitionRejectsUnknownEdge(t *testing.T) {
	g := NewStatusGraph()

	if g.IsValidTransition(StatusCreated, StatusCaptured, TriggerAPI) {
		t.Fatal("CREATED must not jump straight to CAPTURED")
	}
	if g.IsValidTransition(StatusCaptured, StatusCreated, TriggerAPI) {
		t.Fatal("terminal states must have no outgoing edges")
	}
}

func TestIsValidTransitionIsTriggerSensitive(t *testing.T) {
	g := NewStatusGraph()

	// The edge exists, but only for the expiry sweep.
	if !g.IsValidTransition(StatusCreated, StatusExpired, TriggerExpiry) {
		t.Fatal("expected CREATED -> EXPIRED via expiry")
	}
	if g.IsValidTransition(StatusCreated, StatusExpired, TriggerAPI) {
		t.Fatal("API callers must not expire charges")
	}
	if g.IsValidTransition(StatusCreated, StatusUserCancelled, TriggerSystemCancel) {
		t.Fatal("system cancel must not drive the user-cancel edge")
	}
}

func TestIsTerminal(t *testing.T) {
	g := NewStatusGraph()

	for _, status := range []ChargeStatus{
		StatusCaptured,
		StatusCaptureError,
		StatusAuthorisationRejected,
		StatusAuthorisationError,
		StatusExpired,
		StatusUserCancelled,
		StatusSystemCancelled,
		StatusCancelError,
	} {
		if !g.IsTerminal(status) {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	for _, status := range []ChargeStatus{
		StatusCreated,
		StatusAuthorisationSuccess,
		StatusCaptureApproved,
		StatusCaptureSubmitted,
	} {
		if g.IsTerminal(status) {
			t.Errorf("expected %s to be non-terminal", status)
		}
	}
}

func TestAllowedNextStatesSorted(t *testing.T) {
	g := NewStatusGraph()

	next := g.AllowedNextStates(StatusCaptureSubmitted)
	if len(next) != 3 {
		t.Fatalf("expected 3 next states, got %v", next)
	}
	for i := 1; i < len(next); i++ {
		if next[i-1] >= next[i] {
			t.Fatalf("expected sorted output, got %v", next)
		}
	}
}

func TestDOTContainsEveryEdge(t *testing.T) {
	g := NewStatusGraph()

	dot := g.DOT()
	if !strings.HasPrefix(dot, "digraph charge_status {") {
		t.Fatalf("unexpected DOT prefix: %q", dot[:30])
	}
	if !strings.Contains(dot, `"CAPTURE_READY" -> "CAPTURE_SUBMITTED"`) {
		t.Fatal("expected capture edge in DOT output")
	}
	if !strings.Contains(dot, "expiry_sweep") {
		t.Fatal("expected trigger labels in DOT output")
	}
}
