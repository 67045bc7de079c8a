package execution

import (
	"testing"

	"github.com/triage-ai/blinkguard/internal/action"
)

func TestReduce(t *testing.T) {
	comp := action.NewComponent(nil, "Go", "https://a.example/go", nil, nil)
	executing := State{Status: StatusExecuting, ExecutingAction: comp}
	withMessages := State{Status: StatusError, ExecutingAction: comp, ErrorMessage: "boom", SuccessMessage: "old"}

	cases := []struct {
		name string
		from State
		ev   Event
		want State
	}{
		{"initiate", State{Status: StatusIdle, ErrorMessage: "x"}, Initiate{Component: comp}, executing},
		{"finish", executing, Finish{Message: "Done"}, State{Status: StatusSuccess, ExecutingAction: comp, SuccessMessage: "Done"}},
		{"finish clears error", withMessages, Finish{Message: "ok"}, State{Status: StatusSuccess, ExecutingAction: comp, SuccessMessage: "ok"}},
		{"fail", withMessages, Fail{Message: "bad"}, State{Status: StatusError, ExecutingAction: comp, ErrorMessage: "bad"}},
		{"reset", withMessages, Reset{}, State{Status: StatusIdle}},
		{"soft reset keeps error", executing, SoftReset{Message: "Sold out"}, State{Status: StatusIdle, ErrorMessage: "Sold out"}},
		{"block from executing", executing, Block{}, State{Status: StatusBlocked}},
		{"block from success", State{Status: StatusSuccess, SuccessMessage: "x"}, Block{}, State{Status: StatusBlocked}},
		{"unblock", State{Status: StatusBlocked}, Unblock{}, State{Status: StatusIdle}},
		{"nil event", withMessages, nil, withMessages},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Reduce(tc.from, tc.ev); got != tc.want {
				t.Fatalf("Reduce(%+v, %T) = %+v, want %+v", tc.from, tc.ev, got, tc.want)
			}
		})
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	from := State{Status: StatusExecuting, ErrorMessage: "keep"}
	_ = Reduce(from, Fail{Message: "changed"})
	if from.ErrorMessage != "keep" || from.Status != StatusExecuting {
		t.Fatalf("input state mutated: %+v", from)
	}
}

func TestEventNames(t *testing.T) {
	names := map[string]Event{
		"INITIATE":   Initiate{},
		"FINISH":     Finish{},
		"FAIL":       Fail{},
		"RESET":      Reset{},
		"SOFT_RESET": SoftReset{},
		"BLOCK":      Block{},
		"UNBLOCK":    Unblock{},
	}
	for want, ev := range names {
		if ev.Name() != want {
			t.Fatalf("expected %s, got %s", want, ev.Name())
		}
	}
}
