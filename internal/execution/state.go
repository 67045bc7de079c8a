// Package execution drives one action invocation through security re-check,
// transaction request, signing, submission and confirmation.
package execution

import "github.com/triage-ai/blinkguard/internal/action"

// Status is the observable phase of an execution.
type Status string

const (
	StatusBlocked   Status = "blocked"
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// State is the observable execution state of one rendered action.
type State struct {
	Status          Status            `json:"status"`
	ExecutingAction *action.Component `json:"-"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	SuccessMessage  string            `json:"success_message,omitempty"`
}

// Event is a state transition trigger. The set of events is closed.
type Event interface {
	Name() string
	event()
}

// Initiate starts executing Component.
type Initiate struct{ Component *action.Component }

// Finish records a confirmed transaction.
type Finish struct{ Message string }

// Fail records a signing, submission or confirmation failure.
type Fail struct{ Message string }

// Reset returns to idle and clears everything.
type Reset struct{}

// SoftReset returns to idle keeping an error message for the user.
type SoftReset struct{ Message string }

// Block records a failed security check.
type Block struct{}

// Unblock is an explicit user override of a Block.
type Unblock struct{}

func (Initiate) Name() string  { return "INITIATE" }
func (Finish) Name() string    { return "FINISH" }
func (Fail) Name() string      { return "FAIL" }
func (Reset) Name() string     { return "RESET" }
func (SoftReset) Name() string { return "SOFT_RESET" }
func (Block) Name() string     { return "BLOCK" }
func (Unblock) Name() string   { return "UNBLOCK" }

func (Initiate) event()  {}
func (Finish) event()    {}
func (Fail) event()      {}
func (Reset) event()     {}
func (SoftReset) event() {}
func (Block) event()     {}
func (Unblock) event()   {}

// Reduce returns the state that follows s on ev. It performs no I/O.
//
// Rules:
//   - INITIATE   → executing, records the component, clears messages
//   - FINISH     → success, sets successMessage, clears errorMessage
//   - FAIL       → error, sets errorMessage, clears successMessage
//   - RESET      → idle, clears everything
//   - SOFT_RESET → idle, keeps only the errorMessage
//   - BLOCK      → blocked, clears everything
//   - UNBLOCK    → idle
//
// Unknown or nil events leave s unchanged.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case Initiate:
		return State{Status: StatusExecuting, ExecutingAction: e.Component}
	case Finish:
		s.Status = StatusSuccess
		s.SuccessMessage = e.Message
		s.ErrorMessage = ""
		return s
	case Fail:
		s.Status = StatusError
		s.ErrorMessage = e.Message
		s.SuccessMessage = ""
		return s
	case Reset:
		return State{Status: StatusIdle}
	case SoftReset:
		return State{Status: StatusIdle, ErrorMessage: e.Message}
	case Block:
		return State{Status: StatusBlocked}
	case Unblock:
		return State{Status: StatusIdle}
	default:
		return s
	}
}
