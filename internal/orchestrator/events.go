package orchestrator

import (
	"zwsentry/internal/host"
	"zwsentry/internal/textsource"
	"zwsentry/internal/verification"
)

// Event is one input to the controller's transition function.
type Event interface {
	eventName() string
}

// SetMode switches the active mode. Re-entering the current mode tears it
// down and enters it again.
type SetMode struct {
	Mode host.Mode
}

// ContentMutated reports a batch of document mutations.
type ContentMutated struct {
	Records int
}

// IdleFired is the host's answer to Scheduler.RequestIdle.
type IdleFired struct {
	Ticket host.Ticket
}

// FrameFired is the host's answer to Scheduler.RequestFrame.
type FrameFired struct {
	Ticket host.Ticket
}

// PointerDown reports a press. InsideSummary is set when it landed on the
// floating summary.
type PointerDown struct {
	Point         host.Point
	InsideSummary bool
}

// PointerUp reports a release.
type PointerUp struct {
	Point    host.Point
	Target   textsource.Target
	Viewport host.Size
}

// PointerMove reports pointer motion.
type PointerMove struct {
	Point    host.Point
	Target   textsource.Target
	Viewport host.Size
}

// KeyUp reports a key release.
type KeyUp struct {
	Target textsource.Target
}

// VerifyRequested is the explicit verify action on the floating summary.
type VerifyRequested struct{}

// VerificationCompleted carries the answer to Verifier.Submit.
type VerificationCompleted struct {
	Ticket  host.Ticket
	Outcome verification.Outcome
}

func (SetMode) eventName() string               { return "set-mode" }
func (ContentMutated) eventName() string        { return "content-mutated" }
func (IdleFired) eventName() string             { return "idle-fired" }
func (FrameFired) eventName() string            { return "frame-fired" }
func (PointerDown) eventName() string           { return "pointer-down" }
func (PointerUp) eventName() string             { return "pointer-up" }
func (PointerMove) eventName() string           { return "pointer-move" }
func (KeyUp) eventName() string                 { return "key-up" }
func (VerifyRequested) eventName() string       { return "verify-requested" }
func (VerificationCompleted) eventName() string { return "verification-completed" }
