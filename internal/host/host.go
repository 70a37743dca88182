// Package host defines the ports through which the scan orchestrator talks
// to its environment: the document it reads, the renderer it drives, the
// event subscriptions it toggles, the scheduler that defers work, and the
// store that persists the process-wide mode.
package host

import (
	"context"
	"fmt"
	"strings"

	"zwsentry/internal/verdict"
	"zwsentry/internal/verification"
)

// Mode selects which scanning behaviour is active.
type Mode int

const (
	ModeOff Mode = iota
	ModeAutoDetect
	ModeSelectionScan
)

func (m Mode) String() string {
	switch m {
	case ModeAutoDetect:
		return "autoDetect"
	case ModeSelectionScan:
		return "selectionScan"
	default:
		return "off"
	}
}

// ParseMode accepts the canonical names plus the short CLI forms
// "auto" and "selection".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return ModeOff, nil
	case "autodetect", "auto", "auto-detect":
		return ModeAutoDetect, nil
	case "selectionscan", "selection", "selection-scan":
		return ModeSelectionScan, nil
	}
	return ModeOff, fmt.Errorf("unknown mode %q", s)
}

// ContainerKind classifies the element a region lives in.
type ContainerKind int

const (
	ContainerText ContainerKind = iota
	ContainerScript
	ContainerStyle
	ContainerHidden
	ContainerBinary
)

// IsText reports whether regions in this container are scanned.
func (k ContainerKind) IsText() bool {
	return k == ContainerText
}

func (k ContainerKind) String() string {
	switch k {
	case ContainerScript:
		return "script"
	case ContainerStyle:
		return "style"
	case ContainerHidden:
		return "hidden"
	case ContainerBinary:
		return "binary"
	default:
		return "text"
	}
}

// Region is a text-bearing unit of the document. Text is the raw content,
// zero-width characters included.
type Region struct {
	ID        string
	Text      string
	Container ContainerKind
	// Annotated is set when the host already carries a highlight for
	// this region.
	Annotated bool
}

// Field is an editable input whose value is scanned but never wrapped.
type Field struct {
	ID     string
	Value  string
	Hidden bool
}

// Point is a position in viewport coordinates.
type Point struct {
	X, Y int
}

// Size is a width and height in viewport units.
type Size struct {
	Width, Height int
}

// Ticket identifies one piece of deferred work. Epoch changes on every
// mode transition, so a ticket issued before a transition never matches
// one issued after it.
type Ticket struct {
	Epoch uint64
	Seq   uint64
}

// IsZero reports whether t was never issued.
func (t Ticket) IsZero() bool {
	return t == Ticket{}
}

// Listener names a host event subscription.
type Listener int

const (
	ListenMutations Listener = iota
	ListenPointerUp
	ListenKeyUp
	ListenPointerMove
	ListenPointerDown
)

func (l Listener) String() string {
	switch l {
	case ListenMutations:
		return "mutations"
	case ListenPointerUp:
		return "pointer-up"
	case ListenKeyUp:
		return "key-up"
	case ListenPointerMove:
		return "pointer-move"
	case ListenPointerDown:
		return "pointer-down"
	default:
		return fmt.Sprintf("listener(%d)", int(l))
	}
}

// Document enumerates the current content. Every call observes the latest
// state.
type Document interface {
	Regions() ([]Region, error)
	Fields() ([]Field, error)
}

// Subscriber toggles host event delivery. Listen and Unlisten must be
// idempotent.
type Subscriber interface {
	Listen(Listener)
	Unlisten(Listener)
}

// Scheduler defers work. The host answers RequestIdle with an IdleFired
// event and RequestFrame with a FrameFired event carrying the same ticket.
type Scheduler interface {
	RequestIdle(Ticket)
	RequestFrame(Ticket)
}

// VerificationView is what the summary shows for a verification request.
type VerificationView struct {
	Pending bool
	Outcome verification.Outcome
}

// Renderer applies visible effects. Apply and clear operations may fail;
// a failed apply must leave the region untouched.
type Renderer interface {
	ApplyAnnotation(regionID, class, tooltip, original string) error
	ClearAnnotation(regionID string) error
	ApplyFieldMarker(fieldID, class, tooltip string) error
	ClearFieldMarker(fieldID string) error
	ShowFloatingSummary(anchor Point, result verdict.ScanResult)
	HideFloatingSummary()
	ShowVerification(view VerificationView)
}

// ModeStore persists the process-wide mode.
type ModeStore interface {
	GetMode(ctx context.Context) (Mode, error)
	SetMode(ctx context.Context, m Mode) (Mode, error)
}
