// Package textsource resolves where the text for an interactive scan comes
// from. All text is raw: zero-width characters are preserved.
//
// On pointer release the precedence is: the active selection, the selected
// substring of an editable field, the text at the pointer's character
// position, and finally the whole block under the pointer. Hover uses the
// caret text when available and the block otherwise.
package textsource

import "errors"

// ErrTargetUnavailable reports that the target vanished before it could
// be read. Callers skip the scan.
var ErrTargetUnavailable = errors.New("textsource: target unavailable")

// FieldSelection is an editable field with a selection range. Start and
// End are rune offsets into Value.
type FieldSelection struct {
	FieldID string
	Value   string
	Start   int
	End     int
}

// Selected returns the selected substring, clamped to the value.
func (f FieldSelection) Selected() string {
	runes := []rune(f.Value)
	start, end := clamp(f.Start, len(runes)), clamp(f.End, len(runes))
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

func clamp(i, n int) int {
	switch {
	case i < 0:
		return 0
	case i > n:
		return n
	default:
		return i
	}
}

// Target describes what lies under the pointer when an event fires.
type Target struct {
	// ID identifies the element under the pointer. Empty means nothing.
	ID string
	// Selection is the raw text of the current document selection.
	Selection string
	// Field is set when the pointer is over an editable field.
	Field *FieldSelection
	// Caret is the raw text at the pointer's character position, empty when
	// it cannot be resolved.
	Caret string
	// Block is the raw text of the containing block.
	Block string
	// Gone is set when the element was removed before it could be read.
	Gone bool
}

// HasSelection reports whether the target carries a non-empty document or
// field selection.
func (t Target) HasSelection() bool {
	if t.Selection != "" {
		return true
	}
	return t.Field != nil && t.Field.Selected() != ""
}

// Kind says which source produced the text.
type Kind int

const (
	KindNone Kind = iota
	KindSelection
	KindField
	KindCaret
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindSelection:
		return "selection"
	case KindField:
		return "field"
	case KindCaret:
		return "caret"
	case KindBlock:
		return "block"
	default:
		return "none"
	}
}

// Source resolves targets. It remembers only the last target observed
// during hover.
type Source struct {
	last string
}

// ResolveRelease returns the text to scan after a pointer release. A
// target with no text at all yields KindNone.
func (s *Source) ResolveRelease(t Target) (string, Kind, error) {
	if t.Gone {
		return "", KindNone, ErrTargetUnavailable
	}
	if t.Selection != "" {
		return t.Selection, KindSelection, nil
	}
	if t.Field != nil {
		if sel := t.Field.Selected(); sel != "" {
			return sel, KindField, nil
		}
	}
	if t.Caret != "" {
		return t.Caret, KindCaret, nil
	}
	if t.Block != "" {
		return t.Block, KindBlock, nil
	}
	return "", KindNone, nil
}

// Observe records t as the current hover target and reports whether it
// differs from the previous one.
func (s *Source) Observe(t Target) bool {
	if t.ID == s.last {
		return false
	}
	s.last = t.ID
	return true
}

// ResolveHover returns the text to scan for a passive hover.
func (s *Source) ResolveHover(t Target) (string, Kind, error) {
	if t.Gone {
		return "", KindNone, ErrTargetUnavailable
	}
	if t.Caret != "" {
		return t.Caret, KindCaret, nil
	}
	if t.Block != "" {
		return t.Block, KindBlock, nil
	}
	return "", KindNone, nil
}

// Last returns the ID of the last observed hover target.
func (s *Source) Last() string {
	return s.last
}

// Reset forgets the last observed target.
func (s *Source) Reset() {
	s.last = ""
}
