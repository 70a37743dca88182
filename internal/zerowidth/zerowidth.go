// Package zerowidth holds the fixed registry of invisible and formatting
// characters that zwsentry recognises.
//
// The registry is append-only: entries are never reordered or removed, so
// histogram keys stay stable across releases. Four entries carry a tag role
// (bit0, bit1, tagStart, tagEnd); the rest only count as noise.
package zerowidth

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/runenames"
)

// Role is the semantic role a registry character plays in a tag.
type Role int

const (
	// RoleNone marks characters that only count toward the histogram.
	RoleNone Role = iota
	// RoleBit0 encodes a zero bit inside a tag body.
	RoleBit0
	// RoleBit1 encodes a one bit inside a tag body.
	RoleBit1
	// RoleTagStart opens a tag.
	RoleTagStart
	// RoleTagEnd closes a tag.
	RoleTagEnd
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleBit0:
		return "bit0"
	case RoleBit1:
		return "bit1"
	case RoleTagStart:
		return "tagStart"
	case RoleTagEnd:
		return "tagEnd"
	default:
		return "none"
	}
}

// IsBit reports whether the role is one of the two body roles.
func (r Role) IsBit() bool {
	return r == RoleBit0 || r == RoleBit1
}

// Character is one registry entry.
type Character struct {
	CodePoint   rune
	Name        string // symbolic name, used as the histogram key
	UnicodeName string
	Role        Role
}

// String renders the entry as "U+200B ZWSP".
func (c Character) String() string {
	return fmt.Sprintf("U+%04X %s", c.CodePoint, c.Name)
}

// Tag delimiter and body code points.
const (
	Bit0     rune = '\u200B'
	Bit1     rune = '\u200C'
	TagStart rune = '\u2063'
	TagEnd   rune = '\u2064'
)

var registry = [...]Character{
	{CodePoint: '\u200B', Name: "ZWSP", UnicodeName: "ZERO WIDTH SPACE", Role: RoleBit0},
	{CodePoint: '\u200C', Name: "ZWNJ", UnicodeName: "ZERO WIDTH NON-JOINER", Role: RoleBit1},
	{CodePoint: '\u200D', Name: "ZWJ", UnicodeName: "ZERO WIDTH JOINER"},
	{CodePoint: '\u2060', Name: "WJ", UnicodeName: "WORD JOINER"},
	{CodePoint: '\u2061', Name: "FA", UnicodeName: "FUNCTION APPLICATION"},
	{CodePoint: '\u2062', Name: "IT", UnicodeName: "INVISIBLE TIMES"},
	{CodePoint: '\u2063', Name: "IS", UnicodeName: "INVISIBLE SEPARATOR", Role: RoleTagStart},
	{CodePoint: '\u2064', Name: "IP", UnicodeName: "INVISIBLE PLUS", Role: RoleTagEnd},
	{CodePoint: '\uFEFF', Name: "BOM", UnicodeName: "ZERO WIDTH NO-BREAK SPACE"},
	{CodePoint: '\u00AD', Name: "SHY", UnicodeName: "SOFT HYPHEN"},
	{CodePoint: '\u180E', Name: "MVS", UnicodeName: "MONGOLIAN VOWEL SEPARATOR"},
	{CodePoint: '\u200E', Name: "LRM", UnicodeName: "LEFT-TO-RIGHT MARK"},
	{CodePoint: '\u200F', Name: "RLM", UnicodeName: "RIGHT-TO-LEFT MARK"},
	{CodePoint: '\u034F', Name: "CGJ", UnicodeName: "COMBINING GRAPHEME JOINER"},
}

var byRune = func() map[rune]int {
	m := make(map[rune]int, len(registry))
	for i, c := range registry {
		m[c.CodePoint] = i
	}
	return m
}()

// Size is the number of registry entries.
const Size = len(registry)

// All returns a copy of the registry in registration order.
func All() []Character {
	out := make([]Character, len(registry))
	copy(out, registry[:])
	return out
}

// Lookup returns the registry entry for r.
func Lookup(r rune) (Character, bool) {
	i, ok := byRune[r]
	if !ok {
		return Character{}, false
	}
	return registry[i], true
}

// Is reports whether r is a registry character.
func Is(r rune) bool {
	_, ok := byRune[r]
	return ok
}

// RoleOf returns the role of r, RoleNone for anything outside the registry.
func RoleOf(r rune) Role {
	if i, ok := byRune[r]; ok {
		return registry[i].Role
	}
	return RoleNone
}

// Count returns the number of registry characters in s.
func Count(s string) int {
	n := 0
	for _, r := range s {
		if Is(r) {
			n++
		}
	}
	return n
}

// Strip removes every registry character from s. The result is the
// visually identical text; it is never used to restore an annotation.
func Strip(s string) string {
	if Count(s) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !Is(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnicodeName returns the Unicode character name of r, preferring the
// registry entry when r is registered.
func UnicodeName(r rune) string {
	if c, ok := Lookup(r); ok {
		return c.UnicodeName
	}
	return runenames.Name(r)
}
