// Package tagscan finds watermark tags and raw zero-width characters in text.
//
// The recognizer is a single left-to-right pass over the decoded runes. Every
// registry character is counted, whether or not it ends up inside a tag. A
// tag is exactly one TagStart, BodyBits bit characters and one TagEnd. When a
// candidate fails (wrong length, foreign character, end of input) scanning
// resumes at the character after its TagStart; overlap is not re-attempted.
package tagscan

import (
	"fmt"
	"strings"

	"zwsentry/internal/payload"
	"zwsentry/internal/zerowidth"
)

// Tag is one recognised tag. Start and End are byte offsets into the
// scanned text; End is exclusive and points past the TagEnd delimiter.
type Tag struct {
	Start   int             `json:"start"`
	End     int             `json:"end"`
	Payload payload.Payload `json:"payload"`
}

// Result is the raw output of a scan.
type Result struct {
	ZeroWidthCount int            `json:"zero_width_count"`
	Histogram      map[string]int `json:"histogram"`
	Tags           []Tag          `json:"tags"`
}

// Payloads returns the decoded payloads in source order.
func (r Result) Payloads() []payload.Payload {
	out := make([]payload.Payload, len(r.Tags))
	for i, t := range r.Tags {
		out[i] = t.Payload
	}
	return out
}

type state int

const (
	stateIdle state = iota
	stateBody
)

// Scan classifies every rune of text and collects all tags in order.
func Scan(text string) Result {
	res := Result{Histogram: make(map[string]int)}

	st := stateIdle
	start := 0
	var bits []bool

	for i, r := range text {
		c, known := zerowidth.Lookup(r)
		if known {
			res.ZeroWidthCount++
			res.Histogram[c.Name]++
		}

		if st == stateBody {
			switch {
			case c.Role.IsBit() && known && len(bits) < payload.BodyBits:
				bits = append(bits, c.Role == zerowidth.RoleBit1)
				continue
			case r == zerowidth.TagEnd && len(bits) == payload.BodyBits:
				p, err := payload.Decode(bits)
				if err != nil {
					panic(fmt.Sprintf("tagscan: %v", err))
				}
				res.Tags = append(res.Tags, Tag{Start: start, End: i + len(string(r)), Payload: p})
				st = stateIdle
				continue
			default:
				// Candidate failed. Everything after its TagStart was a bit
				// character, so resuming there is the same as re-reading
				// the current rune from the idle state.
				st = stateIdle
			}
		}

		if r == zerowidth.TagStart {
			st = stateBody
			start = i
			bits = bits[:0]
		}
	}
	return res
}

// Format renders raw as a complete tag: TagStart, BodyBits bit characters
// (most significant bit first) and TagEnd.
func Format(raw uint64) string {
	var b strings.Builder
	b.Grow((payload.BodyBits + 2) * 3)
	b.WriteRune(zerowidth.TagStart)
	for _, bit := range payload.Bits(raw) {
		if bit {
			b.WriteRune(zerowidth.Bit1)
		} else {
			b.WriteRune(zerowidth.Bit0)
		}
	}
	b.WriteRune(zerowidth.TagEnd)
	return b.String()
}

// FormatMetadata packs m and renders it as a tag.
func FormatMetadata(m payload.Metadata) (string, error) {
	raw, err := payload.Pack(m)
	if err != nil {
		return "", err
	}
	return Format(raw), nil
}
