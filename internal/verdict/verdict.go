// Package verdict classifies tag scan results.
//
// The cascade is strict: any valid payload makes the text watermarked, then
// any tag or stray zero-width character makes it suspicious, otherwise it is
// clean. A Reason alongside the verdict records which suspicious branch
// fired so callers can tell invalid tags from plain noise.
package verdict

import (
	"fmt"
	"strings"

	"zwsentry/internal/tagscan"
)

// Verdict is the tri-state summary of a scan.
type Verdict int

const (
	Clean Verdict = iota
	Suspicious
	Watermarked
)

func (v Verdict) String() string {
	switch v {
	case Suspicious:
		return "suspicious"
	case Watermarked:
		return "watermarked"
	default:
		return "clean"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ParseVerdict parses the output of Verdict.String.
func ParseVerdict(s string) (Verdict, error) {
	switch s {
	case "clean":
		return Clean, nil
	case "suspicious":
		return Suspicious, nil
	case "watermarked":
		return Watermarked, nil
	}
	return Clean, fmt.Errorf("verdict: unknown verdict %q", s)
}

// Reason records which branch of the cascade produced the verdict.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoiseOnly
	ReasonTagInvalid
	ReasonTagValid
)

func (r Reason) String() string {
	switch r {
	case ReasonNoiseOnly:
		return "noise-only"
	case ReasonTagInvalid:
		return "tag-invalid"
	case ReasonTagValid:
		return "tag-valid"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Highlight classes attached to annotated regions and fields.
const (
	ClassTainted    = "tainted"
	ClassSuspicious = "tainted-suspicious"
	ClassWatermark  = "tainted-watermark"
)

// Classify applies the verdict cascade to a scan result.
func Classify(r tagscan.Result) (Verdict, Reason) {
	for _, t := range r.Tags {
		if t.Payload.Valid {
			return Watermarked, ReasonTagValid
		}
	}
	if len(r.Tags) > 0 {
		return Suspicious, ReasonTagInvalid
	}
	if r.ZeroWidthCount > 0 {
		return Suspicious, ReasonNoiseOnly
	}
	return Clean, ReasonNone
}

// ScanResult is a scan together with its verdict and explanation lines.
type ScanResult struct {
	tagscan.Result
	Verdict      Verdict  `json:"verdict"`
	Reason       Reason   `json:"reason"`
	Explanations []string `json:"explanations"`
}

// Evaluate scans text and classifies the result.
func Evaluate(text string) ScanResult {
	return FromScan(tagscan.Scan(text))
}

// FromScan classifies an existing scan result.
func FromScan(r tagscan.Result) ScanResult {
	v, reason := Classify(r)
	s := ScanResult{Result: r, Verdict: v, Reason: reason}
	s.Explanations = s.explain()
	return s
}

func (s ScanResult) explain() []string {
	var out []string
	if n := len(s.Tags); n > 0 {
		out = append(out, fmt.Sprintf("found %d zero-width tag candidate(s)", n))
		if s.ValidCount() > 0 {
			out = append(out, "valid CRC metadata payload recovered")
		} else {
			out = append(out, "zero-width tags found but CRC invalid")
		}
	} else if s.ZeroWidthCount > 0 {
		out = append(out, fmt.Sprintf("%d zero-width character(s) without a tag", s.ZeroWidthCount))
	}
	return out
}

// ValidCount returns the number of tags whose checksum matched.
func (s ScanResult) ValidCount() int {
	n := 0
	for _, t := range s.Tags {
		if t.Payload.Valid {
			n++
		}
	}
	return n
}

// InvalidCount returns the number of tags whose checksum did not match.
func (s ScanResult) InvalidCount() int {
	return len(s.Tags) - s.ValidCount()
}

// HasFindings reports whether the scan saw any zero-width character or tag.
func (s ScanResult) HasFindings() bool {
	return s.ZeroWidthCount > 0 || len(s.Tags) > 0
}

// Class returns the highlight class for the result, or "" for clean text.
func (s ScanResult) Class() string {
	switch s.Reason {
	case ReasonTagValid:
		return ClassWatermark
	case ReasonTagInvalid:
		return ClassSuspicious
	case ReasonNoiseOnly:
		return ClassTainted
	default:
		return ""
	}
}

// Tooltip summarises the result in one line.
func (s ScanResult) Tooltip() string {
	var b strings.Builder
	switch s.Verdict {
	case Watermarked:
		b.WriteString("Watermarked")
	case Suspicious:
		b.WriteString("Suspicious")
	default:
		return "Clean: no zero-width characters"
	}
	fmt.Fprintf(&b, ": %d zero-width character(s)", s.ZeroWidthCount)
	if len(s.Tags) > 0 {
		fmt.Fprintf(&b, ", %d tag(s) (%d valid, %d invalid)", len(s.Tags), s.ValidCount(), s.InvalidCount())
	}
	if s.Verdict == Watermarked {
		for _, t := range s.Tags {
			if t.Payload.Valid {
				fmt.Fprintf(&b, "; issuer %d, model %d v%d, key %d",
					t.Payload.IssuerID, t.Payload.ModelID, t.Payload.ModelVersionID, t.Payload.KeyID)
				break
			}
		}
	}
	return b.String()
}
