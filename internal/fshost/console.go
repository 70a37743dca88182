package fshost

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"zwsentry/internal/host"
	"zwsentry/internal/verdict"
	"zwsentry/internal/zerowidth"
)

// Console implements host.Renderer by printing to a writer. It remembers
// what it has annotated so the document can report it.
type Console struct {
	mu          sync.Mutex
	w           io.Writer
	annotations map[string]string
	markers     map[string]bool
	visible     bool
}

// NewConsole returns a renderer writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:           w,
		annotations: make(map[string]string),
		markers:     make(map[string]bool),
	}
}

// Annotated reports whether region id carries a highlight.
func (c *Console) Annotated(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.annotations[id]
	return ok
}

// Annotations returns the highlighted region IDs, sorted.
func (c *Console) Annotations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.annotations))
	for id := range c.annotations {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Original returns the text a highlight replaced.
func (c *Console) Original(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.annotations[id]
	return s, ok
}

// SummaryVisible reports whether a summary is on screen.
func (c *Console) SummaryVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Printf writes a free-form line.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) ApplyAnnotation(regionID, class, tooltip, original string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "[%s] %s: %s\n", class, regionID, tooltip); err != nil {
		return err
	}
	c.annotations[regionID] = original
	return nil
}

func (c *Console) ClearAnnotation(regionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.annotations, regionID)
	return nil
}

func (c *Console) ApplyFieldMarker(fieldID, class, tooltip string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "[%s] field %s: %s\n", class, fieldID, tooltip); err != nil {
		return err
	}
	c.markers[fieldID] = true
	return nil
}

func (c *Console) ClearFieldMarker(fieldID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markers, fieldID)
	return nil
}

func (c *Console) ShowFloatingSummary(anchor host.Point, result verdict.ScanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = true
	fmt.Fprint(c.w, FormatSummary(result))
}

func (c *Console) HideFloatingSummary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = false
}

func (c *Console) ShowVerification(view host.VerificationView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view.Pending {
		fmt.Fprintln(c.w, "| verifying...")
		return
	}
	fmt.Fprintf(c.w, "| %s\n", view.Outcome.Summary())
}

// FormatSummary renders a scan result as a multi-line panel.
func FormatSummary(r verdict.ScanResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "+ %s (%s)\n", r.Verdict, r.Reason)
	fmt.Fprintf(&b, "| %d zero-width character(s), %d tag(s) (%d valid, %d invalid)\n",
		r.ZeroWidthCount, len(r.Tags), r.ValidCount(), r.InvalidCount())
	if h := FormatHistogram(r.Histogram); h != "" {
		fmt.Fprintf(&b, "| %s\n", h)
	}
	for _, t := range r.Tags {
		fmt.Fprintf(&b, "| tag @%d-%d: %s\n", t.Start, t.End, t.Payload)
	}
	for _, e := range r.Explanations {
		fmt.Fprintf(&b, "| %s\n", e)
	}
	if r.Verdict != verdict.Clean {
		b.WriteString("+ :verify to check the registry\n")
	} else {
		b.WriteString("+\n")
	}
	return b.String()
}

// FormatHistogram lists non-zero counts in registry order.
func FormatHistogram(h map[string]int) string {
	var parts []string
	for _, c := range zerowidth.All() {
		if n := h[c.Name]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", c.Name, n))
		}
	}
	return strings.Join(parts, " ")
}
