// Package orchestrator drives scanning under the three modes.
//
// Controller is a pure transition function over Events: it holds the mode
// state machine and talks to the host only through the ports in package
// host. It is not safe for concurrent use; Runner serialises events onto
// a single goroutine and implements the scheduling and verification ports.
//
// Every transition tears down whatever the previous mode left behind
// (annotations, field markers, listeners, the floating summary) and bumps
// an epoch. Deferred work carries a ticket stamped with the epoch it was
// issued in, so anything scheduled before a transition is recognised as
// stale and dropped before it has a visible effect.
package orchestrator

import (
	"sort"
	"strings"
	"time"

	"zwsentry/internal/host"
	"zwsentry/internal/logging"
	"zwsentry/internal/metrics"
	"zwsentry/internal/textsource"
	"zwsentry/internal/verdict"
)

// Verifier forwards text to the verification service. The answer comes
// back as a VerificationCompleted event carrying the same ticket.
type Verifier interface {
	Submit(ticket host.Ticket, text string)
}

// Options tunes summary placement.
type Options struct {
	PointerOffset  int
	ViewportMargin int
	SummarySize    host.Size
}

// DefaultOptions returns the placement defaults.
func DefaultOptions() Options {
	return Options{
		PointerOffset:  12,
		ViewportMargin: 8,
		SummarySize:    host.Size{Width: 320, Height: 180},
	}
}

// Deps wires a Controller to its host.
type Deps struct {
	Document   host.Document
	Renderer   host.Renderer
	Subscriber host.Subscriber
	Scheduler  host.Scheduler
	// Verifier may be nil, in which case the verify action does nothing.
	Verifier Verifier
	Options  Options
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

var allModes = []string{
	host.ModeOff.String(),
	host.ModeAutoDetect.String(),
	host.ModeSelectionScan.String(),
}

var listenerOrder = []host.Listener{
	host.ListenMutations,
	host.ListenPointerUp,
	host.ListenKeyUp,
	host.ListenPointerMove,
	host.ListenPointerDown,
}

type pending struct {
	active bool
	ticket host.Ticket
}

type hoverState struct {
	pending
	point    host.Point
	viewport host.Size
	target   textsource.Target
}

type summaryState struct {
	visible bool
	pinned  bool
	text    string
	result  verdict.ScanResult
}

// Controller is the mode state machine.
type Controller struct {
	doc      host.Document
	render   host.Renderer
	subs     host.Subscriber
	sched    host.Scheduler
	verifier Verifier
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mode  host.Mode
	epoch uint64
	seq   uint64

	listening   map[host.Listener]bool
	annotations map[string]bool
	markers     map[string]bool

	idle    pending
	hover   hoverState
	summary summaryState
	verify  host.Ticket

	source textsource.Source
}

// New creates a controller in ModeOff. Nothing is touched on the host
// until the first SetMode event.
func New(d Deps) *Controller {
	return &Controller{
		doc:         d.Document,
		render:      d.Renderer,
		subs:        d.Subscriber,
		sched:       d.Scheduler,
		verifier:    d.Verifier,
		opts:        d.Options,
		logger:      logging.OrDefault(d.Logger).WithComponent("orchestrator"),
		metrics:     d.Metrics,
		epoch:       1,
		listening:   make(map[host.Listener]bool),
		annotations: make(map[string]bool),
		markers:     make(map[string]bool),
	}
}

// Mode returns the active mode.
func (c *Controller) Mode() host.Mode {
	return c.mode
}

// Annotations returns the IDs of the regions currently annotated, sorted.
func (c *Controller) Annotations() []string {
	return sortedKeys(c.annotations)
}

// Markers returns the IDs of the fields currently marked, sorted.
func (c *Controller) Markers() []string {
	return sortedKeys(c.markers)
}

// Listening returns the active subscriptions.
func (c *Controller) Listening() []host.Listener {
	var out []host.Listener
	for _, l := range listenerOrder {
		if c.listening[l] {
			out = append(out, l)
		}
	}
	return out
}

// SummaryVisible reports whether the floating summary is shown.
func (c *Controller) SummaryVisible() bool {
	return c.summary.visible
}

// Handle applies one event.
func (c *Controller) Handle(ev Event) {
	switch e := ev.(type) {
	case SetMode:
		c.transition(e.Mode)
	case ContentMutated:
		c.onMutation(e)
	case IdleFired:
		c.onIdle(e)
	case FrameFired:
		c.onFrame(e)
	case PointerDown:
		c.onPointerDown(e)
	case PointerUp:
		c.onPointerUp(e)
	case PointerMove:
		c.onPointerMove(e)
	case KeyUp:
		c.onKeyUp(e)
	case VerifyRequested:
		c.onVerifyRequested()
	case VerificationCompleted:
		c.onVerificationCompleted(e)
	default:
		c.logger.Warn("unknown event", "event", ev)
	}
}

func (c *Controller) nextTicket() host.Ticket {
	c.seq++
	return host.Ticket{Epoch: c.epoch, Seq: c.seq}
}

func (c *Controller) transition(m host.Mode) {
	c.logger.Info("mode transition", "from", c.mode.String(), "to", m.String())
	c.teardown()
	c.mode = m
	c.metrics.SetMode(m.String(), allModes)

	switch m {
	case host.ModeAutoDetect:
		c.sweep()
		c.listen(host.ListenMutations)
	case host.ModeSelectionScan:
		c.listen(host.ListenPointerUp, host.ListenKeyUp, host.ListenPointerMove, host.ListenPointerDown)
	}
}

// teardown removes every side effect of the current mode. It only touches
// what was actually applied, so it is safe after a partial or missing
// entry.
func (c *Controller) teardown() {
	c.epoch++
	c.idle = pending{}
	c.hover = hoverState{}
	c.verify = host.Ticket{}
	c.source.Reset()

	c.clearHighlights()
	for _, l := range listenerOrder {
		if c.listening[l] {
			c.subs.Unlisten(l)
			delete(c.listening, l)
		}
	}
	c.hideSummary()
}

func (c *Controller) listen(ls ...host.Listener) {
	for _, l := range ls {
		if !c.listening[l] {
			c.subs.Listen(l)
			c.listening[l] = true
		}
	}
}

func (c *Controller) clearHighlights() {
	for _, id := range sortedKeys(c.annotations) {
		if err := c.render.ClearAnnotation(id); err != nil {
			c.metrics.IncrementAnnotationErrors()
			c.logger.Warn("clear annotation failed", "region", id, "error", err)
		}
		delete(c.annotations, id)
	}
	for _, id := range sortedKeys(c.markers) {
		if err := c.render.ClearFieldMarker(id); err != nil {
			c.metrics.IncrementAnnotationErrors()
			c.logger.Warn("clear field marker failed", "field", id, "error", err)
		}
		delete(c.markers, id)
	}
}

func (c *Controller) observe(source string, res verdict.ScanResult) {
	c.metrics.ObserveScan(source, res.Verdict.String(), res.ZeroWidthCount, res.ValidCount(), res.InvalidCount())
}

// sweep annotates every text region and field that carries zero-width
// content. Regions already annotated and non-text containers are skipped.
// A failed annotation leaves the region as it was.
func (c *Controller) sweep() {
	start := time.Now()
	var scanned, annotated, marked int

	regions, err := c.doc.Regions()
	if err != nil {
		c.logger.Warn("enumerate regions failed", "error", err)
	}
	for _, r := range regions {
		if !r.Container.IsText() || r.Annotated || c.annotations[r.ID] {
			continue
		}
		scanned++
		res := verdict.Evaluate(r.Text)
		c.observe("region", res)
		if !res.HasFindings() {
			continue
		}
		if err := c.render.ApplyAnnotation(r.ID, res.Class(), res.Tooltip(), r.Text); err != nil {
			c.metrics.IncrementAnnotationErrors()
			c.logger.Warn("annotate region failed", "region", r.ID, "error", err)
			continue
		}
		c.annotations[r.ID] = true
		annotated++
	}

	fields, err := c.doc.Fields()
	if err != nil {
		c.logger.Warn("enumerate fields failed", "error", err)
	}
	for _, f := range fields {
		if f.Hidden || c.markers[f.ID] {
			continue
		}
		scanned++
		res := verdict.Evaluate(f.Value)
		c.observe("field", res)
		if !res.HasFindings() {
			continue
		}
		if err := c.render.ApplyFieldMarker(f.ID, res.Class(), res.Tooltip()); err != nil {
			c.metrics.IncrementAnnotationErrors()
			c.logger.Warn("mark field failed", "field", f.ID, "error", err)
			continue
		}
		c.markers[f.ID] = true
		marked++
	}

	c.metrics.ObserveSweep(time.Since(start))
	c.logger.Info("sweep complete", "scanned", scanned, "annotated", annotated, "marked", marked)
}

func (c *Controller) onMutation(e ContentMutated) {
	if c.mode != host.ModeAutoDetect {
		return
	}
	if c.idle.active {
		c.metrics.IncrementCoalesced()
		c.logger.Debug("mutation batch coalesced", "records", e.Records)
		return
	}
	c.idle = pending{active: true, ticket: c.nextTicket()}
	c.sched.RequestIdle(c.idle.ticket)
}

func (c *Controller) onIdle(e IdleFired) {
	if c.mode != host.ModeAutoDetect || !c.idle.active || e.Ticket != c.idle.ticket {
		c.stale("idle", e.Ticket)
		return
	}
	c.idle = pending{}
	c.clearHighlights()
	c.sweep()
}

func (c *Controller) stale(kind string, t host.Ticket) {
	c.metrics.IncrementStale(kind)
	c.logger.Debug("stale event dropped", "kind", kind, "epoch", t.Epoch, "seq", t.Seq)
}

// place anchors the summary near p, clamped so it stays inside the viewport.
func (c *Controller) place(p host.Point, vp host.Size) host.Point {
	return host.Point{
		X: clampAxis(p.X+c.opts.PointerOffset, c.opts.SummarySize.Width, vp.Width, c.opts.ViewportMargin),
		Y: clampAxis(p.Y+c.opts.PointerOffset, c.opts.SummarySize.Height, vp.Height, c.opts.ViewportMargin),
	}
}

func clampAxis(v, size, extent, margin int) int {
	if extent > 0 {
		v = min(v, extent-size-margin)
	}
	return max(v, margin)
}

func (c *Controller) showSummary(anchor host.Point, text string, res verdict.ScanResult, pinned bool) {
	c.render.ShowFloatingSummary(anchor, res)
	c.summary = summaryState{visible: true, pinned: pinned, text: text, result: res}
	c.verify = host.Ticket{}
}

func (c *Controller) hideSummary() {
	if c.summary.visible {
		c.render.HideFloatingSummary()
	}
	c.summary = summaryState{}
	c.verify = host.Ticket{}
}

func (c *Controller) onPointerDown(e PointerDown) {
	if c.mode != host.ModeSelectionScan || e.InsideSummary {
		return
	}
	c.hideSummary()
}

func (c *Controller) onPointerUp(e PointerUp) {
	if c.mode != host.ModeSelectionScan {
		return
	}
	text, kind, err := c.source.ResolveRelease(e.Target)
	if err != nil {
		c.logger.Debug("scan skipped", "error", err)
		return
	}
	if kind == textsource.KindNone {
		return
	}
	res := verdict.Evaluate(text)
	c.observe("selection", res)
	c.hover = hoverState{}
	c.showSummary(c.place(e.Point, e.Viewport), text, res, true)
}

func (c *Controller) onPointerMove(e PointerMove) {
	if c.mode != host.ModeSelectionScan || e.Target.HasSelection() || c.summary.pinned {
		return
	}
	if !c.source.Observe(e.Target) {
		return
	}
	c.hover.point = e.Point
	c.hover.viewport = e.Viewport
	c.hover.target = e.Target
	if c.hover.active {
		return
	}
	c.hover.pending = pending{active: true, ticket: c.nextTicket()}
	c.sched.RequestFrame(c.hover.ticket)
}

func (c *Controller) onFrame(e FrameFired) {
	if c.mode != host.ModeSelectionScan || !c.hover.active || e.Ticket != c.hover.ticket {
		c.stale("frame", e.Ticket)
		return
	}
	c.hover.pending = pending{}
	if c.summary.pinned {
		return
	}
	text, _, err := c.source.ResolveHover(c.hover.target)
	if err != nil {
		c.logger.Debug("hover scan skipped", "error", err)
		return
	}
	res := verdict.Evaluate(text)
	c.observe("hover", res)
	if res.HasFindings() {
		c.showSummary(c.place(c.hover.point, c.hover.viewport), text, res, false)
		return
	}
	c.hideSummary()
}

func (c *Controller) onKeyUp(e KeyUp) {
	if c.mode != host.ModeSelectionScan || e.Target.HasSelection() {
		return
	}
	c.hideSummary()
}

func (c *Controller) onVerifyRequested() {
	if c.mode != host.ModeSelectionScan || !c.summary.visible || c.verifier == nil {
		return
	}
	if c.summary.result.Verdict == verdict.Clean {
		c.logger.Debug("verification not offered for clean text")
		return
	}
	text := strings.TrimSpace(c.summary.text)
	if text == "" {
		return
	}
	c.verify = c.nextTicket()
	c.render.ShowVerification(host.VerificationView{Pending: true})
	c.verifier.Submit(c.verify, text)
}

func (c *Controller) onVerificationCompleted(e VerificationCompleted) {
	if c.mode != host.ModeSelectionScan || !c.summary.visible || c.verify.IsZero() || e.Ticket != c.verify {
		c.stale("verification", e.Ticket)
		return
	}
	c.verify = host.Ticket{}
	c.render.ShowVerification(host.VerificationView{Outcome: e.Outcome})
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
