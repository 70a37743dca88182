package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"zwsentry/internal/host"
	"zwsentry/internal/verdict"
	"zwsentry/internal/verification"
)

type annotation struct {
	class    string
	tooltip  string
	original string
}

type shownSummary struct {
	anchor host.Point
	result verdict.ScanResult
}

type submission struct {
	ticket host.Ticket
	text   string
}

// fakeHost implements every host port and records what the controller did.
type fakeHost struct {
	mu sync.Mutex

	regions []host.Region
	fields  []host.Field

	failApply map[string]bool

	annotations map[string]annotation
	markers     map[string]annotation
	listening   map[host.Listener]bool

	idle          []host.Ticket
	frames        []host.Ticket
	summaries     []shownSummary
	visible       bool
	hides         int
	verifications []host.VerificationView
	submitted     []submission
	calls         int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		failApply:   make(map[string]bool),
		annotations: make(map[string]annotation),
		markers:     make(map[string]annotation),
		listening:   make(map[host.Listener]bool),
	}
}

func (f *fakeHost) deps() Deps {
	return Deps{
		Document:   f,
		Renderer:   f,
		Subscriber: f,
		Scheduler:  f,
		Verifier:   f,
		Options:    DefaultOptions(),
	}
}

func (f *fakeHost) setRegions(rs ...host.Region) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regions = rs
}

func (f *fakeHost) setFields(fs ...host.Field) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = fs
}

func (f *fakeHost) Regions() ([]host.Region, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.Region, len(f.regions))
	for i, r := range f.regions {
		_, wrapped := f.annotations[r.ID]
		r.Annotated = r.Annotated || wrapped
		out[i] = r
	}
	return out, nil
}

func (f *fakeHost) Fields() ([]host.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]host.Field(nil), f.fields...), nil
}

func (f *fakeHost) ApplyAnnotation(regionID, class, tooltip, original string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failApply[regionID] {
		return fmt.Errorf("cannot wrap %s", regionID)
	}
	f.annotations[regionID] = annotation{class: class, tooltip: tooltip, original: original}
	return nil
}

func (f *fakeHost) ClearAnnotation(regionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.annotations, regionID)
	return nil
}

func (f *fakeHost) ApplyFieldMarker(fieldID, class, tooltip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failApply[fieldID] {
		return fmt.Errorf("cannot mark %s", fieldID)
	}
	f.markers[fieldID] = annotation{class: class, tooltip: tooltip}
	return nil
}

func (f *fakeHost) ClearFieldMarker(fieldID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.markers, fieldID)
	return nil
}

func (f *fakeHost) ShowFloatingSummary(anchor host.Point, result verdict.ScanResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.visible = true
	f.summaries = append(f.summaries, shownSummary{anchor: anchor, result: result})
}

func (f *fakeHost) HideFloatingSummary() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.visible = false
	f.hides++
}

func (f *fakeHost) ShowVerification(view host.VerificationView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.verifications = append(f.verifications, view)
}

func (f *fakeHost) Listen(l host.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.listening[l] = true
}

func (f *fakeHost) Unlisten(l host.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.listening, l)
}

func (f *fakeHost) RequestIdle(t host.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = append(f.idle, t)
}

func (f *fakeHost) RequestFrame(t host.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, t)
}

func (f *fakeHost) Submit(t host.Ticket, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, submission{ticket: t, text: text})
}

func (f *fakeHost) annotationSet() map[string]annotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]annotation, len(f.annotations))
	for k, v := range f.annotations {
		out[k] = v
	}
	return out
}

func (f *fakeHost) markerSet() map[string]annotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]annotation, len(f.markers))
	for k, v := range f.markers {
		out[k] = v
	}
	return out
}

func (f *fakeHost) listeners() map[host.Listener]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[host.Listener]bool, len(f.listening))
	for k, v := range f.listening {
		out[k] = v
	}
	return out
}

func (f *fakeHost) lastVerification() (host.VerificationView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.verifications) == 0 {
		return host.VerificationView{}, false
	}
	return f.verifications[len(f.verifications)-1], true
}

func (f *fakeHost) isVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// fakeBridge answers every verification with a fixed outcome.
type fakeBridge struct {
	mu    sync.Mutex
	texts []string
	out   verification.Outcome
}

func (b *fakeBridge) Verify(ctx context.Context, text string) verification.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return b.out
}
