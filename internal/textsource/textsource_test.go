package textsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveReleasePrecedence(t *testing.T) {
	field := &FieldSelection{FieldID: "f", Value: "abc\u200Bdef", Start: 2, End: 5}

	tests := []struct {
		name     string
		target   Target
		wantText string
		wantKind Kind
	}{
		{"selection wins", Target{Selection: "sel\u200B", Field: field, Caret: "caret", Block: "block"}, "sel\u200B", KindSelection},
		{"field selection", Target{Field: field, Caret: "caret", Block: "block"}, "c\u200Bd", KindField},
		{"caret before block", Target{Field: &FieldSelection{Value: "abc"}, Caret: "caret", Block: "block"}, "caret", KindCaret},
		{"block fallback", Target{Block: "block"}, "block", KindBlock},
		{"nothing", Target{ID: "x"}, "", KindNone},
	}

	var s Source
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, kind, err := s.ResolveRelease(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestResolveGoneTarget(t *testing.T) {
	var s Source
	_, _, err := s.ResolveRelease(Target{Gone: true, Selection: "x"})
	assert.ErrorIs(t, err, ErrTargetUnavailable)

	_, _, err = s.ResolveHover(Target{Gone: true, Block: "x"})
	assert.ErrorIs(t, err, ErrTargetUnavailable)
}

func TestFieldSelectedUsesRuneOffsets(t *testing.T) {
	f := FieldSelection{Value: "héllo\u200Cwörld", Start: 4, End: 7}
	assert.Equal(t, "o\u200Cw", f.Selected())

	assert.Equal(t, "", FieldSelection{Value: "abc", Start: 2, End: 2}.Selected())
	assert.Equal(t, "", FieldSelection{Value: "abc", Start: 3, End: 1}.Selected())
	assert.Equal(t, "abc", FieldSelection{Value: "abc", Start: -5, End: 99}.Selected())
}

func TestHasSelection(t *testing.T) {
	assert.False(t, Target{}.HasSelection())
	assert.True(t, Target{Selection: "x"}.HasSelection())
	assert.True(t, Target{Field: &FieldSelection{Value: "ab", Start: 0, End: 1}}.HasSelection())
	assert.False(t, Target{Field: &FieldSelection{Value: "ab", Start: 1, End: 1}}.HasSelection())
}

func TestObserveTracksTargetChanges(t *testing.T) {
	var s Source
	assert.True(t, s.Observe(Target{ID: "a"}))
	assert.False(t, s.Observe(Target{ID: "a"}))
	assert.True(t, s.Observe(Target{ID: "b"}))
	assert.Equal(t, "b", s.Last())

	s.Reset()
	assert.Equal(t, "", s.Last())
	assert.True(t, s.Observe(Target{ID: "b"}))
}

func TestResolveHover(t *testing.T) {
	var s Source
	text, kind, err := s.ResolveHover(Target{Selection: "ignored", Caret: "c", Block: "b"})
	require.NoError(t, err)
	assert.Equal(t, "c", text)
	assert.Equal(t, KindCaret, kind)

	text, kind, err = s.ResolveHover(Target{Block: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", text)
	assert.Equal(t, KindBlock, kind)
}
