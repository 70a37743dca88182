package verdict

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zwsentry/internal/payload"
	"zwsentry/internal/tagscan"
)

var scenario = payload.Metadata{SchemaVersion: 1, IssuerID: 1, ModelID: 42, ModelVersionID: 0, KeyID: 1}

func validTag(t *testing.T, m payload.Metadata) string {
	t.Helper()
	tag, err := tagscan.FormatMetadata(m)
	require.NoError(t, err)
	return tag
}

func invalidTag(t *testing.T, m payload.Metadata) string {
	t.Helper()
	raw, err := payload.Pack(m)
	require.NoError(t, err)
	bad := raw &^ 0xFF
	if bad == raw {
		bad |= 0x01
	}
	return tagscan.Format(bad)
}

func TestScenarioWatermarked(t *testing.T) {
	res := Evaluate("Generated text " + validTag(t, scenario) + "ends here.")

	assert.Equal(t, Watermarked, res.Verdict)
	assert.Equal(t, ReasonTagValid, res.Reason)
	require.Len(t, res.Tags, 1)
	p := res.Tags[0].Payload
	assert.Equal(t, uint16(1), p.IssuerID)
	assert.Equal(t, uint16(42), p.ModelID)
	assert.Equal(t, uint8(1), p.KeyID)
	assert.Equal(t, ClassWatermark, res.Class())
	assert.Equal(t, []string{
		"found 1 zero-width tag candidate(s)",
		"valid CRC metadata payload recovered",
	}, res.Explanations)
}

func TestScenarioZeroedChecksum(t *testing.T) {
	res := Evaluate("Generated text " + invalidTag(t, scenario))

	assert.Equal(t, Suspicious, res.Verdict)
	assert.Equal(t, ReasonTagInvalid, res.Reason)
	require.Len(t, res.Tags, 1)
	assert.False(t, res.Tags[0].Payload.Valid)
	assert.Equal(t, ClassSuspicious, res.Class())
	assert.Contains(t, res.Explanations, "zero-width tags found but CRC invalid")
}

func TestScenarioStrayCharacters(t *testing.T) {
	res := Evaluate(strings.Repeat("\u200B", 5))

	assert.Equal(t, 5, res.ZeroWidthCount)
	assert.Empty(t, res.Tags)
	assert.Equal(t, Suspicious, res.Verdict)
	assert.Equal(t, ReasonNoiseOnly, res.Reason)
	assert.Equal(t, ClassTainted, res.Class())
	assert.Equal(t, []string{"5 zero-width character(s) without a tag"}, res.Explanations)
}

func TestScenarioPlainASCII(t *testing.T) {
	res := Evaluate("Nothing to see here.")

	assert.Equal(t, Clean, res.Verdict)
	assert.Equal(t, 0, res.ZeroWidthCount)
	assert.Equal(t, "", res.Class())
	assert.Empty(t, res.Explanations)
	assert.False(t, res.HasFindings())
	assert.Equal(t, "Clean: no zero-width characters", res.Tooltip())
}

func TestValidTagWinsOverInvalid(t *testing.T) {
	other := payload.Metadata{SchemaVersion: 2, IssuerID: 7, ModelID: 9, KeyID: 3}
	for _, text := range []string{
		invalidTag(t, other) + validTag(t, scenario),
		validTag(t, scenario) + invalidTag(t, other),
		"\u200D\u200D" + invalidTag(t, other) + " " + validTag(t, scenario) + "\uFEFF",
	} {
		res := Evaluate(text)
		assert.Equal(t, Watermarked, res.Verdict)
		assert.Equal(t, 1, res.ValidCount())
		assert.Equal(t, 1, res.InvalidCount())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		in     tagscan.Result
		want   Verdict
		reason Reason
	}{
		{"empty", tagscan.Result{}, Clean, ReasonNone},
		{"noise", tagscan.Result{ZeroWidthCount: 1}, Suspicious, ReasonNoiseOnly},
		{"invalid tag", tagscan.Result{ZeroWidthCount: 66, Tags: []tagscan.Tag{{}}}, Suspicious, ReasonTagInvalid},
		{"valid tag", tagscan.Result{ZeroWidthCount: 66, Tags: []tagscan.Tag{{Payload: payload.Payload{Valid: true}}}}, Watermarked, ReasonTagValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, r := Classify(tt.in)
			assert.Equal(t, tt.want, v)
			assert.Equal(t, tt.reason, r)
		})
	}
}

func TestTooltip(t *testing.T) {
	res := Evaluate(validTag(t, scenario))
	tip := res.Tooltip()
	assert.True(t, strings.HasPrefix(tip, "Watermarked: 66 zero-width character(s)"))
	assert.Contains(t, tip, "1 tag(s) (1 valid, 0 invalid)")
	assert.Contains(t, tip, "issuer 1, model 42 v0, key 1")

	res = Evaluate("a\u200Bb")
	assert.Equal(t, "Suspicious: 1 zero-width character(s)", res.Tooltip())
}

func TestParseVerdict(t *testing.T) {
	for _, v := range []Verdict{Clean, Suspicious, Watermarked} {
		got, err := ParseVerdict(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := ParseVerdict("tainted")
	assert.Error(t, err)
}
