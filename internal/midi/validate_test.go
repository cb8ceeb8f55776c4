package midi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(fields ...any) map[string]any {
	m := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		m[fields[i].(string)] = fields[i+1]
	}
	return m
}

func TestValidate_Notes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want map[string]any // nil means dropped
	}{
		{
			name: "defaults filled",
			in:   note("pitch", 60.0),
			want: note("pitch", 60, "velocity", 100, "start_beat", 0.0, "duration_beats", 0.25),
		},
		{
			name: "values clamped",
			in:   note("pitch", -5.0, "velocity", 0.0, "start_beat", -1.0, "duration_beats", 0.01),
			want: note("pitch", 0, "velocity", 1, "start_beat", 0.0, "duration_beats", 0.125),
		},
		{
			name: "upper bounds",
			in:   note("pitch", 200.0, "velocity", 300.0, "start_beat", 2.5, "duration_beats", 1.0),
			want: note("pitch", 127, "velocity", 127, "start_beat", 2.5, "duration_beats", 1.0),
		},
		{
			name: "numeric strings and bools",
			in:   note("pitch", "64", "velocity", true, "start_beat", "1.5", "duration_beats", " 0.5 "),
			want: note("pitch", 64, "velocity", 1, "start_beat", 1.5, "duration_beats", 0.5),
		},
		{
			name: "fractional pitch truncated",
			in:   note("pitch", 60.9, "velocity", 99.99),
			want: note("pitch", 60, "velocity", 99, "start_beat", 0.0, "duration_beats", 0.25),
		},
		{
			name: "extra fields kept",
			in:   note("pitch", 36.0, "channel", 10.0),
			want: note("pitch", 36, "velocity", 100, "start_beat", 0.0, "duration_beats", 0.25, "channel", 10.0),
		},
		{name: "not an object", in: 5.0},
		{name: "missing pitch", in: note("velocity", 100.0)},
		{name: "null pitch", in: note("pitch", nil)},
		{name: "bad pitch string", in: note("pitch", "C4")},
		{
			name: "null optional fields default",
			in:   note("pitch", 60.0, "velocity", nil, "start_beat", nil, "duration_beats", nil),
			want: note("pitch", 60, "velocity", 100, "start_beat", 0.0, "duration_beats", 0.25),
		},
		{
			name: "unparseable velocity defaults",
			in:   note("pitch", 62.0, "velocity", "loud", "start_beat", 1.0),
			want: note("pitch", 62, "velocity", 100, "start_beat", 1.0, "duration_beats", 0.25),
		},
		{
			name: "odd start and duration shapes default",
			in:   note("pitch", 64.0, "start_beat", []any{1.0}, "duration_beats", map[string]any{}),
			want: note("pitch", 64, "velocity", 100, "start_beat", 0.0, "duration_beats", 0.25),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := Validate([]map[string]any{{"midi_notes": []any{tt.in}}})
			notes := blocks[0]["midi_notes"].([]any)
			if tt.want == nil {
				assert.Empty(t, notes)
				return
			}
			require.Len(t, notes, 1)
			assert.Equal(t, tt.want, notes[0])
		})
	}
}

func TestValidate_DrumNotesAndOrder(t *testing.T) {
	blocks := Validate([]map[string]any{{
		"drum_notes": []any{
			note("pitch", 36.0, "start_beat", 0.0),
			note("velocity", 80.0),
			note("pitch", 38.0, "start_beat", 1.0),
		},
	}})
	notes := blocks[0]["drum_notes"].([]any)
	require.Len(t, notes, 2)
	assert.Equal(t, 36, notes[0].(map[string]any)["pitch"])
	assert.Equal(t, 38, notes[1].(map[string]any)["pitch"])
}

func TestValidate_CCMessages(t *testing.T) {
	blocks := Validate([]map[string]any{{
		"cc_messages": []any{
			note("cc_number", 1.0),
			note("cc_number", 200.0, "value", -3.0, "beat", -2.0),
			note("cc_number", "74", "value", 500.0, "beat", 4.5),
			note("value", 10.0),
			note("cc_number", "mod"),
			note("cc_number", 7.0, "value", nil, "beat", "soon"),
			"junk",
		},
	}})
	cc := blocks[0]["cc_messages"].([]any)
	require.Len(t, cc, 4)
	assert.Equal(t, note("cc_number", 1, "value", 64, "beat", 0.0), cc[0])
	assert.Equal(t, note("cc_number", 127, "value", 0, "beat", 0.0), cc[1])
	assert.Equal(t, note("cc_number", 74, "value", 127, "beat", 4.5), cc[2])
	assert.Equal(t, note("cc_number", 7, "value", 64, "beat", 0.0), cc[3])
}

func TestValidate_LeavesOtherShapesAlone(t *testing.T) {
	blocks := Validate([]map[string]any{{
		"midi_notes": "not a list",
		"params":     map[string]any{"swing": 0.2},
	}})
	assert.Equal(t, "not a list", blocks[0]["midi_notes"])
	assert.Equal(t, map[string]any{"swing": 0.2}, blocks[0]["params"])
}

func TestValidate_Idempotent(t *testing.T) {
	var blocks []map[string]any
	raw := `[{"midi_notes":[{"pitch":-3,"velocity":0,"start_beat":-1,"duration_beats":0},{"pitch":"61"},{"velocity":5}],
		"drum_notes":[{"pitch":36,"start_beat":0.5}],
		"cc_messages":[{"cc_number":300,"value":90},{"value":1}]}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &blocks))

	once, err := json.Marshal(Validate(blocks))
	require.NoError(t, err)
	twice, err := json.Marshal(Validate(blocks))
	require.NoError(t, err)
	assert.JSONEq(t, string(once), string(twice))
}

func TestNoteCount(t *testing.T) {
	blocks := []map[string]any{
		{"midi_notes": []any{note("pitch", 60), note("pitch", 62)}, "drum_notes": []any{note("pitch", 36)}},
		{"cc_messages": []any{note("cc_number", 1)}},
		{"midi_notes": "bad"},
	}
	assert.Equal(t, 3, NoteCount(blocks))
	assert.Equal(t, 0, NoteCount(nil))
}
