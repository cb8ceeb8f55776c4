package generate

import "encoding/json"

// MIDISchema constrains local generation to a midi_notes array with values
// already in MIDI range.
var MIDISchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "midi_notes": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "pitch": {"type": "integer", "minimum": 0, "maximum": 127},
          "velocity": {"type": "integer", "minimum": 1, "maximum": 127},
          "start_beat": {"type": "number", "minimum": 0},
          "duration_beats": {"type": "number", "minimum": 0.125}
        },
        "required": ["pitch", "velocity", "start_beat", "duration_beats"]
      }
    }
  },
  "required": ["midi_notes"]
}`)
