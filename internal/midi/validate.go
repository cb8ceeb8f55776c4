// Package midi validates and extends the note data models return.
package midi

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NoteKeys are the block keys holding note lists.
var NoteKeys = []string{"midi_notes", "drum_notes"}

const (
	defaultVelocity = 100
	defaultDuration = 0.25
	minDuration     = 0.125
	defaultCCValue  = 64
)

// Validate clamps note and CC values into MIDI range. Only entries that are
// not objects or lack a usable pitch or cc_number are dropped. Blocks are fixed in place and returned. Running it twice
// gives the same result as running it once.
func Validate(blocks []map[string]any) []map[string]any {
	for _, block := range blocks {
		for _, key := range NoteKeys {
			notes, ok := block[key].([]any)
			if !ok {
				continue
			}
			cleaned := make([]any, 0, len(notes))
			for _, raw := range notes {
				if n, ok := validateNote(raw); ok {
					cleaned = append(cleaned, n)
				}
			}
			block[key] = cleaned
		}

		if cc, ok := block["cc_messages"].([]any); ok {
			cleaned := make([]any, 0, len(cc))
			for _, raw := range cc {
				if m, ok := validateCC(raw); ok {
					cleaned = append(cleaned, m)
				}
			}
			block["cc_messages"] = cleaned
		}
	}
	return blocks
}

func validateNote(raw any) (map[string]any, bool) {
	in, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	rawPitch, ok := in["pitch"]
	if !ok {
		return nil, false
	}
	pitch, ok := toInt(rawPitch)
	if !ok {
		return nil, false
	}
	velocity := intField(in, "velocity", defaultVelocity)
	start := floatField(in, "start_beat", 0)
	duration := floatField(in, "duration_beats", defaultDuration)

	n := copyMap(in)
	n["pitch"] = clampInt(pitch, 0, 127)
	n["velocity"] = clampInt(velocity, 1, 127)
	n["start_beat"] = math.Max(0, start)
	n["duration_beats"] = math.Max(minDuration, duration)
	return n, true
}

func validateCC(raw any) (map[string]any, bool) {
	in, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	rawNum, ok := in["cc_number"]
	if !ok {
		return nil, false
	}
	num, ok := toInt(rawNum)
	if !ok {
		return nil, false
	}
	value := intField(in, "value", defaultCCValue)
	beat := floatField(in, "beat", 0)

	m := copyMap(in)
	m["cc_number"] = clampInt(num, 0, 127)
	m["value"] = clampInt(value, 0, 127)
	m["beat"] = math.Max(0, beat)
	return m, true
}

// NoteCount sums the midi and drum notes over all blocks.
func NoteCount(blocks []map[string]any) int {
	total := 0
	for _, block := range blocks {
		for _, key := range NoteKeys {
			if notes, ok := block[key].([]any); ok {
				total += len(notes)
			}
		}
	}
	return total
}

// intField reads an optional field. Missing, null and uncoercible values
// all yield def.
func intField(m map[string]any, key string, def int) int {
	if n, ok := toInt(m[key]); ok {
		return n
	}
	return def
}

func floatField(m map[string]any, key string, def float64) float64 {
	if f, ok := toFloat(m[key]); ok {
		return f
	}
	return def
}

// toInt truncates toward zero, the way a float is narrowed to an int.
func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	f = math.Trunc(f)
	if f > math.MaxInt32 {
		return math.MaxInt32, true
	}
	if f < math.MinInt32 {
		return math.MinInt32, true
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if t {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
