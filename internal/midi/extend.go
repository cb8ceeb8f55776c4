package midi

import (
	"math"

	"go.uber.org/zap"
)

const beatsPerBar = 4.0

// Extend loops short note lists until each holds target notes. The bar
// length is the smallest multiple of four beats that covers the last note
// end, and never less than one bar. Copies are verbatim apart from the
// start offset; the last tile stops as soon as target is reached. Blocks
// are extended in place and returned. A target of zero or less does
// nothing.
func Extend(blocks []map[string]any, target int) []map[string]any {
	if target <= 0 {
		return blocks
	}
	for _, block := range blocks {
		for _, key := range NoteKeys {
			notes, ok := block[key].([]any)
			if !ok || len(notes) == 0 || len(notes) >= target {
				continue
			}

			barLen := patternLength(notes)
			original := notes
			extended := make([]any, len(original), target)
			copy(extended, original)
			for offset := barLen; len(extended) < target; offset += barLen {
				before := len(extended)
				for _, raw := range original {
					if len(extended) >= target {
						break
					}
					n, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					start, _ := toFloat(n["start_beat"])
					c := copyMap(n)
					c["start_beat"] = start + offset
					extended = append(extended, c)
				}
				if len(extended) == before {
					break
				}
			}
			block[key] = extended

			zap.L().Info("extended pattern",
				zap.String("component", "midi"),
				zap.String("key", key),
				zap.Int("from", len(original)),
				zap.Int("to", len(extended)),
				zap.Float64("pattern_len", barLen),
				zap.Int("target", target),
			)
		}
	}
	return blocks
}

func patternLength(notes []any) float64 {
	maxEnd := 0.0
	for _, raw := range notes {
		n, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		start, _ := toFloat(n["start_beat"])
		dur, _ := toFloat(n["duration_beats"])
		maxEnd = math.Max(maxEnd, start+dur)
	}
	return math.Max(beatsPerBar, math.Ceil(maxEnd/beatsPerBar)*beatsPerBar)
}
