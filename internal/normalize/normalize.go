// Package normalize turns raw model text into JSON objects, repairing the
// usual ways models get JSON wrong.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Block is one decoded JSON object from a model response.
type Block = map[string]any

// keyAliases maps wrong top-level key names to canonical ones. Order matters:
// "notes" must be tried before "note".
var keyAliases = []struct{ wrong, right string }{
	{`"drumbeats"`, `"drum_notes"`},
	{`"notes"`, `"midi_notes"`},
	{`"note"`, `"midi_notes"`},
	{`"drums"`, `"drum_notes"`},
	{`"melody"`, `"midi_notes"`},
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	aliasRes        = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(keyAliases))
		for i, a := range keyAliases {
			out[i] = regexp.MustCompile(`\{\s*` + regexp.QuoteMeta(a.wrong))
		}
		return out
	}()
)

// ParseGenerateResponse extracts JSON objects from a generate-mode reply.
// It tries, in order: the text as-is after stripping fences, preamble and
// common quirks; a repair of truncated output; and fenced ```json blocks in
// the original text. A top-level array is wrapped as {"midi_notes": [...]}.
func ParseGenerateResponse(text string) []Block {
	log := zap.L().With(zap.String("component", "normalize"))
	original := text
	text = strings.TrimSpace(text)

	text = stripFence(text)

	if text != "" && text[0] != '{' && text[0] != '[' {
		if start := firstBracket(text); start >= 0 {
			log.Debug("skipping preamble", zap.Int("chars", start))
			text = text[start:]
		}
	}

	text = normalizeJSONText(text)

	if b, ok := decodeBlock(text); ok {
		return []Block{b}
	}

	if repaired, ok := repairTruncated(text); ok {
		if b, ok := decodeBlock(repaired); ok {
			log.Info("repaired truncated JSON", zap.Int("from", len(text)), zap.Int("to", len(repaired)))
			return []Block{b}
		}
	}

	return ExtractJSONBlocks(original)
}

// ExtractJSONBlocks parses every ```json fenced segment of text. Segments
// that fail to parse or are not objects are dropped.
func ExtractJSONBlocks(text string) []Block {
	segments := strings.Split(text, "```json")
	var blocks []Block
	for _, seg := range segments[1:] {
		end := strings.Index(seg, "```")
		if end < 0 {
			continue
		}
		raw := strings.TrimSpace(seg[:end])
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
			zap.L().Warn("failed to parse JSON block",
				zap.String("component", "normalize"),
				zap.String("preview", preview(raw, 100)),
				zap.Error(err),
			)
			continue
		}
		blocks = append(blocks, obj)
	}
	return blocks
}

// stripFence removes a leading ``` wrapper and its optional json tag.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	parts := strings.SplitN(text, "```", 3)
	if len(parts) < 2 {
		return text
	}
	inner := strings.TrimPrefix(parts[1], "json")
	return strings.TrimSpace(inner)
}

func firstBracket(text string) int {
	brace := strings.IndexByte(text, '{')
	bracket := strings.IndexByte(text, '[')
	switch {
	case brace < 0:
		return bracket
	case bracket < 0:
		return brace
	case brace < bracket:
		return brace
	default:
		return bracket
	}
}

// decodeBlock parses text as an object, or as an array wrapped under
// midi_notes. Scalars are rejected.
func decodeBlock(text string) (Block, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		return Block{"midi_notes": t}, true
	default:
		return nil, false
	}
}

// normalizeJSONText fixes single quotes next to structural characters,
// trailing commas, and top-level key aliases.
func normalizeJSONText(text string) string {
	text = fixSingleQuotes(text)
	text = trailingCommaRe.ReplaceAllString(text, "$1")

	for i, a := range keyAliases {
		text = aliasRes[i].ReplaceAllLiteralString(text, "{ "+a.right)
		if strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), a.wrong) {
			text = strings.Replace(text, a.wrong, a.right, 1)
		}
	}
	return text
}

// fixSingleQuotes turns ' into " when the quote follows one of [{,: or
// whitespace, or precedes one of ]},: or whitespace. Apostrophes inside
// words are left alone.
func fixSingleQuotes(text string) string {
	if !strings.Contains(text, "'") {
		return text
	}
	b := []byte(text)
	out := make([]byte, len(b))
	copy(out, b)
	for i, c := range b {
		if c != '\'' {
			continue
		}
		if (i > 0 && isOpenContext(b[i-1])) || (i+1 < len(b) && isCloseContext(b[i+1])) {
			out[i] = '"'
		}
	}
	return string(out)
}

func isOpenContext(c byte) bool {
	return strings.IndexByte("[{,: \t\n\r\f\v", c) >= 0
}

func isCloseContext(c byte) bool {
	return strings.IndexByte("]},: \t\n\r\f\v", c) >= 0
}

// repairTruncated cuts text after its last '}' and closes the brackets and
// braces still open.
func repairTruncated(text string) (string, bool) {
	repaired := strings.TrimRight(text, " \t\r\n")
	last := strings.LastIndexByte(repaired, '}')
	if last <= 0 {
		return "", false
	}
	repaired = repaired[:last+1]
	openBrackets := strings.Count(repaired, "[") - strings.Count(repaired, "]")
	openBraces := strings.Count(repaired, "{") - strings.Count(repaired, "}")
	if openBrackets > 0 {
		repaired += strings.Repeat("]", openBrackets)
	}
	if openBraces > 0 {
		repaired += strings.Repeat("}", openBraces)
	}
	return repaired, true
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
