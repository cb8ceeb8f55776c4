package generate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Mode selects between free chat and pure MIDI generation.
type Mode string

// Request modes.
const (
	ModeChat     Mode = "chat"
	ModeGenerate Mode = "generate"
)

// SessionContext is the Live session state a client sends along with a
// prompt. Nil and empty fields are omitted from the message.
type SessionContext struct {
	BPM           *float64       `json:"bpm,omitempty"`
	TimeSignature string         `json:"time_signature,omitempty"`
	Key           string         `json:"key,omitempty"`
	SelectedTrack string         `json:"selected_track,omitempty"`
	TrackNames    []string       `json:"track_names,omitempty"`
	Playing       *bool          `json:"playing,omitempty"`
	SongTime      *float64       `json:"song_time,omitempty"`
	Groove        *float64       `json:"groove,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Request is one prompt from a client.
type Request struct {
	Prompt  string          `json:"prompt"`
	Session *SessionContext `json:"session,omitempty"`
	Mode    Mode            `json:"mode,omitempty"`
	Genre   string          `json:"genre,omitempty"`
}

// BuildUserMessage renders the session context block, the prompt, and in
// generate mode an explicit note-count instruction.
func BuildUserMessage(req Request) string {
	var parts []string
	if s := req.Session; s != nil {
		lines := []string{"[SESSION CONTEXT]"}
		if s.BPM != nil {
			lines = append(lines, "  BPM: "+formatFloat(*s.BPM))
		}
		if s.TimeSignature != "" {
			lines = append(lines, "  Time Sig: "+s.TimeSignature)
		}
		if s.Key != "" {
			lines = append(lines, "  Key: "+s.Key)
		}
		if s.SelectedTrack != "" {
			lines = append(lines, "  Selected Track: "+s.SelectedTrack)
		}
		if len(s.TrackNames) > 0 {
			lines = append(lines, "  Tracks: "+strings.Join(s.TrackNames, ", "))
		}
		if s.Playing != nil {
			lines = append(lines, "  Playing: "+strconv.FormatBool(*s.Playing))
		}
		if s.SongTime != nil {
			lines = append(lines, fmt.Sprintf("  Position: %.2fs", *s.SongTime))
		}
		if s.Groove != nil {
			lines = append(lines, "  Groove: "+formatFloat(*s.Groove))
		}
		keys := make([]string, 0, len(s.Extra))
		for k := range s.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("  %s: %v", k, s.Extra[k]))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	parts = append(parts, req.Prompt)

	if req.Mode == ModeGenerate {
		if n := CountRequestedNotes(req.Prompt); n > 0 {
			parts = append(parts, fmt.Sprintf("Generate exactly %d notes.", n))
		} else {
			parts = append(parts, fmt.Sprintf("Generate at least %d notes.", DefaultNoteTarget(req.Prompt)))
		}
	}
	return strings.Join(parts, "\n\n")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
