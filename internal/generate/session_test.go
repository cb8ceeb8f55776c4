package generate

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blocksWithNotes(n int) []map[string]any {
	notes := make([]any, n)
	for i := range notes {
		notes[i] = map[string]any{"pitch": 60, "start_beat": float64(i), "duration_beats": 1.0}
	}
	return []map[string]any{{"midi_notes": notes}}
}

func TestHistory_Cap(t *testing.T) {
	h := NewHistory(maxHistory)
	for i := 0; i < 45; i++ {
		h.Append(roleUser, fmt.Sprintf("m%d", i))
	}
	require.Equal(t, maxHistory, h.Len())
	msgs := h.Messages()
	assert.Equal(t, "m5", msgs[0].Content)
	assert.Equal(t, "m44", msgs[len(msgs)-1].Content)
}

func TestHistory_MessagesIsCopy(t *testing.T) {
	h := NewHistory(4)
	h.Append(roleUser, "hello")
	msgs := h.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "hello", h.Messages()[0].Content)

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Messages())
}

func TestPatternBank_SaveAndGet(t *testing.T) {
	b := NewPatternBank(maxPatterns)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	b.nowFunc = func() time.Time { return at }

	assert.Equal(t, 0, b.Save("empty", "", "m", blocksWithNotes(0)))
	assert.Equal(t, 0, b.Save("nothing", "", "m", nil))
	assert.Equal(t, 0, b.Len())

	id := b.Save("bass", "techno", "llama3.2", blocksWithNotes(3))
	assert.Equal(t, 1, id)

	p, ok := b.Get(1)
	require.True(t, ok)
	assert.Equal(t, "bass", p.Prompt)
	assert.Equal(t, "techno", p.Genre)
	assert.Equal(t, "llama3.2", p.Model)
	assert.Equal(t, 3, p.NoteCount)
	assert.Equal(t, at.UTC(), p.Timestamp)

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, 1, latest.ID)

	_, ok = b.Get(99)
	assert.False(t, ok)
}

func TestPatternBank_EvictsOldest(t *testing.T) {
	b := NewPatternBank(maxPatterns)
	for i := 1; i <= maxPatterns+1; i++ {
		require.Equal(t, i, b.Save(fmt.Sprintf("p%d", i), "", "m", blocksWithNotes(1)))
	}
	assert.Equal(t, maxPatterns, b.Len())
	_, ok := b.Get(1)
	assert.False(t, ok)

	list := b.List()
	require.Len(t, list, maxPatterns)
	assert.Equal(t, maxPatterns+1, list[0].ID)
	assert.Equal(t, 2, list[len(list)-1].ID)
}

func TestPatternBank_TruncatesPromptByRune(t *testing.T) {
	b := NewPatternBank(maxPatterns)
	long := strings.Repeat("é", 250)
	b.Save(long, "", "m", blocksWithNotes(1))

	p, _ := b.Latest()
	assert.Equal(t, maxPatternPrompt, utf8.RuneCountInString(p.Prompt))
	assert.True(t, utf8.ValidString(p.Prompt))
}

func TestPatternBank_ClearResetsIDs(t *testing.T) {
	b := NewPatternBank(maxPatterns)
	b.Save("a", "", "m", blocksWithNotes(1))
	b.Save("b", "", "m", blocksWithNotes(1))

	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok := b.Latest()
	assert.False(t, ok)
	assert.Equal(t, 1, b.Save("c", "", "m", blocksWithNotes(1)))
}

func TestSession_Genre(t *testing.T) {
	s := NewSession()
	assert.Equal(t, "", s.Genre())
	s.SetGenre("dnb")
	assert.Equal(t, "dnb", s.Genre())
	s.SetGenre("")
	assert.Equal(t, "", s.Genre())
}
