package generate

import (
	"sync"
	"time"

	"github.com/sells-group/conduit/internal/midi"
	"github.com/sells-group/conduit/internal/provider"
)

const (
	maxHistory       = 40
	maxPatterns      = 20
	maxPatternPrompt = 200
	roleUser         = "user"
	roleAssistant    = "assistant"
)

// Session is the conversation state shared by requests: history, the
// pattern bank and the active genre.
type Session struct {
	History  *History
	Patterns *PatternBank

	mu    sync.RWMutex
	genre string
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		History:  NewHistory(maxHistory),
		Patterns: NewPatternBank(maxPatterns),
	}
}

// Genre returns the active genre, or "" when none is set.
func (s *Session) Genre() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genre
}

// SetGenre sets the active genre. An empty string clears it.
func (s *Session) SetGenre(genre string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genre = genre
}

// History is a bounded conversation log; the oldest turns drop first.
type History struct {
	mu   sync.RWMutex
	cap  int
	msgs []provider.Message
}

// NewHistory returns a history holding at most capacity messages.
func NewHistory(capacity int) *History {
	return &History{cap: capacity}
}

// Append adds a message, evicting the oldest past capacity.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, provider.Message{Role: role, Content: content})
	if over := len(h.msgs) - h.cap; over > 0 {
		h.msgs = append([]provider.Message(nil), h.msgs[over:]...)
	}
}

// Messages returns a copy of the log, oldest first.
func (h *History) Messages() []provider.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]provider.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Clear empties the log.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}

// Pattern is a saved generation result.
type Pattern struct {
	ID        int              `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Prompt    string           `json:"prompt"`
	Genre     string           `json:"genre,omitempty"`
	Model     string           `json:"model"`
	NoteCount int              `json:"note_count"`
	Blocks    []map[string]any `json:"json_blocks"`
}

// PatternSummary is a Pattern without its note data.
type PatternSummary struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Prompt    string    `json:"prompt"`
	Genre     string    `json:"genre,omitempty"`
	NoteCount int       `json:"note_count"`
}

// PatternBank keeps the most recent patterns, oldest evicted first.
type PatternBank struct {
	mu       sync.RWMutex
	cap      int
	nextID   int
	patterns []Pattern
	nowFunc  func() time.Time
}

// NewPatternBank returns a bank holding at most capacity patterns.
func NewPatternBank(capacity int) *PatternBank {
	return &PatternBank{cap: capacity, nowFunc: time.Now}
}

// Save stores blocks and returns the new pattern id. Blocks without notes
// are not stored and Save returns 0.
func (b *PatternBank) Save(prompt, genre, model string, blocks []map[string]any) int {
	count := midi.NoteCount(blocks)
	if count == 0 {
		return 0
	}

	if r := []rune(prompt); len(r) > maxPatternPrompt {
		prompt = string(r[:maxPatternPrompt])
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.patterns = append(b.patterns, Pattern{
		ID:        b.nextID,
		Timestamp: b.nowFunc().UTC(),
		Prompt:    prompt,
		Genre:     genre,
		Model:     model,
		NoteCount: count,
		Blocks:    blocks,
	})
	if over := len(b.patterns) - b.cap; over > 0 {
		b.patterns = append([]Pattern(nil), b.patterns[over:]...)
	}
	return b.nextID
}

// List returns summaries, most recent first.
func (b *PatternBank) List() []PatternSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PatternSummary, 0, len(b.patterns))
	for i := len(b.patterns) - 1; i >= 0; i-- {
		p := b.patterns[i]
		out = append(out, PatternSummary{
			ID:        p.ID,
			Timestamp: p.Timestamp,
			Prompt:    p.Prompt,
			Genre:     p.Genre,
			NoteCount: p.NoteCount,
		})
	}
	return out
}

// Latest returns the most recently saved pattern.
func (b *PatternBank) Latest() (Pattern, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.patterns) == 0 {
		return Pattern{}, false
	}
	return b.patterns[len(b.patterns)-1], true
}

// Get returns the pattern with the given id, if it is still in the bank.
func (b *PatternBank) Get(id int) (Pattern, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.patterns {
		if p.ID == id {
			return p, true
		}
	}
	return Pattern{}, false
}

// Len returns the number of stored patterns.
func (b *PatternBank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.patterns)
}

// Clear drops every pattern and restarts ids at 1.
func (b *PatternBank) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns = nil
	b.nextID = 0
}
