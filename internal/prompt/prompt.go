// Package prompt builds the system prompt sent with every request.
package prompt

import (
	"embed"
	"strings"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Builder assembles system prompts from the embedded templates.
type Builder struct {
	base     string
	chat     string
	generate string
}

// New loads the embedded templates.
func New() *Builder {
	return &Builder{
		base:     mustRead("templates/base.txt"),
		chat:     mustRead("templates/chat.txt"),
		generate: mustRead("templates/generate.txt"),
	}
}

func mustRead(name string) string {
	b, err := templateFS.ReadFile(name)
	if err != nil {
		panic("prompt: missing template " + name)
	}
	return strings.TrimSpace(string(b))
}

// SystemPrompt returns the prompt for mode ("chat" or "generate") and an
// optional genre. Generate mode uses the compact prompt so small local models
// stay on task.
func (b *Builder) SystemPrompt(mode, genre string) string {
	if mode == "generate" {
		parts := []string{b.generate}
		if genre != "" {
			parts = append(parts, "Genre: "+genre+".")
		}
		return strings.Join(parts, "\n")
	}

	parts := []string{b.base}
	if genre != "" {
		parts = append(parts, "GENRE CONTEXT: "+strings.ToUpper(genre))
	}
	parts = append(parts, b.chat)
	return strings.Join(parts, "\n\n")
}
