package generate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountRequestedNotes(t *testing.T) {
	tests := []struct {
		prompt string
		want   int
	}{
		{"8 notes of bass", 8},
		{"a 16-note arp", 16},
		{"32 hits, then 8 notes", 32},
		{"12 Steps", 12},
		{"a 4 bar melody", 16},
		{"2-bar drum loop", 8},
		{"16 beats of house", 0},
		{"something moody", 0},
		{"100000 notes", maxNoteTarget},
		{"999 bars", maxNoteTarget},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, CountRequestedNotes(tt.prompt))
		})
	}
}

func TestDefaultNoteTarget(t *testing.T) {
	tests := []struct {
		prompt string
		want   int
	}{
		{"drum loop", 16},
		{"a Kick pattern", 16},
		{"open hi-hat groove", 16},
		{"hihat rolls", 16},
		{"percussion", 16},
		{"a broken beat", 16},
		{"dreamy melody", 8},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultNoteTarget(tt.prompt))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		prompt string
		want   int
	}{
		{"8 notes", 1000},
		{"32 notes", 2060},
		{"64 steps", 3200},
		{"20 events", 1400},
		{"4 bars", 1180},
		{"4 bar drum groove", 2060},
		{"16 beats", 1180},
		{"4 bars of 8 notes", 1000},
		{"hello", 1000},
		{"100000 hits", 3200},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.prompt))
		})
	}
}
