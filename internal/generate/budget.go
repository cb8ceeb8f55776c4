package generate

import (
	"regexp"
	"strconv"
)

// maxNoteTarget bounds explicit counts so a prompt like "100000 notes"
// cannot make the extender allocate without limit.
const maxNoteTarget = 1024

const (
	minTokenBudget = 1000
	maxTokenBudget = 3200
	tokensPerNote  = 55
	tokenOverhead  = 300
)

var (
	countRe      = regexp.MustCompile(`(?i)(\d+)\s*-?\s*(?:notes?|steps?|hits?)`)
	eventCountRe = regexp.MustCompile(`(?i)(\d+)\s*-?\s*(?:notes?|steps?|hits?|events?)`)
	barRe        = regexp.MustCompile(`(?i)(\d+)\s*-?\s*bars?`)
	beatRe       = regexp.MustCompile(`(?i)(\d+)\s*-?\s*beats?`)
	drumRe       = regexp.MustCompile(`(?i)drum|kick|snare|hi.?hat|perc`)
	drumBeatRe   = regexp.MustCompile(`(?i)drum|kick|snare|hi.?hat|perc|beat`)
)

// CountRequestedNotes returns the note count a prompt asks for: the largest
// "N notes/steps/hits", else the largest "N bars" times four, else 0.
func CountRequestedNotes(prompt string) int {
	if n, ok := largestMatch(countRe, prompt); ok {
		return min(n, maxNoteTarget)
	}
	if bars, ok := largestMatch(barRe, prompt); ok {
		return min(bars*4, maxNoteTarget)
	}
	return 0
}

// DefaultNoteTarget is the length short patterns are looped to when the
// prompt names no count: 16 for drum prompts, 8 otherwise.
func DefaultNoteTarget(prompt string) int {
	if drumBeatRe.MatchString(prompt) {
		return 16
	}
	return 8
}

// EstimateTokens sizes the generation budget at roughly 55 tokens per note
// plus overhead, clamped to [1000, 3200].
func EstimateTokens(prompt string) int {
	if n, ok := largestMatch(eventCountRe, prompt); ok {
		return clampBudget(tokenOverhead + n*tokensPerNote)
	}
	if bars, ok := largestMatch(barRe, prompt); ok {
		perBar := 4
		if drumRe.MatchString(prompt) {
			perBar = 8
		}
		return clampBudget(tokenOverhead + bars*perBar*tokensPerNote)
	}
	if beats, ok := largestMatch(beatRe, prompt); ok {
		return clampBudget(tokenOverhead + beats*tokensPerNote)
	}
	return minTokenBudget
}

func clampBudget(n int) int {
	return max(minTokenBudget, min(n, maxTokenBudget))
}

// largestMatch returns the largest number captured by re. Each number is
// capped at maxNoteTarget, which already saturates every budget.
func largestMatch(re *regexp.Regexp, s string) (int, bool) {
	found := false
	best := 0
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > maxNoteTarget {
			n = maxNoteTarget
		}
		if !found || n > best {
			best = n
		}
		found = true
	}
	return best, found
}
