package broadcast

import (
	"fmt"
	"strings"
	"unicode"
)

// Violation is one human-readable quality finding. Content is never
// auto-corrected; all findings are surfaced verbatim.
type Violation string

// defaultSpamPhrases are matched case-insensitively as substrings.
// Deploy-specific phrases come in through QualityGate extra list.
var defaultSpamPhrases = []string{
	"free money",
	"guaranteed profit",
	"100% win",
	"act now",
	"limited offer",
	"double your",
}

const (
	minTextLen        = 10
	upperShoutLen     = 50
	maxPictographs    = 15
	maxLinkOccurrence = 3
)

// QualityGate runs static content checks on drafts.
type QualityGate struct {
	phrases []string
}

// NewQualityGate builds a gate with the default spam phrase list plus extras.
func NewQualityGate(extraPhrases []string) *QualityGate {
	phrases := make([]string, 0, len(defaultSpamPhrases)+len(extraPhrases))
	phrases = append(phrases, defaultSpamPhrases...)
	for _, p := range extraPhrases {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &QualityGate{phrases: phrases}
}

// Check runs every check independently (no short-circuit) and returns all
// violations. A draft passes iff the result is empty.
//
// Media-only drafts with no caption pass automatically: there is no text to
// judge.
func (g *QualityGate) Check(d DraftMessage) []Violation {
	text := d.Text
	if d.Kind != ContentText && strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Violation

	runes := []rune(text)
	if len(runes) < minTextLen {
		out = append(out, Violation(fmt.Sprintf("too short: %d characters (minimum %d)", len(runes), minTextLen)))
	}

	if len(runes) > upperShoutLen && isAllUpper(text) {
		out = append(out, Violation("message is entirely upper-case"))
	}

	if n := countPictographs(text); n > maxPictographs {
		out = append(out, Violation(fmt.Sprintf("too many emoji: %d (maximum %d)", n, maxPictographs)))
	}

	lower := strings.ToLower(text)
	for _, p := range g.phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			out = append(out, Violation(fmt.Sprintf("blocked phrase: %q", p)))
		}
	}

	if n := strings.Count(lower, "http"); n > maxLinkOccurrence {
		out = append(out, Violation(fmt.Sprintf("too many links: %d (maximum %d)", n, maxLinkOccurrence)))
	}

	return out
}

// isAllUpper reports whether the text contains letters and none of them
// are lower-case.
func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// countPictographs counts emoji-class runes (symbols and pictographs,
// dingbats, transport, supplemental symbols, flags).
func countPictographs(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r >= 0x1F300 && r <= 0x1F5FF, // misc symbols and pictographs
			r >= 0x1F600 && r <= 0x1F64F, // emoticons
			r >= 0x1F680 && r <= 0x1F6FF, // transport
			r >= 0x1F900 && r <= 0x1F9FF, // supplemental symbols
			r >= 0x1FA70 && r <= 0x1FAFF, // symbols and pictographs extended
			r >= 0x2600 && r <= 0x27BF,   // misc symbols + dingbats
			r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators (flags)
			n++
		}
	}
	return n
}
