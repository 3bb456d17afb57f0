package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChars bounds cleaned output.
const DefaultMaxChars = 50000

// Lines at or under this length are dropped, which also removes standalone
// navigation words such as "menu" or "contato".
const minLineChars = 10

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	inlineSpace  = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankRuns    = regexp.MustCompile(`\n\s*\n+`)
)

// Clean normalizes strategy output before validation. It strips control
// characters, collapses whitespace, drops short and symbol-only lines, and
// truncates to maxChars runes with a "..." suffix.
func Clean(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = controlChars.ReplaceAllString(text, "")
	text = inlineSpace.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= minLineChars {
			continue
		}
		if symbolOnly(line) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	return truncate(out, maxChars)
}

func truncate(text string, maxChars int) string {
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + "..."
}

// symbolOnly reports whether line has no letters or digits.
func symbolOnly(line string) bool {
	for _, r := range line {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
