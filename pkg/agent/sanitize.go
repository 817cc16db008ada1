package agent

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// base64DataURIPattern matches `data:<mime>;base64,<payload>` where payload
// is at least 200 characters of the base64 alphabet.
var base64DataURIPattern = regexp.MustCompile(`data:[^;,\s]+;base64,[A-Za-z0-9+/=]{200,}`)

// hexRunPattern matches a maximal run of ASCII hex digits at least 200
// characters long.
var hexRunPattern = regexp.MustCompile(`(?i)[0-9a-f]{200,}`)

// truncationMarkerPattern recognizes a marker Sanitize itself appended, so
// re-sanitizing already-sanitized output is a no-op.
var truncationMarkerPattern = regexp.MustCompile(`\n\n\[truncated — \d+ bytes total\]$`)

// Sanitize redacts base64 data URIs and long hex runs, then truncates at a
// codepoint boundary no later than maxBytes. Base64 stripping precedes hex
// stripping; truncation runs last.
func Sanitize(input string, maxBytes int) string {
	if loc := truncationMarkerPattern.FindStringIndex(input); loc != nil && loc[0] <= maxBytes {
		return input
	}

	out := base64DataURIPattern.ReplaceAllStringFunc(input, func(match string) string {
		return fmt.Sprintf("[base64 data removed — %d bytes]", len(match))
	})

	out = hexRunPattern.ReplaceAllStringFunc(out, func(match string) string {
		return fmt.Sprintf("[hex data removed — %d chars]", len(match))
	})

	if len(out) <= maxBytes {
		return out
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	// For input that was not valid UTF-8 to begin with, RuneStart alone
	// can land inside a mangled sequence; back off past any trailing
	// garbage so the last rune before the cut decodes cleanly.
	for cut > 0 {
		r, size := utf8.DecodeLastRuneInString(out[:cut])
		if r == utf8.RuneError && size <= 1 {
			cut--
			continue
		}
		break
	}

	truncated := out[:cut]
	return truncated + fmt.Sprintf("\n\n[truncated — %d bytes total]", len(out))
}
