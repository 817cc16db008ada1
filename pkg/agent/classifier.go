package agent

import "strings"

// contextWindowPhrases is the fixed, case-insensitive phrase list used to
// promote generic provider errors into ContextWindowExceeded.
var contextWindowPhrases = []string{
	"context_length_exceeded",
	"max_tokens",
	"too many tokens",
	"request too large",
	"maximum context length",
	"context window",
	"token limit",
	"content_too_large",
	"request_too_large",
	"status 413",
	"http 413",
}

// IsContextWindowError reports whether msg matches any fixed phrase
// associated with a provider rejecting a prompt for being too large. The
// loop uses it to promote generic provider errors into the
// ContextWindowExceeded variant; the chat layer uses it to classify stream
// errors that never pass through the loop.
func IsContextWindowError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, phrase := range contextWindowPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
