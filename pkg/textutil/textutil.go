// Package textutil holds the small text normalization helpers shared by the
// prompt builder and the reply pipeline.
package textutil

import "strings"

const (
	// shortIdentityMax is the longest identity rendered without truncation.
	shortIdentityMax  = 18
	shortIdentityHead = 10
	shortIdentityTail = 6
)

// MaxReplyChars is the hard cap applied to a normalized bot reply.
const MaxReplyChars = 220

// ShortIdentity renders an identity in a compact form: identities up to 18
// characters pass through unchanged, longer ones become head(10) + ".." + tail(6).
func ShortIdentity(identity string) string {
	if len(identity) <= shortIdentityMax {
		return identity
	}
	head := identity[:shortIdentityHead]
	tail := identity[len(identity)-shortIdentityTail:]
	return head + ".." + tail
}

// TruncateForContext flattens newlines and caps text before it is injected
// into the contextual prompt. Text over maxChars is cut and suffixed with "...".
func TruncateForContext(text string, maxChars int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxChars {
		return clean
	}
	return string(runes[:maxChars]) + "..."
}

// NormalizeReply shapes raw model output into something that reads like a
// chat message: whitespace runs collapse to single spaces, at most the first
// two sentence-terminated clauses survive, and the result never exceeds
// MaxReplyChars plus an appended ellipsis.
func NormalizeReply(text string) string {
	compact := strings.Join(strings.Fields(text), " ")
	if compact == "" {
		return ""
	}

	// Keep at most two sentences so the reply stays conversational.
	sentences := 0
	endIdx := len(compact)
	for idx, ch := range compact {
		if ch == '.' || ch == '!' || ch == '?' {
			sentences++
			if sentences >= 2 {
				endIdx = idx + 1
				break
			}
		}
	}
	out := strings.TrimSpace(compact[:endIdx])

	runes := []rune(out)
	if len(runes) > MaxReplyChars {
		cut := string(runes[:MaxReplyChars])
		if !strings.HasSuffix(cut, ".") && !strings.HasSuffix(cut, "!") && !strings.HasSuffix(cut, "?") {
			cut += "..."
		}
		out = cut
	}

	if out == "" {
		compactRunes := []rune(compact)
		if len(compactRunes) > MaxReplyChars {
			compactRunes = compactRunes[:MaxReplyChars]
		}
		out = string(compactRunes)
	}
	return out
}
