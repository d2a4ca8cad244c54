package agent

import "strings"

// xmlEscape escapes the four characters spec §4.3.1 requires before wrapping
// user content in <user_message>, guaranteeing "</user_message>" can never
// appear literally inside the escaped text (the XML-escape-safety testable
// property in spec §8).
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

// stripThinking removes <think>...</think> blocks per spec §4.3.6: scan for
// the open tag and drop to the matching close tag; an unclosed open tag
// discards everything after it. Idempotent per the testable property in
// spec §8 since a second pass finds no remaining "<think>" substring.
func stripThinking(s string) string {
	var b strings.Builder
	rest := s
	for {
		idx := strings.Index(rest, "<think>")
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		after := rest[idx+len("<think>"):]
		closeIdx := strings.Index(after, "</think>")
		if closeIdx < 0 {
			// Unclosed — discard everything from the open tag onward.
			break
		}
		rest = after[closeIdx+len("</think>"):]
	}
	return strings.TrimSpace(b.String())
}
