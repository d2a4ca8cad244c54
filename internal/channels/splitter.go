package channels

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Per-channel byte caps (spec §4.2 / §6).
const (
	MaxBytesTelegram = 4096
	MaxBytesSlack    = 4000
	MaxBytesFeishu   = 4000
	MaxBytesMatrix   = 3800
	MaxBytesDiscord  = 2000
	MaxBytesWhatsApp = 3000

	// MaxBytesGenericWebhook is the default cap for the minor channels
	// built on the spec §6 generic webhook contract (DingTalk, Email,
	// Nostr, QQ, Signal, iMessage), none of which publish their own
	// documented message-size limit.
	MaxBytesGenericWebhook = 4000
)

// SplitText breaks text into chunks no longer than maxBytes, grounded on
// the teacher's Discord sendChunked: prefer breaking at the last newline
// or whitespace before the limit, fall back to a hard byte-boundary cut
// that still respects UTF-8 codepoint boundaries (spec §4.2/§8 "text
// splitter safety: byte_len<=C, no partial codepoint"), and keep a
// running count of unescaped ``` fences so an odd count at a cut point
// closes the fence before the cut and reopens it in the next chunk (spec
// §6 "never leave unbalanced Markdown fence").
func SplitText(text string, maxBytes int) []string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	openFence := false

	for len(text) > 0 {
		limit := maxBytes
		if strings.Contains(text, "```") && maxBytes > 8 {
			limit = maxBytes - 4 // room for an appended "\n```"
		}
		if len(text) <= limit {
			chunks = append(chunks, closeFenceIfOpen(text, &openFence))
			break
		}

		cut := lastBreakPoint(text, limit)
		cut = backUpToCodepointBoundary(text, cut)
		if cut <= 0 {
			cut = backUpToCodepointBoundary(text, limit)
		}
		if cut <= 0 {
			cut = 1
		}

		chunk := text[:cut]
		// A fence carried over from the previous chunk is already at the
		// start of text, so the chunk's own count decides its state.
		openFence = strings.Count(chunk, "```")%2 == 1
		if openFence {
			chunk += "\n```"
		}

		chunks = append(chunks, chunk)
		text = text[cut:]
		if openFence {
			text = "```\n" + text
		}
	}

	return chunks
}

func closeFenceIfOpen(chunk string, openFence *bool) string {
	fences := strings.Count(chunk, "```") // includes any reopened fence
	if fences%2 == 1 {
		chunk += "\n```"
	}
	*openFence = false
	return chunk
}

// lastBreakPoint finds the best split point at or before maxBytes: a
// newline if one exists past the halfway point, else the last whitespace,
// else maxBytes itself.
func lastBreakPoint(text string, maxBytes int) int {
	window := text
	if len(window) > maxBytes {
		window = window[:maxBytes]
	}
	if idx := strings.LastIndexByte(window, '\n'); idx > maxBytes/2 {
		return idx + 1
	}
	if idx := strings.LastIndexAny(window, " \t"); idx > maxBytes/2 {
		return idx + 1
	}
	return maxBytes
}

// backUpToCodepointBoundary walks cut back until it no longer lands in
// the middle of a multi-byte UTF-8 rune, then further back past any
// zero-width combining rune (CJK/emoji grapheme clusters on QQ/DingTalk/
// Feishu use these) so a cut never orphans a combining mark from its
// base character.
func backUpToCodepointBoundary(text string, cut int) int {
	if cut >= len(text) {
		return len(text)
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	for cut > 0 {
		r, _ := utf8.DecodeRuneInString(text[cut:])
		if runewidth.RuneWidth(r) != 0 {
			break
		}
		_, prevSize := utf8.DecodeLastRuneInString(text[:cut])
		if prevSize == 0 {
			break
		}
		cut -= prevSize
	}
	return cut
}
