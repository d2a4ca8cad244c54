package channels

import (
	"strings"
	"testing"
)

func TestSplitText_NoSplitNeeded(t *testing.T) {
	got := SplitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("SplitText() = %v, want [hello]", got)
	}
}

func TestSplitText_Empty(t *testing.T) {
	if got := SplitText("", 100); got != nil {
		t.Errorf("SplitText(\"\") = %v, want nil", got)
	}
}

func TestSplitText_RespectsByteCap(t *testing.T) {
	text := strings.Repeat("word ", 2000)
	chunks := SplitText(text, 100)
	for i, c := range chunks {
		if len(c) > 100+8 { // small slack for a reopened fence, not used here
			t.Errorf("chunk %d exceeds cap: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") == "" {
		t.Fatal("expected non-empty chunks")
	}
}

func TestSplitText_NoPartialCodepoint(t *testing.T) {
	text := strings.Repeat("héllo wörld 世界 ", 200)
	chunks := SplitText(text, 50)
	for i, c := range chunks {
		for _, r := range c {
			if r == '�' {
				t.Errorf("chunk %d contains a replacement rune, codepoint split", i)
			}
		}
	}
}

func TestSplitText_BalancesMarkdownFence(t *testing.T) {
	text := "intro\n```go\n" + strings.Repeat("line of code\n", 50) + "```\noutro"
	chunks := SplitText(text, 80)
	for i, c := range chunks {
		if strings.Count(c, "```")%2 != 0 {
			t.Errorf("chunk %d has an unbalanced fence:\n%s", i, c)
		}
	}
}

func TestSplitText_PrefersNewlineBreak(t *testing.T) {
	text := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 40)
	chunks := SplitText(text, 45)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if strings.Contains(chunks[0], "b") {
		t.Errorf("expected first chunk to break at newline, got %q", chunks[0])
	}
}
