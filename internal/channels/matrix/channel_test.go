package matrix

import "testing"

func TestLocalpart(t *testing.T) {
	cases := []struct {
		userID string
		want   string
	}{
		{"@alice:example.org", "alice"},
		{"@bot.service:matrix.org", "bot.service"},
		{"noat:example.org", "noat"},
		{"@noserver", "noserver"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := localpart(tc.userID); got != tc.want {
			t.Errorf("localpart(%q) = %q, want %q", tc.userID, got, tc.want)
		}
	}
}

func TestChannel_ShouldProcessRoom(t *testing.T) {
	c := &Channel{}
	if !c.shouldProcessRoom("!anything:example.org") {
		t.Error("empty allowlist should process every room")
	}

	c.config.AllowedRoomIDs = []string{"!abc:example.org"}
	if !c.shouldProcessRoom("!abc:example.org") {
		t.Error("allowed room should be processed")
	}
	if c.shouldProcessRoom("!other:example.org") {
		t.Error("room outside the allowlist should not be processed")
	}
}

func TestChannel_DetectMention(t *testing.T) {
	c := &Channel{requireMention: true, botLocalpart: "claw"}
	c.config.UserID = "@claw:example.org"

	if !c.detectMention("hey @claw:example.org can you help") {
		t.Error("expected full user id mention to be detected")
	}
	if !c.detectMention("hey CLAW what's up") {
		t.Error("expected case-insensitive localpart mention to be detected")
	}
	if c.detectMention("just chatting, no mention here") {
		t.Error("expected no mention to be detected")
	}

	c.requireMention = false
	if !c.detectMention("anything goes") {
		t.Error("requireMention=false should always respond")
	}
}
