package channels

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/goclaw/internal/apperr"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// CommandDispatcher is implemented by internal/commands; kept as a small
// interface here to avoid an import cycle (channels -> commands -> agent
// would otherwise cycle back through channels).
type CommandDispatcher interface {
	Dispatch(ctx context.Context, chatID int64, body string) (handled bool, reply string)
}

// AgentRunner is implemented by internal/agent.Loop; same import-cycle
// reasoning as CommandDispatcher.
type AgentRunner interface {
	Process(ctx context.Context, chatID int64, callerChannel, chatType string, sink bus.EventSink) (string, bool, error)
}

// Pipeline is spec §4.2's 8-step ingress pipeline: resolve chat, dedup,
// persist, dispatch commands, decide whether to respond, run the agent
// loop, suppress the final text if a send_message tool already delivered
// it, and fall back to a canned retry message on an empty response.
type Pipeline struct {
	Store    *store.Store
	Commands CommandDispatcher
	Agent    AgentRunner
	WorkDir  string
}

var sanitizeFileName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Ingest runs one InboundMessage through the pipeline and, when a reply
// was produced, returns the text to send back through the adapter.
func (p *Pipeline) Ingest(ctx context.Context, msg bus.InboundMessage, isGroup bool) (reply string, shouldSend bool, err error) {
	chatID, err := p.Store.ResolveOrCreateChatID(ctx, msg.Channel, msg.ExternalChatID, msg.ChatTitle, msg.ChatType)
	if err != nil {
		return "", false, err
	}

	msgID := msg.TransportMessageID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	exists, err := p.Store.MessageExists(ctx, msgID, chatID)
	if err != nil {
		return "", false, err
	}
	if exists {
		slog.Debug("ingress: duplicate message ignored", "channel", msg.Channel, "chat_id", chatID, "message_id", msgID)
		return "", false, nil
	}

	if err := p.Store.StoreMessage(ctx, store.Message{
		ID: msgID, ChatID: chatID, SenderName: msg.SenderDisplay,
		Content: msg.BodyText, IsFromBot: false, Timestamp: time.Now().UTC(),
	}); err != nil {
		return "", false, err
	}

	for i := range msg.Attachments {
		if _, derr := p.downloadAttachment(msg.Channel, chatID, msg.Attachments[i]); derr != nil {
			slog.Warn("ingress: attachment download failed", "error", derr)
		}
	}

	if body := strings.TrimSpace(msg.BodyText); strings.HasPrefix(body, "/") {
		if handled, cmdReply := p.Commands.Dispatch(ctx, chatID, body); handled {
			return cmdReply, cmdReply != "", nil
		}
	}

	if !p.shouldRespond(msg, isGroup) {
		return "", false, nil
	}

	var suppressedBySendTool bool
	text, used, runErr := p.Agent.Process(ctx, chatID, msg.Channel, msg.ChatType, nil)
	suppressedBySendTool = used
	if runErr != nil {
		return "", false, runErr
	}
	if suppressedBySendTool {
		return "", false, nil
	}
	if strings.TrimSpace(text) == "" {
		return "Sorry, I couldn't produce a response just now. Please try again.", true, nil
	}
	return text, true, nil
}

// shouldRespond implements spec §4.2's should_respond decision: always
// respond to a direct message; in a group, only respond when mentioned.
func (p *Pipeline) shouldRespond(msg bus.InboundMessage, isGroup bool) bool {
	if !isGroup {
		return true
	}
	return msg.IsBotMentioned
}

// downloadAttachment prepares the upload location for an inbound
// attachment: it creates <working_dir>/uploads/<channel>/<chat_id>/ and
// returns the path <timestamp>-<sanitized_name> inside it, sanitizing the
// filename to [A-Za-z0-9._-]. The attachment bytes are not fetched and
// nothing is written to that path.
func (p *Pipeline) downloadAttachment(channel string, chatID int64, att bus.Attachment) (string, error) {
	name := att.FileName
	if name == "" {
		name = filepath.Base(att.URL)
	}
	sanitized := sanitizeFileName.ReplaceAllString(name, "_")
	if sanitized == "" {
		sanitized = "attachment"
	}

	dir := filepath.Join(p.WorkDir, "uploads", channel, strconv.FormatInt(chatID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.New(apperr.IO, "create upload dir", err)
	}

	path := filepath.Join(dir, strconv.FormatInt(time.Now().UTC().Unix(), 10)+"-"+sanitized)
	return path, nil
}
