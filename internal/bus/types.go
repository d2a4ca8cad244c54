// Package bus carries messages between channel adapters and the agent
// runtime: InboundMessage is the ingress contract of spec §4.2, queued
// through a MessageRouter so adapters never call the Agent Loop directly.
package bus

import "context"

// Attachment describes one piece of inbound media before it is downloaded
// to <working_dir>/uploads/<channel>/<chat_id>/... (spec §4.2).
type Attachment struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// InboundMessage is spec §4.2's ingress contract: everything a channel
// adapter knows about one incoming message, before chat-id resolution.
type InboundMessage struct {
	Channel            string            `json:"channel"`
	ExternalChatID     string            `json:"external_chat_id"`
	SenderDisplay      string            `json:"sender_display"`
	BodyText           string            `json:"body_text"`
	TransportMessageID string            `json:"transport_message_id,omitempty"`
	Attachments        []Attachment      `json:"attachments,omitempty"`
	IsDirectMessage    bool              `json:"is_direct_message"`
	IsBotMentioned     bool              `json:"is_bot_mentioned"`
	ChatTitle          string            `json:"chat_title,omitempty"`
	ChatType           string            `json:"chat_type,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is one reply to deliver through a channel adapter's
// send_text/send_attachment capability (spec §4.2).
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   int64             `json:"chat_id"`
	Text     string            `json:"text"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment is an outbound attachment reference.
type MediaAttachment struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Event is a server-side notification broadcast to observers (hooks,
// admin websocket, etc.) — spec §4.3.5's Iteration/TextDelta/ToolStart/
// ToolResult/FinalResponse stream is expressed as Events with those names.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Agent Loop streaming event names (spec §4.3.5).
const (
	EventIteration     = "iteration"
	EventTextDelta     = "text_delta"
	EventToolStart     = "tool_start"
	EventToolResult    = "tool_result"
	EventFinalResponse = "final_response"
)

// IterationPayload announces the start of one tool-use-loop iteration.
type IterationPayload struct {
	ChatID int64 `json:"chat_id"`
	Index  int   `json:"index"`
}

// TextDeltaPayload streams incremental assistant text.
type TextDeltaPayload struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// ToolStartPayload announces a tool invocation beginning.
type ToolStartPayload struct {
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
}

// ToolResultPayload reports the outcome of a tool invocation (spec §4.3.5
// event fields: name, is_error, preview<=160 chars, duration_ms, status_code?,
// bytes, error_type?).
type ToolResultPayload struct {
	ChatID     int64  `json:"chat_id"`
	Name       string `json:"name"`
	IsError    bool   `json:"is_error"`
	Preview    string `json:"preview"`
	DurationMs int64  `json:"duration_ms"`
	StatusCode int    `json:"status_code,omitempty"`
	Bytes      int    `json:"bytes"`
	ErrorType  string `json:"error_type,omitempty"`
}

// FinalResponsePayload carries the Agent Loop's final text for a turn.
type FinalResponsePayload struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// EventSink receives Agent Loop streaming events (spec §4.3's
// event_sink parameter). A nil sink means the caller doesn't want
// streaming (e.g. the scheduler firing an override_prompt).
type EventSink func(Event)

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription, decoupling the
// Agent Loop and channel adapters from one concrete bus implementation.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between
// channel adapters and the agent runtime via bounded SPSC-style channels
// (spec §9 "event streaming as unbounded SPSC channel drained before
// caller returns" — applied here to the inbound/outbound message queues
// as well, bounded to apply backpressure to slow transports).
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
