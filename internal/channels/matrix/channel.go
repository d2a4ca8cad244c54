// Package matrix implements the Matrix adapter of the Channel Adapter
// Registry (spec §4.2) over the client-server `/sync` long-poll API.
//
// No teacher Matrix source file was retrieved (vanducng-goclaw has no
// Matrix adapter); built from the Channel contract plus the wire
// semantics of original_source/src/channels/matrix.rs (the `/sync`
// request shape, `next_batch` bootstrap-without-dispatch on the first
// poll, `rooms.join.*.timeline.events` walk, and the 5-second
// reconnect backoff on sync error — spec §4.2's transport-reconnect
// invariant), re-expressed in the teacher's goroutine/cancel-context
// idiom (see telegram.Channel's poll loop).
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const syncReconnectBackoff = 5 * time.Second

// Channel connects to a Matrix homeserver via the client-server API,
// authenticated with a pre-issued access token (no interactive login
// flow — spec.md's Non-goals exclude end-to-end encryption, and
// encrypted-room support would need one).
type Channel struct {
	*channels.BaseChannel
	config         config.MatrixConfig
	httpClient     *http.Client
	requireMention bool
	botLocalpart   string

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Matrix channel from config.
func New(cfg config.MatrixConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.HomeserverURL == "" || cfg.AccessToken == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("matrix homeserver_url, access_token, and user_id are required")
	}

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("matrix", router, cfg.AllowFrom),
		config:         cfg,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		requireMention: requireMention,
		botLocalpart:   localpart(cfg.UserID),
	}, nil
}

// ChatTypeRoutes reports Matrix's two conversation kinds (spec §4.2).
// Matrix rooms are group-shaped by default; a private 1:1 room is still
// a "room" on the wire, so both tags route to the same adapter.
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{
		{ChatTypeTag: "matrix", Kind: channels.Group},
		{ChatTypeTag: "matrix_dm", Kind: channels.Private},
	}
}

// MaxMessageBytes is Matrix's conservative per-event cap (spec §6).
func (c *Channel) MaxMessageBytes() int { return channels.MaxBytesMatrix }

// SendText PUTs one already-split chunk as an m.room.message event with
// a fresh transaction id.
func (c *Channel) SendText(ctx context.Context, externalChatID, text string) error {
	txnID := uuid.NewString()
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		c.homeserverURL(), url.PathEscape(externalChatID), txnID)

	body, err := json.Marshal(map[string]string{"msgtype": "m.text", "body": text})
	if err != nil {
		return fmt.Errorf("marshal matrix message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("matrix send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("matrix send failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Start launches the background `/sync` long-poll loop.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	go c.syncLoop(pollCtx)

	c.SetRunning(true)
	slog.Info("matrix channel started", "homeserver", c.config.HomeserverURL, "bot_user_id", c.config.UserID)
	return nil
}

// Stop cancels the sync loop and waits for it to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping matrix channel")
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	select {
	case <-c.pollDone:
	case <-time.After(10 * time.Second):
		slog.Warn("matrix sync loop did not exit within timeout")
	}
	return nil
}

// syncLoop repeatedly calls /sync, discarding the first batch (a
// bootstrap establishing `next_batch` without dispatching history) and
// publishing new messages from every subsequent batch. A sync error
// backs off 5 seconds and retries indefinitely until the context is
// cancelled (spec §4.2's reconnect invariant).
func (c *Channel) syncLoop(ctx context.Context) {
	defer close(c.pollDone)

	var since string
	bootstrapped := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		nextBatch, messages, err := c.sync(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("matrix sync error, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(syncReconnectBackoff):
			}
			continue
		}

		since = nextBatch
		if !bootstrapped {
			bootstrapped = true
			continue
		}

		for _, msg := range messages {
			c.publishMessage(msg)
		}
	}
}

type incomingEvent struct {
	roomID  string
	sender  string
	eventID string
	body    string
}

// sync performs one GET /sync call. The first call (since == "") uses a
// zero timeout to fetch the current batch marker without blocking.
func (c *Channel) sync(ctx context.Context, since string) (string, []incomingEvent, error) {
	timeoutMs := 0
	if since != "" {
		timeoutMs = c.config.SyncTimeoutMs
		if timeoutMs == 0 {
			timeoutMs = 30000
		}
	}

	endpoint := fmt.Sprintf("%s/_matrix/client/v3/sync", c.homeserverURL())
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(timeoutMs))
	if since != "" {
		q.Set("since", since)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	client := *c.httpClient
	client.Timeout = time.Duration(timeoutMs)*time.Millisecond + 30*time.Second
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("matrix /sync request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("matrix /sync failed: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		NextBatch string `json:"next_batch"`
		Rooms     struct {
			Join map[string]struct {
				Timeline struct {
					Events []json.RawMessage `json:"events"`
				} `json:"timeline"`
			} `json:"join"`
		} `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", nil, fmt.Errorf("matrix /sync decode: %w", err)
	}
	if payload.NextBatch == "" {
		return "", nil, fmt.Errorf("matrix /sync response missing next_batch")
	}

	var incoming []incomingEvent
	for roomID, room := range payload.Rooms.Join {
		if !c.shouldProcessRoom(roomID) {
			continue
		}
		for _, raw := range room.Timeline.Events {
			var ev struct {
				Type    string `json:"type"`
				Sender  string `json:"sender"`
				EventID string `json:"event_id"`
				Content struct {
					Body string `json:"body"`
				} `json:"content"`
			}
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			if ev.Type != "m.room.message" || ev.Sender == "" || ev.Sender == c.config.UserID {
				continue
			}
			if strings.TrimSpace(ev.Content.Body) == "" {
				continue
			}
			incoming = append(incoming, incomingEvent{
				roomID:  roomID,
				sender:  ev.Sender,
				eventID: ev.EventID,
				body:    ev.Content.Body,
			})
		}
	}

	return payload.NextBatch, incoming, nil
}

func (c *Channel) shouldProcessRoom(roomID string) bool {
	if len(c.config.AllowedRoomIDs) == 0 {
		return true
	}
	for _, allowed := range c.config.AllowedRoomIDs {
		if allowed == roomID {
			return true
		}
	}
	return false
}

func (c *Channel) publishMessage(msg incomingEvent) {
	mentioned := c.detectMention(msg.body)
	c.Publish(bus.InboundMessage{
		ExternalChatID:     msg.roomID,
		SenderDisplay:      msg.sender,
		BodyText:           msg.body,
		TransportMessageID: msg.eventID,
		IsDirectMessage:    false,
		IsBotMentioned:     mentioned,
		ChatType:           "matrix",
		Metadata:           map[string]string{"sender_id": msg.sender},
	})
}

func (c *Channel) detectMention(body string) bool {
	if !c.requireMention {
		return true
	}
	lower := strings.ToLower(body)
	if c.config.UserID != "" && strings.Contains(lower, strings.ToLower(c.config.UserID)) {
		return true
	}
	return c.botLocalpart != "" && strings.Contains(lower, strings.ToLower(c.botLocalpart))
}

func (c *Channel) homeserverURL() string {
	return strings.TrimRight(c.config.HomeserverURL, "/")
}

// localpart extracts the local part of a Matrix user id ("@alice:example.org" -> "alice").
func localpart(userID string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(userID), "@")
	if idx := strings.Index(trimmed, ":"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}
