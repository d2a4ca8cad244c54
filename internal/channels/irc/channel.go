// Package irc implements a TLS-capable IRC line-protocol channel
// adapter: raw TCP(+TLS) connect, NICK/USER registration, PING/PONG,
// channel join on RPL_WELCOME (001), PRIVMSG parsing and dispatch.
//
// Grounded on original_source/src/channels/irc.rs — parse_irc_line,
// nick_from_prefix, is_irc_channel_target, is_irc_mention and the
// connect/register/read-loop sequence map directly onto this file's
// functions and Start/syncLoop-style goroutine.
package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const reconnectDelay = 5 * time.Second

// Channel is the IRC channel adapter (spec §1 scopes out its
// transport-specific wire handling as a non-goal for the core, but the
// registry still needs a working adapter implementing it).
type Channel struct {
	*channels.BaseChannel
	config config.IRCConfig

	connMu sync.Mutex
	conn   net.Conn
	writer *bufio.Writer

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the IRC channel adapter.
func New(cfg config.IRCConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.Server == "" || cfg.Nick == "" {
		return nil, fmt.Errorf("irc channel requires server and nick")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("irc", router, cfg.AllowFrom),
		config:      cfg,
	}, nil
}

// ChatTypeRoutes maps IRC channel targets to Group and private queries
// to Private, matching the original's "irc_group"/"irc_dm" split.
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{
		{ChatTypeTag: "irc_group", Kind: channels.Group},
		{ChatTypeTag: "irc_dm", Kind: channels.Private},
	}
}

// MaxMessageBytes returns a conservative cap under the ~512-byte IRC
// line limit, leaving room for the "PRIVMSG <target> :" prefix and
// trailing CRLF.
func (c *Channel) MaxMessageBytes() int { return 420 }

// SendText sends a chunked PRIVMSG to externalChatID (a channel name
// or nick), sanitizing CR/LF/NUL exactly as the original does.
func (c *Channel) SendText(_ context.Context, externalChatID, text string) error {
	sanitized := sanitizeText(text)
	for _, chunk := range channels.SplitText(sanitized, c.MaxMessageBytes()) {
		if err := c.sendRaw(fmt.Sprintf("PRIVMSG %s :%s", externalChatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendRaw(line string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.writer == nil {
		return fmt.Errorf("irc adapter is not connected")
	}
	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		return fmt.Errorf("irc write: %w", err)
	}
	return c.writer.Flush()
}

// Start launches the reconnect loop in the background.
func (c *Channel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.SetRunning(true)

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := c.runConnection(ctx); err != nil {
				slog.Warn("irc connection ended", "error", err)
			}
			c.connMu.Lock()
			c.conn = nil
			c.writer = nil
			c.connMu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()
	return nil
}

// Stop cancels the connection loop and closes the socket.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	if c.done == nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("irc channel stop timed out")
	}
}

func (c *Channel) runConnection(ctx context.Context) error {
	port := c.config.Port
	if port == 0 {
		port = 6667
	}
	addr := fmt.Sprintf("%s:%d", c.config.Server, port)

	dialer := &net.Dialer{Timeout: 15 * time.Second}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("irc connect failed for %s: %w", addr, err)
	}

	var conn net.Conn = rawConn
	if c.config.TLS {
		tlsConn := tls.Client(rawConn, &tls.Config{ServerName: c.config.Server})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return fmt.Errorf("irc tls handshake failed: %w", err)
		}
		conn = tlsConn
	}

	c.connMu.Lock()
	c.conn = conn
	c.writer = bufio.NewWriter(conn)
	c.connMu.Unlock()
	defer conn.Close()

	c.sendRaw(fmt.Sprintf("NICK %s", c.config.Nick))
	c.sendRaw(fmt.Sprintf("USER %s 0 * :%s", c.config.Nick, c.config.Nick))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 65536)

	joined := false
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		if payload, ok := strings.CutPrefix(line, "PING "); ok {
			c.sendRaw("PONG " + payload)
			continue
		}

		msg, ok := parseLine(line)
		if !ok {
			continue
		}

		if msg.command == "001" && !joined {
			joined = true
			for _, ch := range c.config.Channels {
				c.sendRaw("JOIN " + ch)
			}
			continue
		}
		if msg.command == "433" {
			return fmt.Errorf("irc nick already in use")
		}
		if msg.command != "PRIVMSG" || msg.prefix == "" {
			continue
		}

		senderNick := nickFromPrefix(msg.prefix)
		if senderNick == "" || strings.EqualFold(senderNick, c.config.Nick) {
			continue
		}
		if len(msg.params) == 0 {
			continue
		}
		target := msg.params[0]
		text := strings.TrimSpace(msg.trailing)
		if text == "" {
			continue
		}

		c.dispatch(senderNick, target, text)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("irc read failed: %w", err)
	}
	return fmt.Errorf("irc read stream ended")
}

func (c *Channel) dispatch(senderNick, target, text string) {
	isGroup := isChannelTarget(target)
	responseTarget := senderNick
	chatType := "irc_dm"
	if isGroup {
		responseTarget = target
		chatType = "irc_group"
	}

	requireMention := true
	if c.config.RequireMention != nil {
		requireMention = *c.config.RequireMention
	}
	mentioned := !isGroup || isMention(text, c.config.Nick)
	if isGroup && requireMention && !mentioned {
		return
	}

	c.Publish(bus.InboundMessage{
		ExternalChatID:  responseTarget,
		SenderDisplay:   senderNick,
		BodyText:        text,
		IsDirectMessage: !isGroup,
		IsBotMentioned:  mentioned,
		ChatType:        chatType,
	})
}

func sanitizeText(text string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', 0:
			return ' '
		}
		return r
	}, text)
}

func isChannelTarget(target string) bool {
	if target == "" {
		return false
	}
	switch target[0] {
	case '#', '&', '+', '!':
		return true
	}
	return false
}

func isMention(text, nick string) bool {
	n := strings.ToLower(strings.TrimSpace(nick))
	if n == "" {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(t, n+":") ||
		strings.HasPrefix(t, n+",") ||
		t == n ||
		strings.Contains(t, "@"+n) ||
		strings.Contains(t, n)
}

type parsedMessage struct {
	prefix   string
	command  string
	params   []string
	trailing string
}

func parseLine(line string) (parsedMessage, bool) {
	rest := strings.TrimSpace(line)
	if rest == "" {
		return parsedMessage{}, false
	}

	var prefix string
	if strings.HasPrefix(rest, ":") {
		body := rest[1:]
		space := strings.IndexByte(body, ' ')
		if space < 0 {
			return parsedMessage{}, false
		}
		prefix = body[:space]
		rest = strings.TrimLeft(body[space+1:], " ")
	}

	var head, trailing string
	hasTrailing := false
	if idx := strings.Index(rest, " :"); idx >= 0 {
		head = rest[:idx]
		trailing = rest[idx+2:]
		hasTrailing = true
	} else {
		head = rest
	}

	fields := strings.Fields(head)
	if len(fields) == 0 {
		return parsedMessage{}, false
	}
	command := fields[0]
	params := fields[1:]
	if !hasTrailing && len(params) == 0 {
		trailing = ""
	}

	return parsedMessage{prefix: prefix, command: command, params: params, trailing: trailing}, true
}

func nickFromPrefix(prefix string) string {
	if idx := strings.IndexByte(prefix, '!'); idx >= 0 {
		return strings.TrimSpace(prefix[:idx])
	}
	return strings.TrimSpace(prefix)
}
