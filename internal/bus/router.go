package bus

import (
	"context"
	"sync"
)

// ChannelRouter is the default MessageRouter: one bounded Go channel per
// direction. Bounding it applies backpressure to a slow or wedged
// transport instead of growing memory without limit (spec §9's "unbounded
// SPSC channel" guidance describes the event stream; the inbound/outbound
// message queues use a bounded variant deliberately, since an adapter
// that can't keep up is a signal worth surfacing rather than hiding).
type ChannelRouter struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewChannelRouter builds a router with the given per-direction buffer size.
func NewChannelRouter(buffer int) *ChannelRouter {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelRouter{
		inbound:  make(chan InboundMessage, buffer),
		outbound: make(chan OutboundMessage, buffer),
	}
}

func (r *ChannelRouter) PublishInbound(msg InboundMessage) { r.inbound <- msg }

func (r *ChannelRouter) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-r.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (r *ChannelRouter) PublishOutbound(msg OutboundMessage) { r.outbound <- msg }

func (r *ChannelRouter) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-r.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Hub is the default EventPublisher: fan-out broadcast to subscribed
// handlers, guarded by a mutex since channel adapters (one goroutine
// each) subscribe/unsubscribe concurrently with the Agent Loop's
// broadcasts (spec §5 "Shared state ... guarded").
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// NewHub constructs an empty event hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[string]EventHandler)}
}

func (h *Hub) Subscribe(id string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[id] = handler
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, id)
}

func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, handler := range h.handlers {
		handler(event)
	}
}
