package channels

import (
	"context"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// Registry maps chat_type -> adapter, and channel name -> adapter, per
// spec §4.2: "exact match first, then channel-name prefix match."
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Channel
	byChatType map[string]Channel
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]Channel),
		byChatType: make(map[string]Channel),
	}
}

// Register adds an adapter under its own name and every chat_type tag it
// declares via ChatTypeRoutes().
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[ch.Name()] = ch
	for _, route := range ch.ChatTypeRoutes() {
		r.byChatType[route.ChatTypeTag] = ch
	}
}

// ByName looks up an adapter by its exact channel name.
func (r *Registry) ByName(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byName[name]
	return ch, ok
}

// Resolve finds the adapter for a chat_type tag: exact match first, then
// a registered channel whose name is a prefix of the tag (spec §4.2; if
// several names match, map iteration order picks one). Returns a
// Config-kind error if nothing matches.
func (r *Registry) Resolve(chatType string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ch, ok := r.byChatType[chatType]; ok {
		return ch, nil
	}
	for name, ch := range r.byName {
		if strings.HasPrefix(chatType, name) {
			return ch, nil
		}
	}
	return nil, apperr.New(apperr.Config, "no channel adapter registered for chat_type "+chatType, nil)
}

// All returns every registered adapter, for startup/shutdown fan-out.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.byName))
	for _, ch := range r.byName {
		out = append(out, ch)
	}
	return out
}

// StartAll starts every registered adapter, collecting the first error.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, ch := range r.All() {
		if err := ch.Start(ctx); err != nil {
			return apperr.Newf(apperr.Network, err, "start channel %s", ch.Name())
		}
	}
	return nil
}

// StopAll stops every registered adapter, continuing past individual
// errors (spec §7: background shutdown never aborts on one failure).
func (r *Registry) StopAll(ctx context.Context) []error {
	var errs []error
	for _, ch := range r.All() {
		if err := ch.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
