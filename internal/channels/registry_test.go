package channels

import (
	"context"
	"testing"
)

type fakeChannel struct {
	*BaseChannel
	routes []ChatTypeRoute
}

func (f *fakeChannel) ChatTypeRoutes() []ChatTypeRoute         { return f.routes }
func (f *fakeChannel) SendText(context.Context, string, string) error { return nil }
func (f *fakeChannel) MaxMessageBytes() int                    { return 2000 }
func (f *fakeChannel) Start(context.Context) error             { return nil }
func (f *fakeChannel) Stop(context.Context) error               { return nil }

func newFakeChannel(name string, routes []ChatTypeRoute) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, nil, nil), routes: routes}
}

func TestRegistry_ResolveExactMatch(t *testing.T) {
	r := NewRegistry()
	tg := newFakeChannel("telegram", []ChatTypeRoute{{ChatTypeTag: "telegram:group", Kind: Group}})
	r.Register(tg)

	got, err := r.Resolve("telegram:group")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Name() != "telegram" {
		t.Errorf("Resolve() = %s, want telegram", got.Name())
	}
}

func TestRegistry_ResolvePrefixFallback(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeChannel("matrix", []ChatTypeRoute{{ChatTypeTag: "matrix:room", Kind: Group}}))

	got, err := r.Resolve("matrix:custom-space")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Name() != "matrix" {
		t.Errorf("Resolve() = %s, want matrix", got.Name())
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("nope:thing"); err == nil {
		t.Error("Resolve() expected error for unknown chat_type")
	}
}

func TestRegistry_ByName(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeChannel("discord", nil))
	if _, ok := r.ByName("discord"); !ok {
		t.Error("ByName() expected discord to be registered")
	}
	if _, ok := r.ByName("slack"); ok {
		t.Error("ByName() expected slack to be absent")
	}
}
