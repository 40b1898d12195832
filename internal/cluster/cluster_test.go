package cluster

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/prosemark/server/internal/proto"
)

func TestDialWithEmptyAddrIsNoop(t *testing.T) {
	r, err := Dial(context.Background(), "", "origin-1", nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatal("expected a nil relay when addr is empty")
	}
}

func TestEnvelopeRoundTrips(t *testing.T) {
	env := envelope{
		Origin: "origin-1",
		Slug:   "my-doc",
		Frame:  proto.ServerFrame{Type: proto.FrameApplied, Rev: 3},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var got envelope
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Slug != env.Slug || got.Frame.Rev != env.Frame.Rev || got.Frame.Type != env.Frame.Type {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

type fakeReceiver struct {
	slug  string
	frame proto.ServerFrame
	calls int
}

func (f *fakeReceiver) DeliverRemote(slug string, frame proto.ServerFrame) {
	f.slug = slug
	f.frame = frame
	f.calls++
}

func TestRelayIgnoresSelfOriginatedEnvelopes(t *testing.T) {
	recv := &fakeReceiver{}
	r := &Relay{origin: "origin-1", log: zap.NewNop()}

	self := envelope{Origin: "origin-1", Slug: "doc", Frame: proto.ServerFrame{Type: proto.FramePong}}
	other := envelope{Origin: "origin-2", Slug: "doc", Frame: proto.ServerFrame{Type: proto.FramePong}}

	deliverIfNotSelf := func(env envelope) {
		if env.Origin == r.origin {
			return
		}
		recv.DeliverRemote(env.Slug, env.Frame)
	}
	deliverIfNotSelf(self)
	deliverIfNotSelf(other)

	if recv.calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", recv.calls)
	}
}
