package hub

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/prosemark/server/internal/document"
	"github.com/prosemark/server/internal/ot"
	"github.com/prosemark/server/internal/proto"
	"github.com/prosemark/server/internal/storage"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	v := storage.NewVault(t.TempDir(), 8*1024*1024, 10_000)
	h := New(v, nil, zap.NewNop(), 1024, 4, time.Hour, time.Hour)
	t.Cleanup(h.Stop)
	return h
}

func TestHandleJoinPublicDocAttachesSession(t *testing.T) {
	h := testHub(t)
	s := NewSession("doc", 256)

	snap, presenceSnap, err := h.HandleJoin(s, "client-1", "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Type != proto.FrameSnapshot || snap.Auth != "ok" {
		t.Fatalf("unexpected snapshot frame: %+v", snap)
	}
	if presenceSnap.Type != proto.FramePresenceSnapshot {
		t.Fatalf("unexpected presence snapshot frame: %+v", presenceSnap)
	}
	if !s.Authenticated {
		t.Fatal("expected session to be marked authenticated after join")
	}
}

func TestHandleJoinNeedsPasswordDoesNotAttach(t *testing.T) {
	h := testHub(t)
	h.DocFor("secret")
	if err := h.DocFor("secret").SetPassword("", "hunter2"); err != nil {
		t.Fatal(err)
	}

	s := NewSession("secret", 256)
	snap, _, err := h.HandleJoin(s, "client-1", "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Auth != "needs_password" {
		t.Fatalf("auth = %q, want needs_password", snap.Auth)
	}
	if s.Authenticated {
		t.Fatal("session should not be authenticated without the password")
	}
}

func TestHandleEditBroadcastsAppliedToAllSessions(t *testing.T) {
	h := testHub(t)
	author := NewSession("doc", 256)
	watcher := NewSession("doc", 256)

	if _, _, err := h.HandleJoin(author, "author", "", nil, nil, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.HandleJoin(watcher, "watcher", "", nil, nil, 0); err != nil {
		t.Fatal(err)
	}
	// drain join-time frames so only the edit's broadcast remains
	drain(watcher)

	_, err := h.HandleEdit(author, document.EditRequest{
		BaseRev:  0,
		Ops:      []ot.Op{ot.Insert(0, "hi")},
		AuthorID: "11111111-1111-1111-1111-111111111111",
		OpID:     "op-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-watcher.Outbound():
		if frame.Type != proto.FrameApplied || frame.Content != "" || frame.Rev != 1 {
			t.Fatalf("unexpected applied frame: %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("expected watcher to receive an applied frame")
	}
}

func TestHandleEditDedupStillBroadcastsApplied(t *testing.T) {
	h := testHub(t)
	author := NewSession("doc", 256)
	watcher := NewSession("doc", 256)

	if _, _, err := h.HandleJoin(author, "author", "", nil, nil, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.HandleJoin(watcher, "watcher", "", nil, nil, 0); err != nil {
		t.Fatal(err)
	}
	drain(watcher)

	req := document.EditRequest{
		BaseRev:  0,
		Ops:      []ot.Op{ot.Insert(0, "hi")},
		AuthorID: "11111111-1111-1111-1111-111111111111",
		OpID:     "op-1",
	}
	if _, err := h.HandleEdit(author, req); err != nil {
		t.Fatal(err)
	}
	drain(watcher) // discard the first applied frame

	// a second edit from a different author advances the document's
	// current revision before the original author's resend arrives
	if _, err := h.HandleEdit(watcher, document.EditRequest{
		BaseRev:  1,
		Ops:      []ot.Op{ot.Insert(0, "yo")},
		AuthorID: "22222222-2222-2222-2222-222222222222",
		OpID:     "op-2",
	}); err != nil {
		t.Fatal(err)
	}
	drain(watcher)

	// the author resubmits the same op_id after its ack was lost
	result, err := h.HandleEdit(author, req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Duplicate {
		t.Fatal("expected the resend to be reported duplicate")
	}
	if result.Rev != 1 {
		t.Fatalf("expected the dedup hit to report the rev from its first application (1), got %d", result.Rev)
	}

	select {
	case frame := <-watcher.Outbound():
		if frame.Type != proto.FrameApplied || frame.Rev != 1 {
			t.Fatalf("expected an applied frame for rev 1 on the dedup hit, got %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the dedup resend to still broadcast an applied frame")
	}
}

func TestHandleEditRejectsUnauthenticatedSession(t *testing.T) {
	h := testHub(t)
	s := NewSession("doc", 256)
	_, err := h.HandleEdit(s, document.EditRequest{AuthorID: "11111111-1111-1111-1111-111111111111", OpID: "op-1"})
	if err == nil {
		t.Fatal("expected edit from an un-joined session to be rejected")
	}
}

func TestSessionEnqueueClosesOnOverflow(t *testing.T) {
	s := NewSession("doc", 1)
	if !s.Enqueue(proto.ServerFrame{Type: proto.FramePong}) {
		t.Fatal("expected first enqueue to succeed")
	}
	if s.Enqueue(proto.ServerFrame{Type: proto.FramePong}) {
		t.Fatal("expected second enqueue to overflow the queue of size 1")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("expected session to be closed after overflow")
	}
}

func TestHandleJoinAssignsFreshClientIDOnCollision(t *testing.T) {
	h := testHub(t)
	first := NewSession("doc", 256)
	second := NewSession("doc", 256)

	if _, _, err := h.HandleJoin(first, "alice", "", nil, nil, 0); err != nil {
		t.Fatal(err)
	}
	if first.ClientID != "alice" {
		t.Fatalf("expected the first session to keep its proposed id, got %q", first.ClientID)
	}

	if _, _, err := h.HandleJoin(second, "alice", "", nil, nil, 0); err != nil {
		t.Fatal(err)
	}
	if second.ClientID == "alice" {
		t.Fatal("expected a colliding client_id to be reassigned")
	}
}

func drain(s *Session) {
	for {
		select {
		case <-s.Outbound():
		default:
			return
		}
	}
}
