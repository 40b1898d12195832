// Package hub is the session router (§4.5): it owns the slug ->
// document mapping and every live session's outbound queue, and
// dispatches inbound frames (join/edit/cursor/ime/profile/ping) to
// the right document actor.
//
// Generalized from the teacher's agent/main.go Hub (a single
// process-wide `clients map[*Client]bool` with register/unregister/
// broadcast channels around one hardcoded document) into a
// mutex-guarded `slug -> sessions` map fanning out to per-slug
// `document.Doc` actors, since this spec needs many concurrent
// documents rather than one.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prosemark/server/internal/apperr"
	"github.com/prosemark/server/internal/document"
	"github.com/prosemark/server/internal/presence"
	"github.com/prosemark/server/internal/proto"
	"github.com/prosemark/server/internal/storage"
)

// Broadcaster is implemented by internal/cluster to fan an outbound
// frame out to sessions connected to other server processes serving
// the same slug (§4.8). The default no-op keeps the hub correct with
// a single process and no REDIS_ADDR configured.
type Broadcaster interface {
	Publish(slug string, frame proto.ServerFrame)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Publish(string, proto.ServerFrame) {}

type Hub struct {
	vault     *storage.Vault
	catalog   *storage.Catalog
	log       *zap.Logger
	window    uint64
	queueSize int
	remote    Broadcaster

	mu       sync.Mutex // guards sessions/docs below, grounded on the teacher's docMutex
	sessions map[string]map[*Session]struct{}
	docs     map[string]*document.Doc

	sweeper *presence.Sweeper
}

// New builds a hub. presenceSweep/idleAfter drive the idle-eviction
// ticker (§4.6, default 15s/60s).
func New(vault *storage.Vault, catalog *storage.Catalog, log *zap.Logger, window uint64, queueSize int, presenceSweep, idleAfter time.Duration) *Hub {
	h := &Hub{
		vault:     vault,
		catalog:   catalog,
		log:       log,
		window:    window,
		queueSize: queueSize,
		remote:    noopBroadcaster{},
		sessions:  make(map[string]map[*Session]struct{}),
		docs:      make(map[string]*document.Doc),
	}
	h.sweeper = presence.NewSweeper(presenceSweep, idleAfter, h.registriesSnapshot, h.onIdleEvicted)
	go h.sweeper.Run()
	return h
}

// SetBroadcaster wires a cross-instance fan-out (§4.8). Optional —
// leaving it unset keeps the hub single-process.
func (h *Hub) SetBroadcaster(b Broadcaster) {
	if b != nil {
		h.remote = b
	}
}

func (h *Hub) Stop() {
	h.sweeper.Stop()
}

func (h *Hub) registriesSnapshot() map[string]*presence.Registry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]*presence.Registry, len(h.docs))
	for slug, d := range h.docs {
		out[slug] = d.Presence
	}
	return out
}

func (h *Hub) onIdleEvicted(slug string, evicted []string) {
	h.broadcastLocal(slug, proto.ServerFrame{Type: proto.FramePresenceDiff, Slug: slug, Removed: evicted})
}

// DocFor returns (creating if necessary) the document actor for slug.
func (h *Hub) DocFor(slug string) *document.Doc {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.docs[slug]; ok {
		return d
	}
	d := document.New(slug, h.vault, h.catalog, h.window, h.log)
	h.docs[slug] = d
	return d
}

// resolveClientID implements the §9 client_id decision.
func (h *Hub) resolveClientID(slug, proposed string) string {
	if proposed == "" {
		return uuid.NewString()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sess := range h.sessions[slug] {
		if sess.ClientID == proposed {
			return uuid.NewString()
		}
	}
	return proposed
}

func (h *Hub) peekDoc(slug string) (*document.Doc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.docs[slug]
	return d, ok
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.Slug]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[s.Slug] = set
	}
	set[s] = struct{}{}
}

// Unregister removes a session (transport closed) and drops its
// presence entry from the document, broadcasting the removal.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if set, ok := h.sessions[s.Slug]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.Slug)
		}
	}
	h.mu.Unlock()
	s.Close()

	if s.ClientID == "" {
		return
	}
	if d, ok := h.peekDoc(s.Slug); ok {
		if _, removed := d.Unsubscribe(s.ClientID); removed {
			h.broadcastLocal(s.Slug, proto.ServerFrame{
				Type:    proto.FramePresenceDiff,
				Slug:    s.Slug,
				Removed: []string{s.ClientID},
			})
		}
	}
}

// broadcastLocal fans a frame out to every session on this process
// subscribed to slug. Never touches the document's actor mailbox —
// a slow session only ever blocks its own Enqueue, never the sender.
func (h *Hub) broadcastLocal(slug string, frame proto.ServerFrame) {
	h.mu.Lock()
	set := h.sessions[slug]
	targets := make([]*Session, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.Enqueue(frame)
	}
}

// Broadcast fans a frame out locally and to any other server process
// sharing this slug's vault (§4.8).
func (h *Hub) Broadcast(slug string, frame proto.ServerFrame) {
	h.broadcastLocal(slug, frame)
	h.remote.Publish(slug, frame)
}

// DeliverRemote fans a frame received from internal/cluster out to
// this process's local sessions only — it must never call
// h.remote.Publish, or a frame would echo between instances forever.
func (h *Hub) DeliverRemote(slug string, frame proto.ServerFrame) {
	h.broadcastLocal(slug, frame)
}

// HandleJoin implements §4.5 step 2: authenticate, and on success
// attach the session and return the frames to send it (snapshot +
// presence_snapshot). A needs_password result attaches no presence
// and the caller must not treat the session as joined.
//
// client_id resolution (§9): a client's proposed id is honored unless
// another live session on this slug already holds it, in which case
// the server assigns a fresh uuid instead — an empty proposal always
// gets a fresh uuid.
func (h *Hub) HandleJoin(s *Session, clientID, password string, label, color *string, nowMs int64) (proto.ServerFrame, proto.ServerFrame, error) {
	clientID = h.resolveClientID(s.Slug, clientID)
	d := h.DocFor(s.Slug)
	result, err := d.Subscribe(clientID, password, label, color, nowMs)
	if err != nil {
		return proto.ServerFrame{}, proto.ServerFrame{}, err
	}

	snapshot := proto.ServerFrame{
		Type:     proto.FrameSnapshot,
		Slug:     s.Slug,
		Rev:      result.Rev,
		Content:  result.Text,
		ClientID: clientID,
		Auth:     result.Auth,
	}
	if result.Auth != "ok" {
		return snapshot, proto.ServerFrame{}, nil
	}

	s.ClientID = clientID
	s.Authenticated = true
	h.register(s)

	presenceSnapshot := proto.ServerFrame{
		Type:     proto.FramePresenceSnapshot,
		Slug:     s.Slug,
		Presence: presence.ToWire(result.Presence),
	}
	h.broadcastLocal(s.Slug, proto.ServerFrame{
		Type:    proto.FramePresenceDiff,
		Slug:    s.Slug,
		Added:   presence.ToWire([]presence.Entry{result.Self}),
		Updated: []proto.PresenceEntry{},
		Removed: []string{},
	})
	return snapshot, presenceSnapshot, nil
}

// HandleEdit implements §4.5 step 3: apply the edit, then broadcast
// `applied` to everyone on the slug, author included (§4.3 step 9). A
// dedup hit (the author's ack was lost and it resubmits the same
// op_id, §5) still broadcasts — with the rev/ops that op_id's first
// application actually produced, from document.ApplyResult — so the
// resending client gets its ack instead of waiting forever.
func (h *Hub) HandleEdit(s *Session, req document.EditRequest) (document.ApplyResult, error) {
	if !s.Authenticated {
		return document.ApplyResult{}, apperr.New(apperr.Unauthorised, "join before editing")
	}
	req.Authenticated = true
	d := h.DocFor(s.Slug)
	result, err := d.ApplyEdit(req)
	if err != nil {
		return document.ApplyResult{}, err
	}
	h.Broadcast(s.Slug, proto.ServerFrame{
		Type:     proto.FrameApplied,
		Slug:     s.Slug,
		Rev:      result.Rev,
		Ops:      proto.OpsFromEngine(result.TransformedOps),
		ClientID: s.ClientID,
		OpID:     result.OpID,
		Ts:       req.Ts,
	})
	return result, nil
}

// HandleCursor implements §4.5 step 4 for cursor updates.
func (h *Hub) HandleCursor(s *Session, cursor proto.CursorState, nowMs int64) {
	d := h.DocFor(s.Slug)
	entry, ok := d.UpdateCursor(s.ClientID, cursor, nowMs)
	if !ok {
		return
	}
	h.Broadcast(s.Slug, proto.ServerFrame{
		Type:    proto.FramePresenceDiff,
		Slug:    s.Slug,
		Updated: presence.ToWire([]presence.Entry{entry}),
		Added:   []proto.PresenceEntry{},
		Removed: []string{},
	})
}

// HandleIme implements §4.5 step 4 for IME composition updates.
func (h *Hub) HandleIme(s *Session, ev proto.ImeEvent, nowMs int64) {
	d := h.DocFor(s.Slug)
	entry, ok := d.UpdateIme(s.ClientID, ev, nowMs)
	if !ok {
		return
	}
	h.Broadcast(s.Slug, proto.ServerFrame{
		Type:    proto.FramePresenceDiff,
		Slug:    s.Slug,
		Updated: presence.ToWire([]presence.Entry{entry}),
		Added:   []proto.PresenceEntry{},
		Removed: []string{},
	})
}

// HandleProfile implements §4.5 step 4 for label/color updates.
func (h *Hub) HandleProfile(s *Session, label, color *string, nowMs int64) {
	d := h.DocFor(s.Slug)
	entry, ok := d.UpdateProfile(s.ClientID, label, color, nowMs)
	if !ok {
		return
	}
	h.Broadcast(s.Slug, proto.ServerFrame{
		Type:    proto.FramePresenceDiff,
		Slug:    s.Slug,
		Updated: presence.ToWire([]presence.Entry{entry}),
		Added:   []proto.PresenceEntry{},
		Removed: []string{},
	})
}

// HandlePing implements §4.5 step 5: reply pong, reset idle timer.
func (h *Hub) HandlePing(s *Session, nowMs int64) proto.ServerFrame {
	if s.ClientID != "" {
		h.DocFor(s.Slug).Touch(s.ClientID, nowMs)
	}
	return proto.ServerFrame{Type: proto.FramePong, Ts: uint64(nowMs)}
}
