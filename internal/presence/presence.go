// Package presence tracks the set of live clients viewing a document:
// cursors, IME composition state, and display profile (label/color).
// Grounded directly on original_source/server/src/presence.rs's
// register/touch/update-cursor/update-ime/update-profile/remove
// functions, translated from its `RwLock<HashMap<slug, DocPresence>>`
// shape into one mutex-guarded Registry per document (§4.6), matching
// this rewrite's per-slug actor model in internal/document.
package presence

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/prosemark/server/internal/proto"
)

const (
	maxLabelRunes = 32 // spec.md §4.6 — original_source used 64; spec.md is authoritative
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Entry is one client's presence state within a document.
type Entry struct {
	ClientID   string
	Label      string
	Color      string
	Cursor     *proto.CursorState
	Ime        *proto.ImeSnapshot
	LastSeenMs int64
}

func (e Entry) toWire() proto.PresenceEntry {
	return proto.PresenceEntry{
		ClientID:   e.ClientID,
		Label:      e.Label,
		Color:      e.Color,
		Cursor:     e.Cursor,
		Ime:        e.Ime,
		LastSeenMs: e.LastSeenMs,
	}
}

// Registry holds the live presence set for a single document.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Entry)}
}

// Register adds clientID to the registry, sanitizing its proposed
// label/color, and returns the full snapshot (for the join response)
// plus the newly registered entry.
func (r *Registry) Register(clientID string, label, color *string, nowMs int64) (snapshot []Entry, self Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &Entry{
		ClientID:   clientID,
		Label:      sanitizeLabel(label),
		Color:      sanitizeColor(color),
		LastSeenMs: nowMs,
	}
	r.clients[clientID] = e
	return r.snapshotLocked(), *e
}

// Touch refreshes last_seen_ms without altering any other field —
// used on `ping` (§4.5 step 5).
func (r *Registry) Touch(clientID string, nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[clientID]; ok {
		e.LastSeenMs = nowMs
	}
}

// UpdateCursor sets the client's cursor state. Returns false if the
// client isn't registered (already removed/evicted).
func (r *Registry) UpdateCursor(clientID string, cursor proto.CursorState, nowMs int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[clientID]
	if !ok {
		return Entry{}, false
	}
	cp := cursor
	e.Cursor = &cp
	e.LastSeenMs = nowMs
	return *e, true
}

// UpdateIme projects an ImeEvent into its presence-visible snapshot
// and stores it, replacing whatever composition state preceded it.
func (r *Registry) UpdateIme(clientID string, ev proto.ImeEvent, nowMs int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[clientID]
	if !ok {
		return Entry{}, false
	}
	e.Ime = imeSnapshot(ev)
	e.LastSeenMs = nowMs
	return *e, true
}

func imeSnapshot(ev proto.ImeEvent) *proto.ImeSnapshot {
	switch ev.Phase {
	case "start":
		return &proto.ImeSnapshot{Phase: "start", Range: ev.Range}
	case "update":
		return &proto.ImeSnapshot{Phase: "update", Range: ev.Range, Text: ev.Text}
	case "commit":
		return &proto.ImeSnapshot{Phase: "commit", Range: ev.ReplaceRange, Text: ev.Text}
	case "cancel":
		return &proto.ImeSnapshot{Phase: "cancel", Range: ev.Range}
	default:
		return nil
	}
}

// UpdateProfile re-sanitizes and replaces label/color. A nil pointer
// leaves the corresponding field untouched; a pointer to an
// empty/invalid value clears it (mirrors original_source's
// sanitize-then-clear-on-rejection behavior).
func (r *Registry) UpdateProfile(clientID string, label, color *string, nowMs int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[clientID]
	if !ok {
		return Entry{}, false
	}
	if label != nil {
		e.Label = sanitizeLabel(label)
	}
	if color != nil {
		e.Color = sanitizeColor(color)
	}
	e.LastSeenMs = nowMs
	return *e, true
}

// Remove drops clientID from the registry (disconnect or eviction).
func (r *Registry) Remove(clientID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[clientID]
	if !ok {
		return Entry{}, false
	}
	delete(r.clients, clientID)
	return *e, true
}

// Snapshot returns every current entry, for `presence_snapshot` (§4.6).
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(r.clients))
	for _, e := range r.clients {
		out = append(out, *e)
	}
	return out
}

// EvictIdle removes every entry whose last_seen_ms is older than
// nowMs - idleMs (T_idle, default 60s), returning the evicted
// client_ids for a `removed` presence_diff.
func (r *Registry) EvictIdle(nowMs, idleMs int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, e := range r.clients {
		if nowMs-e.LastSeenMs > idleMs {
			evicted = append(evicted, id)
			delete(r.clients, id)
		}
	}
	return evicted
}

// ToWire converts entries to their wire representation in order.
func ToWire(entries []Entry) []proto.PresenceEntry {
	out := make([]proto.PresenceEntry, len(entries))
	for i, e := range entries {
		out[i] = e.toWire()
	}
	return out
}

func sanitizeLabel(label *string) string {
	if label == nil {
		return ""
	}
	trimmed := strings.TrimSpace(*label)
	if trimmed == "" {
		return ""
	}
	if utf8.RuneCountInString(trimmed) <= maxLabelRunes {
		return trimmed
	}
	runes := []rune(trimmed)
	return string(runes[:maxLabelRunes])
}

func sanitizeColor(color *string) string {
	if color == nil {
		return ""
	}
	if !colorPattern.MatchString(*color) {
		return ""
	}
	return *color
}
