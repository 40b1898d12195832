// Package proto declares the wire types shared between server and
// client: operations, cursor/IME state, presence, and the tagged
// frame unions for the WebSocket dialect described in spec.md §6.
//
// Grounded on original_source/server/src/types.rs — the Rust source
// this spec was distilled from — translated into Go's idiomatic
// "struct + string Type field + exhaustive switch" sum-type pattern
// instead of Rust's serde externally-tagged enums.
package proto

// OpKind mirrors ot.Op on the wire: exactly one of Insert or Delete
// fields is populated, selected by Type.
type OpKind struct {
	Type string `json:"type"` // "insert" | "delete"
	Pos  int    `json:"pos"`
	Text string `json:"text,omitempty"`
	Len  int    `json:"len,omitempty"`
}

type SelectionDirection string

const (
	SelectionForward  SelectionDirection = "forward"
	SelectionBackward SelectionDirection = "backward"
)

type CursorState struct {
	Position           int                 `json:"position"`
	Anchor             *int                `json:"anchor,omitempty"`
	SelectionDirection *SelectionDirection `json:"selection_direction,omitempty"`
}

type TextRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ImeEvent mirrors the four-phase IME composition lifecycle in
// spec.md §3: start/update/commit/cancel, tagged by Phase.
type ImeEvent struct {
	Phase        string     `json:"phase"` // start|update|commit|cancel
	Range        *TextRange `json:"range,omitempty"`
	ReplaceRange *TextRange `json:"replace_range,omitempty"`
	Text         string     `json:"text,omitempty"`
}

// ImeSnapshot is the presence-visible projection of the latest IME
// event for a client (no full history, just "where things stand").
type ImeSnapshot struct {
	Phase string     `json:"phase"`
	Range *TextRange `json:"range,omitempty"`
	Text  string     `json:"text,omitempty"`
}

type Edit struct {
	BaseRev      uint64        `json:"base_rev"`
	Ops          []OpKind      `json:"ops"`
	AuthorID     string        `json:"author_id"`
	OpID         string        `json:"op_id"`
	CursorBefore *CursorState  `json:"cursor_before,omitempty"`
	CursorAfter  *CursorState  `json:"cursor_after,omitempty"`
	Ts           uint64        `json:"ts,omitempty"`
}

type SnapshotResp struct {
	Slug    string `json:"slug"`
	Rev     uint64 `json:"rev"`
	Content string `json:"content"`
}

type PresenceEntry struct {
	ClientID   string       `json:"client_id"`
	Label      string       `json:"label,omitempty"`
	Color      string       `json:"color,omitempty"`
	Cursor     *CursorState `json:"cursor,omitempty"`
	Ime        *ImeSnapshot `json:"ime,omitempty"`
	LastSeenMs int64        `json:"last_seen_ms"`
}

// ClientFrame is the tagged union of every inbound WebSocket frame
// (§6: join, edit, cursor, ime, profile, ping). Unknown Type values
// must be ignored by the dispatcher, not treated as fatal (§9).
type ClientFrame struct {
	Type         string       `json:"type"`
	Slug         string       `json:"slug,omitempty"`
	ClientID     string       `json:"client_id,omitempty"`
	Label        *string      `json:"label,omitempty"`
	Color        *string      `json:"color,omitempty"`
	Edit         *Edit        `json:"edit,omitempty"`
	Cursor       *CursorState `json:"cursor,omitempty"`
	Ime          *ImeEvent    `json:"ime,omitempty"`
	OpID         string       `json:"op_id,omitempty"`
	Ts           uint64       `json:"ts,omitempty"`
}

const (
	FrameJoin    = "join"
	FrameEdit    = "edit"
	FrameCursor  = "cursor"
	FrameIme     = "ime"
	FrameProfile = "profile"
	FramePing    = "ping"
)

// ServerFrame is the tagged union of every outbound WebSocket frame.
type ServerFrame struct {
	Type             string          `json:"type"`
	Slug             string          `json:"slug,omitempty"`
	Rev              uint64          `json:"rev,omitempty"`
	Content          string          `json:"content,omitempty"`
	ClientID         string          `json:"client_id,omitempty"`
	Ops              []OpKind        `json:"ops,omitempty"`
	OpID             string          `json:"op_id,omitempty"`
	Ts               uint64          `json:"ts,omitempty"`
	Cursor           *CursorState    `json:"cursor,omitempty"`
	Ime              *ImeEvent       `json:"ime,omitempty"`
	Presence         []PresenceEntry `json:"presence,omitempty"`
	Added            []PresenceEntry `json:"added,omitempty"`
	Updated          []PresenceEntry `json:"updated,omitempty"`
	Removed          []string        `json:"removed,omitempty"`
	Auth             string          `json:"auth,omitempty"` // "ok" | "needs_password"
	Error            string          `json:"error,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

const (
	FrameSnapshot         = "snapshot"
	FrameApplied          = "applied"
	FramePresenceSnapshot = "presence_snapshot"
	FramePresenceDiff     = "presence_diff"
	FramePong             = "pong"
	FrameError            = "error"
)
