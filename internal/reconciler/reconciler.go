// Package reconciler implements the client-side reconciliation loop
// from spec.md §4.7: optimistic local apply, a persisted pending
// queue, ack handling, remote-op transform, reconnect resend, and
// drift repair.
//
// There is no client in original_source (it is a server-only axum
// repo) to ground this against, so the algorithm follows spec.md's
// §4.7 prose directly, built on the same internal/ot transform rules
// and internal/textbuf buffer the server uses, so the client and
// server apply operations identically (§8 property 6).
package reconciler

import (
	"sync"

	"github.com/google/uuid"

	"github.com/prosemark/server/internal/ot"
	"github.com/prosemark/server/internal/proto"
	"github.com/prosemark/server/internal/textbuf"
)

// Reconciler owns one document's client-side state: optimistic local
// text, the pending (unacknowledged) edit queue, and the server
// revision the client has most recently observed.
type Reconciler struct {
	mu sync.Mutex

	authorID  string
	buf       *textbuf.Buffer
	latestRev uint64
	pending   []PendingEdit
	store     PendingStore
}

// New creates a reconciler seeded with a document's current snapshot
// (from `GET /api/snapshot` or a `snapshot` frame) and restores any
// pending queue the store already holds, so a process restart resumes
// exactly where it left off.
func New(authorID, initialText string, initialRev uint64, store PendingStore) (*Reconciler, error) {
	pending, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		authorID:  authorID,
		buf:       textbuf.New(initialText),
		latestRev: initialRev,
		pending:   pending,
		store:     store,
	}, nil
}

// Text returns the reconciler's current optimistic local text.
func (r *Reconciler) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// Edit diffs the reconciler's current text against newText, applies
// it locally, enqueues it as a pending edit, and returns the wire
// frame to send (§4.7 steps 1-4). Returns nil if newText is unchanged.
func (r *Reconciler) Edit(newText string, cursorBefore, cursorAfter *proto.CursorState, ts uint64) (*proto.ClientFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := DiffToOps(r.buf.String(), newText)
	if len(ops) == 0 {
		return nil, nil
	}

	baseRev := r.latestRev
	for _, op := range ops {
		r.buf.Apply(r.buf.ClampOp(op))
	}

	opID := uuid.NewString()
	entry := PendingEdit{
		OpID:         opID,
		BaseRev:      baseRev,
		Ops:          proto.OpsFromEngine(ops),
		CursorBefore: cursorBefore,
		CursorAfter:  cursorAfter,
		Ts:           ts,
	}
	r.pending = append(r.pending, entry)
	if err := r.store.Save(r.pending); err != nil {
		return nil, err
	}

	return r.frameFor(entry), nil
}

// Ack implements §4.7's ack handling: drop the matching pending entry
// and advance latestRev.
func (r *Reconciler) Ack(opID string, serverRev uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.pending[:0]
	for _, p := range r.pending {
		if p.OpID != opID {
			out = append(out, p)
		}
	}
	r.pending = out
	if serverRev > r.latestRev {
		r.latestRev = serverRev
	}
	return r.store.Save(r.pending)
}

// ApplyRemote implements §4.7's op_broadcast handling: transform every
// pending edit against the remote op (client plays role A, the remote
// author plays role B, same tie-break rule as the server), apply the
// remote op to the local text, and advance latestRev.
func (r *Reconciler) ApplyRemote(remoteOps []ot.Op, remoteAuthorID string, serverRev uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.pending {
		engineOps := proto.OpsToEngine(r.pending[i].Ops)
		transformed := transformAgainstRemote(engineOps, remoteOps, r.authorID, remoteAuthorID)
		r.pending[i].Ops = proto.OpsFromEngine(transformed)
	}
	for _, op := range remoteOps {
		r.buf.Apply(r.buf.ClampOp(op))
	}
	if serverRev > r.latestRev {
		r.latestRev = serverRev
	}
	return r.store.Save(r.pending)
}

// Reconnect returns every pending edit as a resend frame, in order
// (§4.7: "resend every pending edit in order; server's dedup ensures
// idempotence").
func (r *Reconciler) Reconnect() []proto.ClientFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := make([]proto.ClientFrame, 0, len(r.pending))
	for _, p := range r.pending {
		frames = append(frames, *r.frameFor(p))
	}
	return frames
}

// DriftRepair compares the authoritative server text (from a fresh
// `GET /api/snapshot` taken once the pending queue has drained) to the
// local text, and if they differ, returns the corrective edit frame
// that converges the replicas (§4.7). Returns nil if they already
// match or the queue has not drained.
func (r *Reconciler) DriftRepair(serverText string, serverRev uint64) *proto.ClientFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) > 0 {
		return nil
	}
	local := r.buf.String()
	if local == serverText {
		return nil
	}

	ops := DiffToOps(serverText, local)
	if len(ops) == 0 {
		return nil
	}
	entry := PendingEdit{
		OpID:    uuid.NewString(),
		BaseRev: serverRev,
		Ops:     proto.OpsFromEngine(ops),
	}
	r.pending = append(r.pending, entry)
	r.store.Save(r.pending)
	return r.frameFor(entry)
}

func (r *Reconciler) frameFor(entry PendingEdit) *proto.ClientFrame {
	return &proto.ClientFrame{
		Type: proto.FrameEdit,
		Edit: &proto.Edit{
			BaseRev:      entry.BaseRev,
			Ops:          entry.Ops,
			AuthorID:     r.authorID,
			OpID:         entry.OpID,
			CursorBefore: entry.CursorBefore,
			CursorAfter:  entry.CursorAfter,
			Ts:           entry.Ts,
		},
	}
}

// transformAgainstRemote folds each local op through every remote op
// in order, the same composition internal/ot.TransformOpsAgainstLog
// performs server-side, just without a log's base_rev filter — every
// remote op here is, by construction, one the client has not yet
// applied.
func transformAgainstRemote(local, remote []ot.Op, localAuthor, remoteAuthor string) []ot.Op {
	working := append([]ot.Op(nil), local...)
	for _, rop := range remote {
		var next []ot.Op
		for _, op := range working {
			next = append(next, ot.TransformOp(op, rop, localAuthor, remoteAuthor)...)
		}
		working = next
	}
	return working
}
