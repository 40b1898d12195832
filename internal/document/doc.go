// Package document implements the per-slug document state machine:
// the single owner of a document's text, revision, op log, password
// hash, and presence set (§4.3).
//
// Grounded on original_source's Doc/AppState pair (an
// Arc<RwLock<Doc>> guarded by a single exclusive lock per document),
// translated into Go's actor-over-channel idiom: a Doc runs its own
// goroutine and every mutating operation is a closure mailed to it,
// so the document never needs a mutex and callers never block each
// other across different slugs.
package document

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/prosemark/server/internal/apperr"
	"github.com/prosemark/server/internal/ot"
	"github.com/prosemark/server/internal/presence"
	"github.com/prosemark/server/internal/proto"
	"github.com/prosemark/server/internal/storage"
	"github.com/prosemark/server/internal/textbuf"
)

// State is the document's lifecycle stage (§4.3).
type State int

const (
	Loading State = iota
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// SubscribeResult is returned to a joining session (§4.3).
type SubscribeResult struct {
	Rev      uint64
	Text     string
	Presence []presence.Entry
	Self     presence.Entry
	Auth     string // "ok" | "needs_password"
}

// EditRequest is an inbound edit, already decoded from the wire.
// Authenticated must be true when the session has already passed the
// document's password check (join-time, or the document is public).
type EditRequest struct {
	BaseRev       uint64
	Ops           []ot.Op
	AuthorID      string
	OpID          string
	CursorAfter   *proto.CursorState
	Ts            uint64
	Authenticated bool
}

// ApplyResult is the outcome of a successful apply_edit (§4.3); a
// rejection is instead returned as an *apperr.Error.
type ApplyResult struct {
	Rev            uint64
	OpID           string
	TransformedOps []ot.Op
	Duplicate      bool
}

// Doc is the actor owning one document's authoritative state. Every
// field below this point is owned exclusively by the goroutine
// started in New — never touch them from outside a mailbox closure.
type Doc struct {
	Slug   string
	window uint64

	vault   *storage.Vault
	catalog *storage.Catalog
	log     *zap.Logger

	mailbox chan func()
	done    chan struct{}

	state        State
	loadErr      error
	rev          uint64
	buf          *textbuf.Buffer
	opLog        []ot.LoggedOp
	passwordHash string
	recent       *RecentOps
	subscribers  int

	Presence *presence.Registry
}

// New creates a document actor and starts its goroutine. Recovery
// from the vault is deferred until the first Subscribe/ApplyEdit call
// (lazy Loading, per §4.3), mirroring original_source's
// get_or_load_doc being called on first access rather than at
// process start.
func New(slug string, vault *storage.Vault, catalog *storage.Catalog, window uint64, log *zap.Logger) *Doc {
	d := &Doc{
		Slug:     slug,
		window:   window,
		vault:    vault,
		catalog:  catalog,
		log:      log,
		mailbox:  make(chan func(), 32),
		done:     make(chan struct{}),
		state:    Loading,
		Presence: presence.NewRegistry(),
		recent:   NewRecentOps(recentOpsCap),
	}
	go d.run()
	return d
}

func (d *Doc) run() {
	for {
		select {
		case fn := <-d.mailbox:
			fn()
		case <-d.done:
			return
		}
	}
}

// call mails fn to the actor and blocks until it has run, giving
// every exported method exclusive access to the actor's state for
// the duration of its closure — the Go analogue of the per-document
// lock §5 asks for.
func (d *Doc) call(fn func()) {
	reply := make(chan struct{})
	d.mailbox <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// ensureLoaded performs the §4.4 recovery algorithm on first access.
// Must only be called from inside the actor goroutine.
func (d *Doc) ensureLoaded() error {
	if d.state == Ready {
		return nil
	}
	if d.loadErr != nil {
		return d.loadErr
	}
	recovered, err := d.vault.Load(d.Slug)
	if err != nil {
		d.loadErr = apperr.New(apperr.StorageUnavailable, fmt.Sprintf("failed to load %q: %v", d.Slug, err))
		return d.loadErr
	}
	d.rev = recovered.Rev
	d.buf = textbuf.New(recovered.Text)
	d.opLog = recovered.Log
	d.passwordHash = recovered.Meta.PasswordHash
	for id, result := range recovered.SeenOpID {
		d.recent.Insert(id.String(), recentOpResult{rev: result.Rev, ops: result.Ops})
	}
	d.state = Ready
	return nil
}

// Subscribe attaches a joining client: authenticates against the
// document's password (if any), and on success registers presence and
// returns the current snapshot (§4.3, §4.5 step 2).
func (d *Doc) Subscribe(clientID, password string, label, color *string, nowMs int64) (SubscribeResult, error) {
	var result SubscribeResult
	var err error
	d.call(func() {
		if loadErr := d.ensureLoaded(); loadErr != nil {
			err = loadErr
			return
		}
		result.Rev = d.rev
		if d.passwordHash != "" {
			if password == "" || bcrypt.CompareHashAndPassword([]byte(d.passwordHash), []byte(password)) != nil {
				result.Auth = "needs_password"
				return
			}
		}
		result.Auth = "ok"
		snapshot, self := d.Presence.Register(clientID, label, color, nowMs)
		d.subscribers++
		result.Text = d.buf.String()
		result.Presence = snapshot
		result.Self = self
	})
	return result, err
}

// Peek returns the document's current revision and text after an
// auth check, without registering a presence entry — the read path
// behind `GET /api/snapshot` (§6), which has no live session to
// attach one to.
func (d *Doc) Peek(password string) (rev uint64, text string, err error) {
	d.call(func() {
		if loadErr := d.ensureLoaded(); loadErr != nil {
			err = loadErr
			return
		}
		if d.passwordHash != "" {
			if password == "" || bcrypt.CompareHashAndPassword([]byte(d.passwordHash), []byte(password)) != nil {
				err = apperr.New(apperr.Unauthorised, "invalid or missing password")
				return
			}
		}
		rev = d.rev
		text = d.buf.String()
	})
	return rev, text, err
}

// Unsubscribe drops a departing session's presence entry and, once
// the last subscriber has left, marks the document Closed (§4.3 —
// "after the last subscriber leaves and the op-log has been
// flushed"). Unsubscribe itself writes nothing: every applied edit's
// WAL record was already fsynced by ApplyEdit, which is also where
// ShouldCompact/Compact run.
func (d *Doc) Unsubscribe(clientID string) (presence.Entry, bool) {
	var entry presence.Entry
	var ok bool
	d.call(func() {
		entry, ok = d.Presence.Remove(clientID)
		if d.subscribers > 0 {
			d.subscribers--
		}
		if d.subscribers == 0 && d.state == Ready {
			d.state = Closed
		}
	})
	return entry, ok
}

// ApplyEdit runs the full §4.3 apply algorithm: auth check, op_id
// dedup, base_rev/window validation, transform-against-log, apply to
// the buffer, WAL append + fsync, and op-log trim.
func (d *Doc) ApplyEdit(req EditRequest) (ApplyResult, error) {
	var result ApplyResult
	var err error
	d.call(func() {
		if loadErr := d.ensureLoaded(); loadErr != nil {
			err = loadErr
			return
		}
		if d.passwordHash != "" && !req.Authenticated {
			err = apperr.New(apperr.Unauthorised, "document requires a password")
			return
		}
		if req.OpID != "" && d.recent.Contains(req.OpID) {
			cached, _ := d.recent.Get(req.OpID)
			result = ApplyResult{Rev: cached.rev, OpID: req.OpID, TransformedOps: cached.ops, Duplicate: true}
			return
		}
		if req.BaseRev > d.rev {
			err = apperr.New(apperr.BaseTooOld, "base_rev is ahead of the document's revision")
			return
		}
		if d.rev-req.BaseRev > d.window {
			err = apperr.New(apperr.BaseTooOld, "base_rev is outside the transform window")
			return
		}

		authorID, parseErr := uuid.Parse(req.AuthorID)
		if parseErr != nil {
			err = apperr.New(apperr.MalformedFrame, "author_id must be a uuid")
			return
		}
		opID := uuid.New()
		if req.OpID != "" {
			if parsed, parseErr := uuid.Parse(req.OpID); parseErr == nil {
				opID = parsed
			}
		}

		transformed := ot.TransformOpsAgainstLog(req.Ops, req.BaseRev, d.opLog, req.AuthorID)
		applied := make([]ot.Op, 0, len(transformed))
		for _, op := range transformed {
			clamped := d.buf.ClampOp(op)
			d.buf.Apply(clamped)
			d.rev++
			rec := storage.Record{Rev: d.rev, AuthorID: authorID, OpID: opID, TsMs: req.Ts, Op: clamped}
			if appendErr := d.vault.AppendRecord(d.Slug, rec); appendErr != nil {
				err = apperr.New(apperr.StorageUnavailable, "wal append failed: "+appendErr.Error())
				return
			}
			d.opLog = append(d.opLog, ot.LoggedOp{Rev: d.rev, Op: clamped, AuthorID: req.AuthorID})
			applied = append(applied, clamped)
		}
		if len(applied) > 0 {
			if syncErr := d.vault.Fsync(d.Slug); syncErr != nil {
				err = apperr.New(apperr.StorageUnavailable, "wal fsync failed: "+syncErr.Error())
				return
			}
		}
		d.trimLog()
		if req.OpID != "" {
			d.recent.Insert(req.OpID, recentOpResult{rev: d.rev, ops: append([]ot.Op(nil), applied...)})
		}
		if req.CursorAfter != nil {
			d.Presence.UpdateCursor(req.AuthorID, *req.CursorAfter, int64(req.Ts))
		}

		result = ApplyResult{Rev: d.rev, OpID: req.OpID, TransformedOps: applied}

		if should, checkErr := d.vault.ShouldCompact(d.Slug, d.rev, d.snapshotRev()); checkErr == nil && should {
			if compactErr := d.vault.Compact(d.Slug, d.rev, d.buf.String()); compactErr != nil {
				d.log.Warn("compaction failed", zap.String("slug", d.Slug), zap.Error(compactErr))
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				d.catalog.RecordFlush(ctx, d.Slug, d.rev)
				cancel()
			}
		}
	})
	return result, err
}

// snapshotRev is the rev the op log's oldest retained entry implies
// the last snapshot covered — an approximation good enough for the
// compaction trigger, since ShouldCompact also checks raw WAL size.
func (d *Doc) snapshotRev() uint64 {
	if len(d.opLog) == 0 {
		return d.rev
	}
	return d.opLog[0].Rev - 1
}

// trimLog drops op-log entries older than the transform window, since
// no in-flight edit can reference a base_rev that far behind (§3).
func (d *Doc) trimLog() {
	if uint64(len(d.opLog)) <= d.window {
		return
	}
	cut := uint64(len(d.opLog)) - d.window
	d.opLog = append([]ot.LoggedOp(nil), d.opLog[cut:]...)
}

// UpdateCursor, UpdateIme, and UpdateProfile implement §4.3's
// update_presence: "non-blocking, last-writer-wins per field". They
// still route through the actor mailbox for memory-safety (the
// Registry itself has its own mutex, but the subscriber-count/state
// bookkeeping above doesn't), but never touch rev, the op log, or
// storage, so they're cheap relative to ApplyEdit.
func (d *Doc) UpdateCursor(clientID string, cursor proto.CursorState, nowMs int64) (presence.Entry, bool) {
	var entry presence.Entry
	var ok bool
	d.call(func() {
		entry, ok = d.Presence.UpdateCursor(clientID, cursor, nowMs)
	})
	return entry, ok
}

func (d *Doc) UpdateIme(clientID string, ev proto.ImeEvent, nowMs int64) (presence.Entry, bool) {
	var entry presence.Entry
	var ok bool
	d.call(func() {
		entry, ok = d.Presence.UpdateIme(clientID, ev, nowMs)
	})
	return entry, ok
}

func (d *Doc) UpdateProfile(clientID string, label, color *string, nowMs int64) (presence.Entry, bool) {
	var entry presence.Entry
	var ok bool
	d.call(func() {
		entry, ok = d.Presence.UpdateProfile(clientID, label, color, nowMs)
	})
	return entry, ok
}

func (d *Doc) Touch(clientID string, nowMs int64) {
	d.call(func() {
		d.Presence.Touch(clientID, nowMs)
	})
}

// SetPassword verifies current against the stored hash (when one
// exists) and, on success, hashes and persists new (§4.3). Passing an
// empty new clears the password, making the document public again.
func (d *Doc) SetPassword(current, newPassword string) error {
	var err error
	d.call(func() {
		if loadErr := d.ensureLoaded(); loadErr != nil {
			err = loadErr
			return
		}
		if d.passwordHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(d.passwordHash), []byte(current)) != nil {
				err = apperr.New(apperr.Unauthorised, "current password does not match")
				return
			}
		}
		newHash := ""
		if newPassword != "" {
			hash, hashErr := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
			if hashErr != nil {
				err = apperr.New(apperr.StorageUnavailable, "failed to hash password")
				return
			}
			newHash = string(hash)
		}
		meta := storage.Meta{PasswordHash: newHash}
		if persistErr := d.vault.PersistMeta(d.Slug, meta); persistErr != nil {
			err = apperr.New(apperr.StorageUnavailable, "failed to persist password")
			return
		}
		d.passwordHash = newHash
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d.catalog.RecordPasswordChange(ctx, d.Slug)
		cancel()
	})
	return err
}

// State reports the document's current lifecycle stage.
func (d *Doc) State() State {
	var s State
	d.call(func() { s = d.state })
	return s
}

// Rev reports the document's current revision without mutating it.
func (d *Doc) Rev() uint64 {
	var rev uint64
	d.call(func() { rev = d.rev })
	return rev
}
