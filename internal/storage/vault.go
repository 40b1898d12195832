// Package storage is the durability layer (§4.4): per-slug WAL +
// snapshot files under a vault root, with crash-safe recovery and
// size/age-triggered compaction.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prosemark/server/internal/ot"
	"github.com/prosemark/server/internal/textbuf"
)

// Vault owns the on-disk files for every document under root.
type Vault struct {
	root string

	maxBytes int64
	maxRevs  uint64

	mu   sync.Mutex
	wals map[string]*os.File // open append handles, one per slug
}

func NewVault(root string, maxBytes int64, maxRevs uint64) *Vault {
	return &Vault{
		root:     root,
		maxBytes: maxBytes,
		maxRevs:  maxRevs,
		wals:     make(map[string]*os.File),
	}
}

func (v *Vault) paths(slug string) (snap, wal, meta string, err error) {
	rel, err := SlugToRelPath(slug)
	if err != nil {
		return "", "", "", err
	}
	return DocFile(v.root, rel, "snapshot.v1"),
		DocFile(v.root, rel, "wal.v1"),
		DocFile(v.root, rel, "meta.v1"),
		nil
}

// SeenOp is what a given op_id's first application produced, recovered
// from the WAL so a post-restart dedup hit can still answer truthfully
// (§4.3) instead of falling back to the document's current revision.
type SeenOp struct {
	Rev uint64
	Ops []ot.Op
}

// Recovered is the reconstructed state of a document loaded from
// disk: the replayed text/rev and the tail of the op log needed to
// transform any still-in-flight edit (§3's transform window).
type Recovered struct {
	Rev      uint64
	Text     string
	Log      []ot.LoggedOp
	Meta     Meta
	SeenOpID map[uuid.UUID]SeenOp
}

// Load reconstructs a document's state from snapshot + WAL (§4.4's
// recovery algorithm): load snapshot if present, stream WAL records
// in order verifying checksum and rev continuity, stop and truncate
// at the first bad record, and replay each op directly onto the
// buffer without re-running the OT engine (WAL records are already
// post-transform).
func (v *Vault) Load(slug string) (Recovered, error) {
	snapPath, walPath, metaPath, err := v.paths(slug)
	if err != nil {
		return Recovered{}, err
	}

	rev, content, err := ReadSnapshot(snapPath)
	if err != nil {
		return Recovered{}, err
	}
	meta, err := ReadMeta(metaPath)
	if err != nil {
		return Recovered{}, err
	}

	result, err := ReplayWAL(walPath, rev)
	if err != nil {
		return Recovered{}, err
	}
	if result.WasTruncated {
		if err := TruncateTrailingGarbage(walPath, result.ValidBytes); err != nil {
			return Recovered{}, fmt.Errorf("storage: failed to truncate corrupt wal: %w", err)
		}
	}

	buf := textbuf.New(content)
	seen := make(map[uuid.UUID]SeenOp, len(result.Records))
	log := make([]ot.LoggedOp, 0, len(result.Records))
	for _, rec := range result.Records {
		buf.Apply(rec.Op)
		rev = rec.Rev
		log = append(log, ot.LoggedOp{Rev: rec.Rev, Op: rec.Op, AuthorID: rec.AuthorID.String()})
		entry := seen[rec.OpID]
		entry.Rev = rec.Rev
		entry.Ops = append(entry.Ops, rec.Op)
		seen[rec.OpID] = entry
	}

	return Recovered{
		Rev:      rev,
		Text:     buf.String(),
		Log:      log,
		Meta:     meta,
		SeenOpID: seen,
	}, nil
}

// openWAL returns the append-mode handle for slug's WAL file,
// opening (and creating parent dirs) lazily on first use.
func (v *Vault) openWAL(slug string) (*os.File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.wals[slug]; ok {
		return f, nil
	}
	_, walPath, _, err := v.paths(slug)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(walPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	v.wals[slug] = f
	return f, nil
}

// AppendRecord appends a WAL record for slug. Does not fsync; callers
// batch fsync across back-to-back edits (§5) via Fsync.
func (v *Vault) AppendRecord(slug string, rec Record) error {
	f, err := v.openWAL(slug)
	if err != nil {
		return err
	}
	return WriteRecord(f, rec)
}

// Fsync durably commits every WAL write for slug so far. An ack may
// only be sent after this returns nil (§5).
func (v *Vault) Fsync(slug string) error {
	v.mu.Lock()
	f, ok := v.wals[slug]
	v.mu.Unlock()
	if !ok {
		return nil
	}
	return f.Sync()
}

// WalSize reports the current WAL file size in bytes, for the
// compaction trigger.
func (v *Vault) WalSize(slug string) (int64, error) {
	_, walPath, _, err := v.paths(slug)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(walPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ShouldCompact reports whether the WAL has reached maxBytes (S_max)
// or the document has accumulated more than maxRevs revs (default
// 10k) since the last snapshot (§4.4).
func (v *Vault) ShouldCompact(slug string, rev, snapshotRev uint64) (bool, error) {
	size, err := v.WalSize(slug)
	if err != nil {
		return false, err
	}
	if size >= v.maxBytes {
		return true, nil
	}
	if rev-snapshotRev > v.maxRevs {
		return true, nil
	}
	return false, nil
}

// Compact writes a fresh snapshot at the current rev/content and
// truncates the WAL, as spec.md §4.4 describes: temp file, fsync,
// atomic rename over snapshot.v1, then truncate.
func (v *Vault) Compact(slug string, rev uint64, content string) error {
	snapPath, walPath, _, err := v.paths(slug)
	if err != nil {
		return err
	}
	if err := WriteSnapshotAtomic(snapPath, rev, content); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.wals[slug]; ok {
		if err := f.Close(); err != nil {
			return err
		}
		delete(v.wals, slug)
	}
	return os.Truncate(walPath, 0)
}

// PersistMeta writes the password hash / created_ms sidecar file.
func (v *Vault) PersistMeta(slug string, meta Meta) error {
	_, _, metaPath, err := v.paths(slug)
	if err != nil {
		return err
	}
	if meta.CreatedMs == 0 {
		meta.CreatedMs = time.Now().UnixMilli()
	}
	return WriteMeta(metaPath, meta)
}

// Close releases all open WAL handles (graceful shutdown).
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var firstErr error
	for slug, f := range v.wals {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(v.wals, slug)
	}
	return firstErr
}
