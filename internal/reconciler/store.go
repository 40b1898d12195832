package reconciler

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/prosemark/server/internal/proto"
)

// PendingEdit is one not-yet-acknowledged local edit (§4.7).
type PendingEdit struct {
	OpID         string             `json:"op_id"`
	BaseRev      uint64             `json:"base_rev"`
	Ops          []proto.OpKind     `json:"ops"`
	CursorBefore *proto.CursorState `json:"cursor_before,omitempty"`
	CursorAfter  *proto.CursorState `json:"cursor_after,omitempty"`
	Ts           uint64             `json:"ts"`
}

// PendingStore persists the pending queue so a reconnect can resend
// it (§4.7's "persist the queue" after every enqueue/ack).
type PendingStore interface {
	Load() ([]PendingEdit, error)
	Save(pending []PendingEdit) error
}

// MemoryStore is a PendingStore that keeps the queue only in memory —
// the right fit for server-side tests, which never need a queue to
// survive a process restart.
type MemoryStore struct {
	pending []PendingEdit
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() ([]PendingEdit, error) {
	return append([]PendingEdit(nil), m.pending...), nil
}

func (m *MemoryStore) Save(pending []PendingEdit) error {
	m.pending = append([]PendingEdit(nil), pending...)
	return nil
}

// FileStore persists the pending queue as JSON on disk, atomically,
// matching internal/storage/snapshot.go's temp-file+rename pattern —
// the durability guarantee a real client (cmd/replica) needs across
// restarts so a crash never loses an unacknowledged edit.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() ([]PendingEdit, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pending []PendingEdit
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (f *FileStore) Save(pending []PendingEdit) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pending-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
