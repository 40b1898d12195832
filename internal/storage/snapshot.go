package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteSnapshotAtomic writes content to snapshot.v1 via a temp file +
// fsync + rename, so readers never observe a torn snapshot (§4.4 —
// rename is atomic on the filesystems this spec assumes).
func WriteSnapshotAtomic(path string, rev uint64, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	snap := snapshotFile{Rev: rev, Content: content}
	enc := json.NewEncoder(f)
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

type snapshotFile struct {
	Rev     uint64 `json:"rev"`
	Content string `json:"content"`
}

// ReadSnapshot loads snapshot.v1, returning zero-value (rev 0, empty
// text) when absent — a freshly created document (§3).
func ReadSnapshot(path string) (rev uint64, content string, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, "", fmt.Errorf("storage: corrupt snapshot: %w", err)
	}
	return snap.Rev, snap.Content, nil
}

// Meta is the contents of meta.v1 (§6): password hash and creation
// time, the only per-document metadata that isn't reconstructible
// from replaying the WAL.
type Meta struct {
	PasswordHash string `json:"password_hash,omitempty"`
	CreatedMs    int64  `json:"created_ms"`
}

func WriteMeta(path string, meta Meta) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Meta{}, nil
	}
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("storage: corrupt meta: %w", err)
	}
	return meta, nil
}
