package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SlugToRelPath validates a slug per spec.md §3 (non-empty segments,
// no traversal) and returns its on-disk relative path. Grounded on
// original_source/storage.rs's slug_to_rel_path, which rejects any
// path component that isn't a plain Normal segment.
func SlugToRelPath(slug string) (string, error) {
	trimmed := strings.Trim(slug, "/")
	if trimmed == "" {
		return "", fmt.Errorf("slug must not be empty")
	}
	if len(trimmed) > 1024 {
		return "", fmt.Errorf("slug exceeds 1024 bytes")
	}
	segments := strings.Split(trimmed, "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("slug contains an empty segment")
		}
		if len(seg) > 255 {
			return "", fmt.Errorf("slug segment exceeds 255 bytes")
		}
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("slug contains invalid path segment %q", seg)
		}
		clean = append(clean, seg)
	}
	return filepath.Join(clean...), nil
}

// DocFile returns base/rel/name — each slug gets its own directory
// under the vault root containing fixed-name files (§6:
// "/vault/<slug-as-path>/{snapshot.v1,wal.v1,meta.v1}").
func DocFile(base, rel, name string) string {
	return filepath.Join(base, rel, name)
}
