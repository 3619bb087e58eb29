package contentstore

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore persists raw payload bytes to disk, gzip-compressed, sharded by
// the first two hex characters of the content hash so no single directory
// accumulates an unbounded number of entries.
type BlobStore struct {
	root string
}

// NewBlobStore returns a BlobStore rooted at root. The directory is created
// lazily on first write.
func NewBlobStore(root string) *BlobStore {
	return &BlobStore{root: root}
}

func (b *BlobStore) pathFor(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(b.root, "_", hash)
	}
	return filepath.Join(b.root, hash[:2], hash+".gz")
}

// Write gzip-compresses raw and stores it at the path derived from hash.
// Writing the same hash twice is a no-op-equivalent: the content is
// identical by definition, so Write overwrites unconditionally rather than
// checking existence first.
func (b *BlobStore) Write(hash string, raw []byte) error {
	path := b.pathFor(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blobstore: mkdir: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("blobstore: gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("blobstore: gzip close: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("blobstore: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("blobstore: rename: %w", err)
	}
	return nil
}

// Read decompresses and returns the bytes stored under hash.
func (b *BlobStore) Read(hash string) ([]byte, error) {
	f, err := os.Open(b.pathFor(hash))
	if err != nil {
		return nil, fmt.Errorf("blobstore: open: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("blobstore: gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
