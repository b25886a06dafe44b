// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loom-build/loom/lib/hash"
)

// blobHeaderSize is the fixed per-blob header: 1 byte compression tag,
// 8 bytes big-endian uncompressed size.
const blobHeaderSize = 9

// BlobStore is the content-addressed byte store committed asset
// contents land in. Blobs are keyed by output hash, written atomically
// (temp file + rename) into two-level hex-sharded directories, and
// compressed when the probe says it pays. The store is append-only
// with last-writer-wins semantics: concurrent writers under the same
// key agree on the value because the key encodes the full content
// identity.
type BlobStore struct {
	directory string
}

// NewBlobStore opens (creating if needed) a blob store rooted at
// directory.
func NewBlobStore(directory string) (*BlobStore, error) {
	if directory == "" {
		return nil, fmt.Errorf("blob store directory is required")
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &BlobStore{directory: directory}, nil
}

// Put stores data under digest. Duplicate puts are idempotent — the
// blob is content-addressed, so an existing file already holds the
// same bytes.
func (s *BlobStore) Put(digest hash.Digest, data []byte) error {
	finalPath := s.path(digest)
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating blob shard directory: %w", err)
	}

	payload, tag := compressAuto(data)
	header := make([]byte, blobHeaderSize)
	header[0] = byte(tag)
	binary.BigEndian.PutUint64(header[1:], uint64(len(data)))

	// Atomic write: temp file + rename.
	tmpFile, err := os.CreateTemp(s.directory, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp blob file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(header); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing blob header: %w", err)
	}
	if _, err := tmpFile.Write(payload); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing blob payload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp blob file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming blob file: %w", err)
	}

	success = true
	return nil
}

// Get returns the bytes stored under digest.
func (s *BlobStore) Get(digest hash.Digest) ([]byte, error) {
	raw, err := os.ReadFile(s.path(digest))
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", hash.Short(digest), err)
	}
	if len(raw) < blobHeaderSize {
		return nil, fmt.Errorf("blob %s: truncated header (%d bytes)", hash.Short(digest), len(raw))
	}

	tag := compressionTag(raw[0])
	uncompressedSize := binary.BigEndian.Uint64(raw[1:blobHeaderSize])

	data, err := decompress(raw[blobHeaderSize:], tag, int(uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", hash.Short(digest), err)
	}
	return data, nil
}

// Contains reports whether a blob exists under digest.
func (s *BlobStore) Contains(digest hash.Digest) bool {
	_, err := os.Stat(s.path(digest))
	return err == nil
}

// path returns the sharded filesystem path for a digest:
// <dir>/<hex[:2]>/<hex[2:4]>/<hex>.
func (s *BlobStore) path(digest hash.Digest) string {
	hex := hash.Format(digest)
	return filepath.Join(s.directory, hex[:2], hex[2:4], hex)
}
