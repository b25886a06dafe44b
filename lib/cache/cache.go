// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache is Loom's content-addressed memoization layer: a blob
// store for committed asset bytes and an artifact cache mapping cache
// keys to serialized asset-record lists. Both persist under the
// configured cache directory; nothing else on disk is ever written by
// the engine.
//
// Read failures are non-fatal by design — a corrupt or unreadable
// entry reports a miss and the transformation simply runs. Write
// failures surface to the caller because a commit that cannot land its
// blob has not committed.
package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/codec"
	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/version"
)

// memoryEntries is the size of the in-memory LRU fronting artifact
// entry reads. Entries are small (records, not content), so a few
// hundred covers a typical incremental rebuild without meaningful
// memory cost.
const memoryEntries = 256

// entryKind is the registry kind for artifact entries; combined with
// the release version it forms the envelope format tag.
const entryKind = "AssetRecordList"

// envelope is the on-disk form of an artifact entry.
type envelope struct {
	// Format is the versioned registry tag. A mismatch on read is a
	// cache miss, which is how cross-version compatibility is
	// maintained: old entries are simply never used.
	Format string `cbor:"format"`

	// Records are the serialized assets.
	Records []*asset.Record `cbor:"records"`
}

// Cache is the artifact cache: cache key → list of committed asset
// records. Entries live under artifacts/ in the cache directory,
// sharded like blobs, with an LRU in front. Safe for concurrent use.
type Cache struct {
	directory string
	memory    *lru.Cache[string, []*asset.Record]
	logger    *slog.Logger
}

// New opens (creating if needed) an artifact cache under directory.
func New(directory string, logger *slog.Logger) (*Cache, error) {
	if directory == "" {
		return nil, fmt.Errorf("artifact cache directory is required")
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact cache directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	memory, err := lru.New[string, []*asset.Record](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("creating artifact cache LRU: %w", err)
	}

	return &Cache{directory: directory, memory: memory, logger: logger}, nil
}

// GetAssets returns the asset records stored under key, or (nil,
// false) on a miss. IO and decode failures are logged and reported as
// misses; a version-format mismatch is a silent miss.
func (c *Cache) GetAssets(key hash.Digest) ([]*asset.Record, bool) {
	keyHex := hash.Format(key)
	if records, ok := c.memory.Get(keyHex); ok {
		return records, true
	}

	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("artifact cache read failed, treating as miss",
				"key", hash.Short(key), "error", err)
		}
		return nil, false
	}

	var entry envelope
	if err := codec.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("artifact cache entry corrupt, treating as miss",
			"key", hash.Short(key), "error", err)
		return nil, false
	}
	if entry.Format != version.Tag(entryKind) {
		return nil, false
	}

	c.memory.Add(keyHex, entry.Records)
	return entry.Records, true
}

// PutAssets stores records under key. The write is atomic (temp file +
// rename) and idempotent: the key encodes every input, so writers
// under the same key agree on the value.
func (c *Cache) PutAssets(key hash.Digest, records []*asset.Record) error {
	encoded, err := codec.Marshal(envelope{
		Format:  version.Tag(entryKind),
		Records: records,
	})
	if err != nil {
		return fmt.Errorf("encoding artifact entry %s: %w", hash.Short(key), err)
	}

	finalPath := c.path(key)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating artifact shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(c.directory, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp artifact file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(encoded); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing artifact entry: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp artifact file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming artifact entry: %w", err)
	}
	success = true

	c.memory.Add(hash.Format(key), records)
	return nil
}

// path returns the sharded filesystem path for an artifact entry.
func (c *Cache) path(key hash.Digest) string {
	hex := hash.Format(key)
	return filepath.Join(c.directory, hex[:2], hex[2:4], hex)
}
