// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/testutil"
)

func TestBlobRoundtrip(t *testing.T) {
	store, err := NewBlobStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	randomData := make([]byte, 4096)
	rand.Read(randomData)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"tiny", []byte("x")},
		{"text", []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 500))},
		{"pattern", testutil.PatternBytes(64 << 10)},
		{"incompressible", randomData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest := hash.Output(tt.data, hash.Digest{})
			if err := store.Put(digest, tt.data); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if !store.Contains(digest) {
				t.Fatal("Contains = false after Put")
			}

			got, err := store.Get(digest)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Error("roundtrip changed the bytes")
			}
		})
	}
}

func TestBlobCompressionSavesSpace(t *testing.T) {
	store, err := NewBlobStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	data := []byte(strings.Repeat("compress me please ", 10000))
	digest := hash.Output(data, hash.Digest{})
	if err := store.Put(digest, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	info, err := os.Stat(store.path(digest))
	if err != nil {
		t.Fatalf("stat blob file: %v", err)
	}
	if info.Size() >= int64(len(data)) {
		t.Errorf("highly repetitive blob not compressed: %d bytes on disk for %d input",
			info.Size(), len(data))
	}
}

func TestBlobPutIdempotent(t *testing.T) {
	store, err := NewBlobStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	data := []byte("idempotent")
	digest := hash.Output(data, hash.Digest{})

	for i := 0; i < 3; i++ {
		if err := store.Put(digest, data); err != nil {
			t.Fatalf("Put %d failed: %v", i, err)
		}
	}

	got, err := store.Get(digest)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "idempotent" {
		t.Errorf("Get = %q", got)
	}
}

func TestBlobGetMissing(t *testing.T) {
	store, err := NewBlobStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	if _, err := store.Get(hash.Content([]byte("never stored"))); err == nil {
		t.Error("Get of a missing blob should fail")
	}
	if store.Contains(hash.Content([]byte("never stored"))) {
		t.Error("Contains should be false for a missing blob")
	}
}

func TestBlobCorruptHeader(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "blobs")
	store, err := NewBlobStore(directory)
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	data := []byte("will be corrupted")
	digest := hash.Output(data, hash.Digest{})
	if err := store.Put(digest, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Truncate the file below the header size.
	if err := os.WriteFile(store.path(digest), []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("corrupting blob: %v", err)
	}
	if _, err := store.Get(digest); err == nil {
		t.Error("Get of a truncated blob should fail")
	}
}

func TestBlobSizeMismatch(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "blobs")
	store, err := NewBlobStore(directory)
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	data := []byte("size matters here")
	digest := hash.Output(data, hash.Digest{})
	if err := store.Put(digest, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Flip the declared uncompressed size in the header.
	raw, err := os.ReadFile(store.path(digest))
	if err != nil {
		t.Fatalf("reading blob file: %v", err)
	}
	raw[blobHeaderSize-1]++
	if err := os.WriteFile(store.path(digest), raw, 0o644); err != nil {
		t.Fatalf("rewriting blob file: %v", err)
	}

	if _, err := store.Get(digest); err == nil {
		t.Error("Get with a size mismatch should fail")
	}
}
