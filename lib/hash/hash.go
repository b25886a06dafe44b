// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash provides Loom's content addressing: 32-byte BLAKE3
// digests computed under fixed domain keys. Every hash in the engine —
// asset content hashes, committed output hashes, cache keys, config
// result hashes — is a Digest from this package.
package hash

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. All Loom hashes (content, output,
// cache key, config result) are this size.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// digests in different contexts, so an asset's content hash can never
// collide with a cache key over the same bytes.
type domainKey [32]byte

// Domain separation keys. These are fixed constants — changing them
// invalidates every existing hash in that domain. The byte values are
// the ASCII encoding of the domain name, zero-padded to 32 bytes, so
// the keys are inspectable in hex dumps without losing any property of
// BLAKE3 keyed mode.
var (
	contentDomainKey = domainKey{
		'l', 'o', 'o', 'm', '.', 'c', 'o', 'n', 't', 'e', 'n', 't',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	outputDomainKey = domainKey{
		'l', 'o', 'o', 'm', '.', 'o', 'u', 't', 'p', 'u', 't',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	keyDomainKey = domainKey{
		'l', 'o', 'o', 'm', '.', 'c', 'a', 'c', 'h', 'e', 'k', 'e', 'y',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	configDomainKey = domainKey{
		'l', 'o', 'o', 'm', '.', 'c', 'o', 'n', 'f', 'i', 'g',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Content computes the content-domain digest of data. This is the hash
// stored on assets when their source bytes are read, and the hash that
// identifies inline code requests.
func Content(data []byte) Digest {
	return keyedHash(contentDomainKey, data)
}

// Output computes the output-domain digest of an asset's final bytes
// combined with the digest of the impactful build options. Committed
// blobs are addressed by this hash: the same bytes built under
// different impactful options commit to different blob keys.
func Output(data []byte, optionsHash Digest) Digest {
	hasher := newKeyed(outputDomainKey)
	hasher.Write(data)
	hasher.Write(optionsHash[:])
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Key computes the cache-key-domain digest of canonicalized key
// material. Callers are responsible for producing deterministic bytes
// (lib/codec's deterministic encoding) before hashing.
func Key(material []byte) Digest {
	return keyedHash(keyDomainKey, material)
}

// Config computes the config-domain digest of a plugin config's
// canonical bytes.
func Config(data []byte) Digest {
	return keyedHash(configDomainKey, data)
}

// Hasher incrementally computes a content-domain digest. Used by the
// content source to hash large files in one streaming pass.
type Hasher struct {
	inner *blake3.Hasher
}

// NewContent returns a streaming hasher for the content domain.
func NewContent() *Hasher {
	return &Hasher{inner: newKeyed(contentDomainKey)}
}

// Write absorbs data into the digest. It never fails; the error return
// satisfies io.Writer.
func (h *Hasher) Write(data []byte) (int, error) {
	return h.inner.Write(data)
}

// Sum returns the digest of everything written so far. The hasher may
// continue to absorb data after Sum.
func (h *Hasher) Sum() Digest {
	var digest Digest
	copy(digest[:], h.inner.Sum(nil))
	return digest
}

// IsZero reports whether the digest is the zero value. A zero digest
// marks "not yet computed" throughout the engine; no real BLAKE3
// output is all zeroes in practice.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the hex encoding. Implements fmt.Stringer so digests
// format usefully in logs.
func (d Digest) String() string {
	return Format(d)
}

// Format returns the hex-encoded string representation of a digest.
// This is the canonical form used in blob filenames, cache entry
// filenames, and log output.
func Format(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// Short returns the first 16 hex characters of a digest, the form used
// for asset identifiers and log lines where the full 64 characters add
// noise without adding identity.
func Short(digest Digest) string {
	return hex.EncodeToString(digest[:8])
}

// Parse parses a 64-character hex string into a Digest.
func Parse(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Digest {
	hasher := newKeyed(key)
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// newKeyed constructs a keyed BLAKE3 hasher. NewKeyed only fails for a
// wrong key length, which the fixed-size domainKey type rules out.
func newKeyed(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("hash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}
