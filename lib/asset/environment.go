// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"github.com/loom-build/loom/lib/codec"
	"github.com/loom-build/loom/lib/hash"
)

// Environment describes the build target an asset is transformed for.
// The engine treats it as opaque except that it participates in asset
// identity and cache keys, and is shared by reference from a request
// down to every child asset and dependency. Never mutated after
// construction.
type Environment struct {
	// Context names the execution context, e.g. "browser" or "node".
	Context string `cbor:"context" yaml:"context"`

	// Engines maps engine name to a version range, e.g.
	// "chrome" -> ">=80".
	Engines map[string]string `cbor:"engines,omitempty" yaml:"engines,omitempty"`

	// IsLibrary marks library builds, which downstream packaging
	// treats differently from application builds.
	IsLibrary bool `cbor:"is_library,omitempty" yaml:"is_library,omitempty"`
}

// Hash returns the content-domain digest of the environment. The
// encoding is deterministic (sorted map keys, fixed field order), so
// equal environments always hash equally across processes and
// restarts. A nil environment hashes to the zero digest.
func (e *Environment) Hash() hash.Digest {
	if e == nil {
		return hash.Digest{}
	}
	encoded, err := codec.Marshal(e)
	if err != nil {
		// Environment contains only maps and scalars; deterministic
		// CBOR encoding of it cannot fail.
		panic("asset: encoding environment: " + err.Error())
	}
	return hash.Content(encoded)
}
