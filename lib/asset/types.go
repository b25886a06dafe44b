// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"time"

	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/source"
)

// AST is a parsed representation of an asset's content, tagged with
// the dialect and dialect version that produced it so stages can
// decide compatibility. The tree is exclusively owned by its asset; a
// transformer receiving the asset may mutate Program in place.
type AST struct {
	// Dialect names the tree format, e.g. "loom-json".
	Dialect string

	// DialectVersion is the version of the dialect. Stages refuse
	// trees from incompatible versions via CanReuseAST.
	DialectVersion string

	// Program is the tree itself, opaque to the engine.
	Program any
}

// Dependency is a reference to another module discovered by a
// transformer. The engine accumulates dependencies in order; resolving
// them is the job of the outer dependency graph.
type Dependency struct {
	// Specifier is the raw import string, e.g. "./util" or "lodash".
	Specifier string `cbor:"specifier"`

	// SpecifierType tells the resolver how to interpret the
	// specifier: "esm", "commonjs", or "url".
	SpecifierType string `cbor:"specifier_type,omitempty"`

	// Priority controls when the dependency loads relative to its
	// parent: "sync", "parallel", or "lazy".
	Priority string `cbor:"priority,omitempty"`

	// Env is the environment the dependency resolves under. Inherited
	// from the parent asset unless a transformer overrides it.
	Env *Environment `cbor:"env,omitempty"`

	// Meta carries transformer-specific annotations.
	Meta map[string]any `cbor:"meta,omitempty"`
}

// ConnectedFile is an ancillary file whose contents influence an
// asset's transformation (e.g. a transformer's rc file). Its hash
// participates in invalidation decisions made by the outer graph.
type ConnectedFile struct {
	// Path is the file's path.
	Path string `cbor:"path"`

	// Hash is the content-domain digest of the file at read time.
	Hash hash.Digest `cbor:"hash"`
}

// Stats records per-asset transformation cost.
type Stats struct {
	// Time is cumulative time spent transforming the asset.
	Time time.Duration `cbor:"time"`

	// Size is the committed content size in bytes.
	Size int64 `cbor:"size"`
}

// ChildSpec describes a child asset to be created from a transformer
// result. Zero-valued fields inherit from the parent where the field
// documents inheritance.
type ChildSpec struct {
	// Type is the child's content type tag. Required.
	Type string

	// Content is the child's content.
	Content source.Content

	// AST is the child's parsed tree, if the transformer produced one.
	AST *AST

	// Map is the child's source map, if any.
	Map []byte

	// Dependencies are appended to the dependencies inherited from
	// the parent.
	Dependencies []Dependency

	// ConnectedFiles are merged into the files inherited from the
	// parent.
	ConnectedFiles []ConnectedFile

	// Environment overrides the parent's environment when non-nil.
	Environment *Environment

	// SideEffects overrides the parent's flag when non-nil.
	SideEffects *bool

	// IsIsolated marks the child as excluded from sharing with other
	// bundles.
	IsIsolated bool

	// Meta carries transformer-specific metadata.
	Meta map[string]any

	// Symbols maps exported symbol names to local names.
	Symbols map[string]string
}
