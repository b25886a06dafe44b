// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset owns the mutable state of a single asset flowing
// through the transformation engine.
//
// The original design exposed a read-only view and a mutable view
// forwarding to a shared internal record through a weak side-table.
// Here the asset is a single record: transformers receive *Asset
// inside their hooks and may mutate it there; after Commit every
// mutator fails with *FrozenError. Because the pointer is the record,
// the engine recovers the backing store from any *Asset a transformer
// returns without a side-table lookup.
//
// An Asset is not safe for concurrent use. Each transformation request
// runs as a single sequential task, so no intra-request locking is
// needed; the engine never shares an asset across requests.
package asset

import (
	"context"
	"fmt"
	"time"

	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/source"
)

// Asset is one unit of source content with identity, type, content,
// optional AST, and the dependency and metadata state accumulated by
// transformer stages.
type Asset struct {
	id          string
	idBase      string
	filePath    string
	assetType   string
	env         *Environment
	content     source.Content
	contentHash hash.Digest
	ast         *AST
	mapBytes    []byte

	dependencies   []Dependency
	connected      []ConnectedFile
	connectedIndex map[string]int
	symbols        map[string]string

	sideEffects bool
	isolated    bool
	meta        map[string]any
	stats       Stats

	outputHash hash.Digest
	committed  bool
}

// Options configures a new asset.
type Options struct {
	// IDBase seeds the asset's identity: the request's file path, the
	// hash of inline code, or a parent asset's id for children.
	IDBase string

	// FilePath is the source path the asset originates from.
	FilePath string

	// Type is the initial content type tag, normally the file
	// extension without the dot.
	Type string

	// Env is the target environment, shared by reference.
	Env *Environment

	// Content is the initial content.
	Content source.Content

	// ContentHash is the content-domain digest of Content, when the
	// caller already computed it during the streaming read.
	ContentHash hash.Digest

	// SideEffects marks the asset as having import side effects.
	SideEffects bool
}

// New constructs an asset. The id is derived from (IDBase, Type,
// environment) and never changes afterwards, even if the asset's type
// changes mid-pipeline.
func New(options Options) *Asset {
	return &Asset{
		id:             computeID(options.IDBase, options.Type, options.Env),
		idBase:         options.IDBase,
		filePath:       options.FilePath,
		assetType:      options.Type,
		env:            options.Env,
		content:        options.Content,
		contentHash:    options.ContentHash,
		connectedIndex: map[string]int{},
		symbols:        map[string]string{},
		sideEffects:    options.SideEffects,
		meta:           map[string]any{},
	}
}

// computeID derives the stable asset identifier. NUL separators keep
// ("ab","c") and ("a","bc") from colliding.
func computeID(idBase, assetType string, env *Environment) string {
	envHash := env.Hash()
	material := make([]byte, 0, len(idBase)+len(assetType)+34)
	material = append(material, idBase...)
	material = append(material, 0)
	material = append(material, assetType...)
	material = append(material, 0)
	material = append(material, envHash[:]...)
	return hash.Short(hash.Content(material))
}

// ID returns the stable asset identifier.
func (a *Asset) ID() string { return a.id }

// FilePath returns the source path the asset originates from.
func (a *Asset) FilePath() string { return a.filePath }

// Type returns the current content type tag.
func (a *Asset) Type() string { return a.assetType }

// Environment returns the target environment.
func (a *Asset) Environment() *Environment { return a.env }

// ContentHash returns the content-domain digest of the asset's
// original content, or the zero digest if it was never computed.
func (a *Asset) ContentHash() hash.Digest { return a.contentHash }

// OutputHash returns the committed output digest. Zero before Commit.
func (a *Asset) OutputHash() hash.Digest { return a.outputHash }

// AST returns the asset's parsed tree, or nil.
func (a *Asset) AST() *AST { return a.ast }

// Content returns the asset's content handle.
func (a *Asset) Content() source.Content { return a.content }

// MapBytes returns the asset's source map, or nil.
func (a *Asset) MapBytes() []byte { return a.mapBytes }

// Dependencies returns the accumulated dependency records in
// discovery order. The returned slice is the asset's own; callers must
// not mutate it.
func (a *Asset) Dependencies() []Dependency { return a.dependencies }

// ConnectedFiles returns the connected files in registration order.
func (a *Asset) ConnectedFiles() []ConnectedFile { return a.connected }

// Symbols returns the exported-to-local symbol mapping.
func (a *Asset) Symbols() map[string]string { return a.symbols }

// SideEffects reports whether the asset has import side effects.
func (a *Asset) SideEffects() bool { return a.sideEffects }

// IsIsolated reports whether the asset is excluded from sharing.
func (a *Asset) IsIsolated() bool { return a.isolated }

// Meta returns the transformer metadata map.
func (a *Asset) Meta() map[string]any { return a.meta }

// Stats returns the asset's transformation statistics.
func (a *Asset) Stats() Stats { return a.stats }

// Committed reports whether the asset has been committed.
func (a *Asset) Committed() bool { return a.committed }

// Bytes materializes the asset's content, buffering a stream if
// needed.
func (a *Asset) Bytes(ctx context.Context) ([]byte, error) {
	return a.content.Bytes(ctx)
}

// Code materializes the asset's content as a string.
func (a *Asset) Code(ctx context.Context) (string, error) {
	return a.content.Text(ctx)
}

// mutable returns a *FrozenError if the asset has been committed.
func (a *Asset) mutable(op string) error {
	if a.committed {
		return &FrozenError{ID: a.id, Op: op}
	}
	return nil
}

// SetBytes replaces the asset's content with an in-memory buffer.
func (a *Asset) SetBytes(data []byte) error {
	if err := a.mutable("SetBytes"); err != nil {
		return err
	}
	a.content = source.FromBytes(data)
	return nil
}

// SetCode replaces the asset's content with code.
func (a *Asset) SetCode(code string) error {
	return a.SetBytes([]byte(code))
}

// SetStream replaces the asset's content with a stream handle.
func (a *Asset) SetStream(content source.Content) error {
	if err := a.mutable("SetStream"); err != nil {
		return err
	}
	a.content = content
	return nil
}

// SetAST attaches a parsed tree to the asset (or detaches with nil).
// While an AST is attached the asset's content is considered stale:
// the pipeline regenerates code from the tree before any stage that
// cannot reuse it, and before the asset leaves the pipeline.
func (a *Asset) SetAST(ast *AST) error {
	if err := a.mutable("SetAST"); err != nil {
		return err
	}
	a.ast = ast
	return nil
}

// SetMap replaces the asset's source map.
func (a *Asset) SetMap(mapBytes []byte) error {
	if err := a.mutable("SetMap"); err != nil {
		return err
	}
	a.mapBytes = mapBytes
	return nil
}

// SetType changes the asset's content type tag. The id is unaffected.
// A type change ends the asset's participation in its current
// pipeline; the driver re-dispatches it to the pipeline for the new
// type.
func (a *Asset) SetType(assetType string) error {
	if err := a.mutable("SetType"); err != nil {
		return err
	}
	a.assetType = assetType
	return nil
}

// AddDependency appends a dependency record. The dependency inherits
// the asset's environment unless it carries its own.
func (a *Asset) AddDependency(dependency Dependency) error {
	if err := a.mutable("AddDependency"); err != nil {
		return err
	}
	if dependency.Env == nil {
		dependency.Env = a.env
	}
	a.dependencies = append(a.dependencies, dependency)
	return nil
}

// AddConnectedFile registers an ancillary file that influences this
// asset. Re-registering a path replaces its hash.
func (a *Asset) AddConnectedFile(file ConnectedFile) error {
	if err := a.mutable("AddConnectedFile"); err != nil {
		return err
	}
	if i, ok := a.connectedIndex[file.Path]; ok {
		a.connected[i] = file
		return nil
	}
	a.connectedIndex[file.Path] = len(a.connected)
	a.connected = append(a.connected, file)
	return nil
}

// SetSymbol records an exported symbol and its local name.
func (a *Asset) SetSymbol(exported, local string) error {
	if err := a.mutable("SetSymbol"); err != nil {
		return err
	}
	a.symbols[exported] = local
	return nil
}

// SetSideEffects sets the side-effects flag.
func (a *Asset) SetSideEffects(sideEffects bool) error {
	if err := a.mutable("SetSideEffects"); err != nil {
		return err
	}
	a.sideEffects = sideEffects
	return nil
}

// SetIsolated sets the isolation flag.
func (a *Asset) SetIsolated(isolated bool) error {
	if err := a.mutable("SetIsolated"); err != nil {
		return err
	}
	a.isolated = isolated
	return nil
}

// SetMeta stores a transformer metadata value.
func (a *Asset) SetMeta(key string, value any) error {
	if err := a.mutable("SetMeta"); err != nil {
		return err
	}
	a.meta[key] = value
	return nil
}

// AddTime accumulates transformation time into the asset's stats.
// Timing continues to accumulate through commit, so this does not
// check the frozen state.
func (a *Asset) AddTime(elapsed time.Duration) {
	a.stats.Time += elapsed
}

// Child constructs a new asset from a transformer result descriptor.
// The child's idBase combines this asset's id with the child's type;
// dependencies, connected files, environment, and the side-effects
// flag are inherited unless the spec overrides them.
func (a *Asset) Child(spec ChildSpec) *Asset {
	env := spec.Environment
	if env == nil {
		env = a.env
	}
	sideEffects := a.sideEffects
	if spec.SideEffects != nil {
		sideEffects = *spec.SideEffects
	}

	child := New(Options{
		IDBase:      a.id + ":" + spec.Type,
		FilePath:    a.filePath,
		Type:        spec.Type,
		Env:         env,
		Content:     spec.Content,
		SideEffects: sideEffects,
	})

	child.dependencies = append(child.dependencies, a.dependencies...)
	child.dependencies = append(child.dependencies, spec.Dependencies...)
	for _, file := range a.connected {
		child.AddConnectedFile(file)
	}
	for _, file := range spec.ConnectedFiles {
		child.AddConnectedFile(file)
	}
	for exported, local := range spec.Symbols {
		child.symbols[exported] = local
	}

	child.ast = spec.AST
	child.mapBytes = spec.Map
	child.isolated = spec.IsIsolated
	for key, value := range spec.Meta {
		child.meta[key] = value
	}

	// Buffered child content gets its hash now; stream children are
	// hashed only if something later needs it.
	if !spec.Content.IsStream() {
		data, _ := spec.Content.Bytes(context.Background())
		child.contentHash = hash.Content(data)
	}

	return child
}

// Commit finalizes the asset: computes the output hash over the final
// bytes and the impactful-options digest, writes the bytes to the blob
// store under that hash, and freezes the asset. Committing an already
// committed asset is a no-op. Committing with an attached AST is an
// error — the pipeline must regenerate code first.
func (a *Asset) Commit(ctx context.Context, blobs BlobWriter, optionsHash hash.Digest) error {
	if a.committed {
		return nil
	}
	if a.ast != nil {
		return fmt.Errorf("asset %s: commit with unregenerated AST", a.id)
	}

	data, err := a.content.Bytes(ctx)
	if err != nil {
		return fmt.Errorf("asset %s: materializing content for commit: %w", a.id, err)
	}

	a.outputHash = hash.Output(data, optionsHash)
	if err := blobs.Put(a.outputHash, data); err != nil {
		return fmt.Errorf("asset %s: writing content blob: %w", a.id, err)
	}

	a.stats.Size = int64(len(data))
	a.content = source.FromBytes(data)
	a.committed = true
	return nil
}

// BlobWriter is the blob-store capability Commit needs.
type BlobWriter interface {
	// Put stores data under digest. Idempotent.
	Put(digest hash.Digest, data []byte) error
}

// BlobReader is the blob-store capability record rehydration needs.
type BlobReader interface {
	// Get returns the bytes stored under digest.
	Get(digest hash.Digest) ([]byte, error)
}

// FrozenError reports a mutation attempted after commit. This is a
// programmer error in a transformer or the engine; the request fails.
type FrozenError struct {
	// ID is the asset's identifier.
	ID string

	// Op is the mutation that was attempted.
	Op string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("asset %s: %s after commit", e.ID, e.Op)
}
