// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package transformer defines the contract every pipeline stage
// implements. A stage always transforms; the other four capabilities
// — AST reuse, parsing, code generation, whole-pipeline
// postprocessing — are optional and detected by interface assertion
// rather than dynamic probing.
//
// Transformers must be pure with respect to global state: all I/O goes
// through the asset they receive and the Resolve callback in their
// context.
package transformer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/config"
)

// Transformer is the mandatory capability of a stage.
type Transformer interface {
	// Name returns the stage's registered name.
	Name() string

	// Transform is the core operation. It may mutate the asset in
	// place and return it as a Result, or return one or more child
	// specs describing new assets, or both.
	Transform(ctx context.Context, a *asset.Asset, tctx *Context) ([]Result, error)
}

// ASTReuser is implemented by stages that can accept a predecessor's
// AST directly.
type ASTReuser interface {
	// CanReuseAST reports whether the stage accepts this tree without
	// regeneration to source.
	CanReuseAST(ast *asset.AST, options *config.Options) bool
}

// Parser is implemented by stages that parse content into an AST.
type Parser interface {
	// Parse produces an AST from the asset's current content. The
	// pipeline stores the result on the asset.
	Parse(ctx context.Context, a *asset.Asset, tctx *Context) (*asset.AST, error)
}

// Generator is implemented by stages that convert an AST back to
// source. Any stage that produces an AST must also generate — the
// pipeline relies on the most recent generator to regenerate code
// whenever a later stage declines the tree.
type Generator interface {
	// Generate emits code (and optionally a source map) from the
	// asset's AST.
	Generate(ctx context.Context, a *asset.Asset, tctx *Context) (Generated, error)
}

// PostProcessor is implemented by stages that run a finalization pass
// over the whole asset set after the pipeline completes.
type PostProcessor interface {
	// PostProcess receives the finalized asset list and returns
	// replacement results, or nil to keep the list unchanged.
	PostProcess(ctx context.Context, assets []*asset.Asset, tctx *Context) ([]Result, error)
}

// Generated is the output of a Generator.
type Generated struct {
	// Code is the emitted source.
	Code []byte

	// Map is the emitted source map, or nil when source maps are
	// disabled or the generator has none.
	Map []byte
}

// Result is one output of a Transform or PostProcess call: either an
// asset the stage mutated and returned, or a spec describing a child
// asset. Exactly one field is set.
type Result struct {
	// Asset is a returned asset. Because assets are single records,
	// the engine uses the pointer directly — no view-to-store
	// recovery step.
	Asset *asset.Asset

	// Spec describes a new child asset.
	Spec *asset.ChildSpec
}

// ResolveFunc resolves an import specifier relative to the importing
// file. Injected by the driver; defers to the external resolver.
type ResolveFunc func(ctx context.Context, from, specifier string) (string, error)

// Context carries everything a stage may consult besides the asset
// itself.
type Context struct {
	// Config is the stage's loaded plugin config.
	Config *Config

	// Options are the engine build options.
	Options *config.Options

	// Resolve resolves import specifiers.
	Resolve ResolveFunc

	// Logger is the request-scoped logger.
	Logger *slog.Logger
}

// Error decorates a failure inside a stage hook with the stage name
// and the asset it was processing. Fatal to the request.
type Error struct {
	// Stage is the transformer's name.
	Stage string

	// Hook is the capability that failed: "parse", "transform",
	// "generate", or "postProcess".
	Hook string

	// FilePath is the asset's source path.
	FilePath string

	// AssetType is the asset's type at the time of failure.
	AssetType string

	// Err is the original cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transformer %s: %s on %s (%s): %v",
		e.Stage, e.Hook, e.FilePath, e.AssetType, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
