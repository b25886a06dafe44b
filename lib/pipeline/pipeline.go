// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline drives one asset through an ordered chain of
// transformer stages, handling AST handoff between compatible stages,
// regeneration to source between incompatible ones, and fan-out into
// child assets.
//
// A pipeline run is strictly sequential: stage N completes over the
// full working set before stage N+1 starts, and within a stage assets
// are visited in working-set order. Transformers may close over shared
// state and the remembered-generator discipline assumes sequential
// observation, so parallelism inside one run is not an option by
// design.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/transformer"
)

// ErrASTReuseMismatch reports that an asset carries an AST a stage
// cannot reuse and no prior generator is available to regenerate code.
// The contract requires any stage producing an AST to also provide
// generate, so hitting this is a defective transformer chain.
var ErrASTReuseMismatch = errors.New("asset has an AST but no generator is available")

// Stage is one transformer plus its loaded plugin config.
type Stage struct {
	// Transformer is the stage implementation.
	Transformer transformer.Transformer

	// Config is the stage's plugin config, bound by package name at
	// pipeline construction.
	Config *transformer.Config
}

// Pipeline is an ordered transformer chain selected for a file path.
// Pipelines are stateless across runs — per-run state (the remembered
// generator) lives on the Run call's stack — so one Pipeline may serve
// concurrent requests.
type Pipeline struct {
	// ID identifies the chain: the stage names joined with "+". The
	// driver compares pipeline IDs to decide whether a type-changed
	// asset needs re-dispatch.
	ID string

	// Stages is the ordered chain.
	Stages []Stage

	clock clock.Clock
}

// New constructs a pipeline over stages. A nil clk falls back to the
// system clock.
func New(stages []Stage, clk clock.Clock) *Pipeline {
	names := make([]string, len(stages))
	for i, stage := range stages {
		names[i] = stage.Transformer.Name()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Pipeline{
		ID:     strings.Join(names, "+"),
		Stages: stages,
		clock:  clk,
	}
}

// Base carries the request-scoped collaborators shared by every stage
// context in a run.
type Base struct {
	// Options are the engine build options.
	Options *config.Options

	// Resolve resolves import specifiers for transformers.
	Resolve transformer.ResolveFunc

	// Logger is the request-scoped logger.
	Logger *slog.Logger
}

// context builds the per-stage transformer context.
func (b Base) context(stage *Stage) *transformer.Context {
	return &transformer.Context{
		Config:  stage.Config,
		Options: b.Options,
		Resolve: b.Resolve,
		Logger:  b.Logger,
	}
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	// Assets is the resulting working set, diverged assets first in
	// divergence order, then the final stage's outputs. Every asset
	// appears exactly once.
	Assets []*asset.Asset
}

// Run drives initial through all stages.
//
// Assets whose type no longer equals the run's initial type are set
// aside as final the first time a stage visits them and skip every
// remaining stage; membership in the final list makes the divergence
// bookkeeping exact — an asset that changes type on the very last
// stage stays in the working set and is still emitted exactly once.
//
// Before each transform the asset's AST is reconciled: a tree the
// stage cannot reuse is regenerated to source by the remembered
// generator (the most recent generator-capable stage that has run) and
// cleared; a missing tree is parsed if the stage knows how. After the
// last stage, any asset still carrying a tree is finalized with one
// generator call.
func (p *Pipeline) Run(ctx context.Context, initial *asset.Asset, base Base) (*RunResult, error) {
	initialType := initial.Type()
	working := []*asset.Asset{initial}
	var final []*asset.Asset

	// generator is the remembered generate capability: always the
	// most recent generator-capable stage that has run, whether or
	// not its own transform touched a given asset.
	var generator *Stage

	for i := range p.Stages {
		stage := &p.Stages[i]
		stageContext := base.context(stage)

		var next []*asset.Asset
		for _, a := range working {
			if a.Type() != initialType {
				final = append(final, a)
				continue
			}

			if err := p.reconcileAST(ctx, a, stage, generator, base); err != nil {
				return nil, err
			}

			start := p.clock.Now()
			results, err := stage.Transformer.Transform(ctx, a, stageContext)
			a.AddTime(p.clock.Since(start))
			if err != nil {
				return nil, &transformer.Error{
					Stage:     stage.Transformer.Name(),
					Hook:      "transform",
					FilePath:  a.FilePath(),
					AssetType: a.Type(),
					Err:       err,
				}
			}

			children, err := normalize(a, results)
			if err != nil {
				return nil, err
			}
			next = append(next, children...)
		}
		working = next

		if _, ok := stage.Transformer.(transformer.Generator); ok {
			generator = stage
		}
	}

	assets := append(final, working...)
	for _, a := range assets {
		if a.AST() == nil {
			continue
		}
		if generator == nil {
			return nil, fmt.Errorf("finalizing %s (%s): %w", a.FilePath(), a.Type(), ErrASTReuseMismatch)
		}
		if err := p.generate(ctx, a, generator, base); err != nil {
			return nil, err
		}
	}

	return &RunResult{Assets: assets}, nil
}

// reconcileAST enforces the handoff protocol before a stage's
// transform: regenerate-and-clear a tree the stage declines, then
// parse if the stage can and no tree remains.
func (p *Pipeline) reconcileAST(ctx context.Context, a *asset.Asset, stage, generator *Stage, base Base) error {
	if a.AST() != nil {
		reuse := false
		if reuser, ok := stage.Transformer.(transformer.ASTReuser); ok {
			reuse = reuser.CanReuseAST(a.AST(), base.Options)
		}
		if !reuse {
			if generator == nil {
				return fmt.Errorf("stage %s on %s (%s): %w",
					stage.Transformer.Name(), a.FilePath(), a.Type(), ErrASTReuseMismatch)
			}
			if err := p.generate(ctx, a, generator, base); err != nil {
				return err
			}
		}
	}

	if a.AST() == nil {
		if parser, ok := stage.Transformer.(transformer.Parser); ok {
			tree, err := parser.Parse(ctx, a, base.context(stage))
			if err != nil {
				return &transformer.Error{
					Stage:     stage.Transformer.Name(),
					Hook:      "parse",
					FilePath:  a.FilePath(),
					AssetType: a.Type(),
					Err:       err,
				}
			}
			if err := a.SetAST(tree); err != nil {
				return err
			}
		}
	}
	return nil
}

// generate emits code from the asset's AST via the remembered
// generator, writes it onto the asset, and clears the tree.
func (p *Pipeline) generate(ctx context.Context, a *asset.Asset, generator *Stage, base Base) error {
	emitter := generator.Transformer.(transformer.Generator)

	emitted, err := emitter.Generate(ctx, a, base.context(generator))
	if err != nil {
		return &transformer.Error{
			Stage:     generator.Transformer.Name(),
			Hook:      "generate",
			FilePath:  a.FilePath(),
			AssetType: a.Type(),
			Err:       err,
		}
	}

	if err := a.SetBytes(emitted.Code); err != nil {
		return err
	}
	mapBytes := emitted.Map
	if base.Options != nil && !base.Options.SourceMaps {
		mapBytes = nil
	}
	if err := a.SetMap(mapBytes); err != nil {
		return err
	}
	return a.SetAST(nil)
}

// normalize converts a stage's results into the next working set:
// returned assets pass through (the pointer is the backing record),
// child specs become new assets inheriting from parent. An empty
// result list drops the asset.
func normalize(parent *asset.Asset, results []transformer.Result) ([]*asset.Asset, error) {
	out := make([]*asset.Asset, 0, len(results))
	for i, result := range results {
		switch {
		case result.Asset != nil && result.Spec != nil:
			return nil, fmt.Errorf("result %d for %s sets both Asset and Spec", i, parent.FilePath())
		case result.Asset != nil:
			out = append(out, result.Asset)
		case result.Spec != nil:
			out = append(out, parent.Child(*result.Spec))
		default:
			return nil, fmt.Errorf("result %d for %s is empty", i, parent.FilePath())
		}
	}
	return out, nil
}

// PostProcessor returns the pipeline's effective postProcess stage:
// the last stage in the chain providing the capability, or nil. Every
// stage runs in every pipeline invocation, so "last in the chain" and
// "last remembered during a run" are the same stage — which lets the
// driver consult this statically on the warm-cache path where no run
// happened.
func (p *Pipeline) PostProcessor() *Stage {
	for i := len(p.Stages) - 1; i >= 0; i-- {
		if _, ok := p.Stages[i].Transformer.(transformer.PostProcessor); ok {
			return &p.Stages[i]
		}
	}
	return nil
}

// RunPostProcess invokes the pipeline's postProcess stage over the
// finalized asset list and returns the replacement list. With no
// postProcess stage, or when the hook returns nil results, the input
// list is returned unchanged. Child specs in the results are created
// as children of the first asset in the list.
func (p *Pipeline) RunPostProcess(ctx context.Context, assets []*asset.Asset, base Base) ([]*asset.Asset, error) {
	stage := p.PostProcessor()
	if stage == nil || len(assets) == 0 {
		return assets, nil
	}

	hook := stage.Transformer.(transformer.PostProcessor)
	results, err := hook.PostProcess(ctx, assets, base.context(stage))
	if err != nil {
		return nil, &transformer.Error{
			Stage:     stage.Transformer.Name(),
			Hook:      "postProcess",
			FilePath:  assets[0].FilePath(),
			AssetType: assets[0].Type(),
			Err:       err,
		}
	}
	if results == nil {
		return assets, nil
	}
	return normalize(assets[0], results)
}
