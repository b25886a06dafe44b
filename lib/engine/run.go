// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/cache"
	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/pipeline"
	"github.com/loom-build/loom/lib/source"
	"github.com/loom-build/loom/lib/transformer"
)

// accumulator collects the config requests performed across a request,
// including those replayed from memoized pipelines.
type accumulator struct {
	requests []ConfigRequest
}

func (acc *accumulator) record(requests []ConfigRequest) {
	acc.requests = append(acc.requests, requests...)
}

// Run transforms one request to a finalized, committed asset set. The
// request either yields a full set or fails whole — errors from any
// stage bubble up wrapped with request context and no partial output
// is returned.
func (d *Driver) Run(ctx context.Context, request Request) (*Result, error) {
	logger := d.logger.With("request", uuid.NewString())

	initial, err := d.initialAsset(ctx, request)
	if err != nil {
		return nil, err
	}
	logger = logger.With("file", initial.FilePath())
	logger.Debug("transformation start", "type", initial.Type(), "size", initial.Content().Size())

	loaded, err := d.pipelineFor(ctx, initial.FilePath())
	if err != nil {
		return nil, err
	}

	inline := len(request.InlineCode) > 0
	acc := &accumulator{}

	assets, err := d.runOne(ctx, initial, loaded, inline, acc, logger, 0)
	if err != nil {
		return nil, fmt.Errorf("transforming %s: %w", initial.FilePath(), err)
	}

	assets, err = d.postProcess(ctx, assets, loaded, request.Env, inline, logger)
	if err != nil {
		return nil, fmt.Errorf("postprocessing %s: %w", initial.FilePath(), err)
	}

	logger.Debug("transformation done", "assets", len(assets))
	return &Result{Assets: assets, ConfigRequests: acc.requests}, nil
}

// initialAsset resolves the request to its initial asset via the
// content source.
func (d *Driver) initialAsset(ctx context.Context, request Request) (*asset.Asset, error) {
	if len(request.InlineCode) > 0 {
		digest := hash.Content(request.InlineCode)
		filePath := request.FilePath
		if filePath == "" {
			filePath = hash.Short(digest) + ".js"
		}
		return asset.New(asset.Options{
			IDBase:      hash.Format(digest),
			FilePath:    filePath,
			Type:        typeFromPath(filePath),
			Env:         request.Env,
			Content:     source.FromBytes(request.InlineCode),
			ContentHash: digest,
			SideEffects: request.SideEffects,
		}), nil
	}

	if request.FilePath == "" {
		return nil, fmt.Errorf("engine: request needs a file path or inline code")
	}

	content, _, digest, err := source.Read(ctx, d.options.InputFS, request.FilePath)
	if err != nil {
		return nil, err
	}
	return asset.New(asset.Options{
		IDBase:      request.FilePath,
		FilePath:    request.FilePath,
		Type:        typeFromPath(request.FilePath),
		Env:         request.Env,
		Content:     content,
		ContentHash: digest,
		SideEffects: request.SideEffects,
	}), nil
}

// pipelineFor returns the memoized pipeline for filePath, constructing
// it — and loading each stage's plugin config through the host
// callback — on first use of the chain.
func (d *Driver) pipelineFor(ctx context.Context, filePath string) (*loadedPipeline, error) {
	names, err := d.rules.Select(filePath)
	if err != nil {
		return nil, err
	}
	id := strings.Join(names, "+")

	d.mu.Lock()
	if loaded, ok := d.pipelines[id]; ok {
		d.mu.Unlock()
		return loaded, nil
	}
	d.mu.Unlock()

	// Build outside the lock: config loading suspends on the host
	// callback and must not serialize unrelated requests. A racing
	// build of the same chain is harmless — both sides agree on the
	// value and the second registration wins.
	stages := make([]pipeline.Stage, 0, len(names))
	configs := make([]*transformer.Config, 0, len(names))
	requests := make([]ConfigRequest, 0, len(names))
	for _, name := range names {
		stageTransformer, err := d.registry.Lookup(name)
		if err != nil {
			return nil, err
		}

		configRequest := ConfigRequest{PluginName: name, FilePath: filePath}
		stageConfig, err := d.loadConfig(ctx, configRequest)
		if err != nil {
			return nil, &ConfigLoadError{Plugin: name, FilePath: filePath, Err: err}
		}

		stages = append(stages, pipeline.Stage{Transformer: stageTransformer, Config: stageConfig})
		configs = append(configs, stageConfig)
		requests = append(requests, configRequest)
	}

	loaded := &loadedPipeline{
		pipeline: pipeline.New(stages, d.clock),
		configs:  configs,
		requests: requests,
	}

	d.mu.Lock()
	d.pipelines[id] = loaded
	d.mu.Unlock()
	return loaded, nil
}

// runOne drives one asset through one pipeline, consulting the
// artifact cache first and re-dispatching type-changed outputs to
// their new pipelines. The returned assets are committed, and the
// committed result is written back to the cache under the asset's key.
func (d *Driver) runOne(ctx context.Context, a *asset.Asset, loaded *loadedPipeline, inline bool, acc *accumulator, logger *slog.Logger, depth int) ([]*asset.Asset, error) {
	if depth > dispatchLimit {
		return nil, fmt.Errorf("type-change dispatch exceeded %d pipelines for %s", dispatchLimit, a.FilePath())
	}
	acc.record(loaded.requests)

	key, err := cache.Key(
		[]cache.AssetKey{cache.AssetKeyOf(a)},
		loaded.configs,
		a.Environment(),
		d.options.Impactful(),
	)
	if err != nil {
		return nil, err
	}

	readable := d.options.CacheEnabled && !inline
	if readable {
		if records, ok := d.artifacts.GetAssets(key); ok {
			assets, err := d.rehydrate(records)
			if err == nil {
				logger.Debug("cache hit", "pipeline", loaded.pipeline.ID, "assets", len(assets))
				return assets, nil
			}
			logger.Warn("cache rehydration failed, re-running pipeline",
				"pipeline", loaded.pipeline.ID, "error", err)
		}
	}

	initialType := a.Type()
	runResult, err := loaded.pipeline.Run(ctx, a, d.base(logger))
	if err != nil {
		return nil, err
	}

	var outputs []*asset.Asset
	for _, result := range runResult.Assets {
		if result.Type() != initialType {
			nextPath := config.SyntheticPath(a.FilePath(), result.Type())
			next, err := d.pipelineFor(ctx, nextPath)
			if err != nil {
				return nil, err
			}
			if next.pipeline.ID != loaded.pipeline.ID {
				dispatched, err := d.runOne(ctx, result, next, inline, acc, logger, depth+1)
				if err != nil {
					return nil, err
				}
				outputs = append(outputs, dispatched...)
				continue
			}
			// Same chain for the new type: the asset is already
			// final.
		}
		outputs = append(outputs, result)
	}

	if err := d.commitAll(ctx, outputs); err != nil {
		return nil, err
	}
	d.writeCache(key, outputs, logger)
	return outputs, nil
}

// postProcess runs the whole-pipeline finalization pass, if the
// pipeline has one, behind its own cache lookup keyed over the
// finalized asset set.
func (d *Driver) postProcess(ctx context.Context, assets []*asset.Asset, loaded *loadedPipeline, env *asset.Environment, inline bool, logger *slog.Logger) ([]*asset.Asset, error) {
	if loaded.pipeline.PostProcessor() == nil {
		return assets, nil
	}

	// Finalized assets are committed, so they are keyed by output hash.
	// Keying by their original content hash would reproduce the
	// pre-pipeline key of an asset the pipeline returned unchanged, and
	// the lookup would hit that entry instead of running postProcess.
	assetKeys := make([]cache.AssetKey, len(assets))
	for i, a := range assets {
		assetKeys[i] = cache.AssetKeyOf(a)
		assetKeys[i].ContentHash = a.OutputHash()
	}
	key, err := cache.Key(assetKeys, loaded.configs, env, d.options.Impactful())
	if err != nil {
		return nil, err
	}

	if d.options.CacheEnabled && !inline {
		if records, ok := d.artifacts.GetAssets(key); ok {
			processed, err := d.rehydrate(records)
			if err == nil {
				logger.Debug("postprocess cache hit", "assets", len(processed))
				return processed, nil
			}
			logger.Warn("postprocess rehydration failed, re-running", "error", err)
		}
	}

	processed, err := loaded.pipeline.RunPostProcess(ctx, assets, d.base(logger))
	if err != nil {
		return nil, err
	}
	if err := d.commitAll(ctx, processed); err != nil {
		return nil, err
	}
	d.writeCache(key, processed, logger)
	return processed, nil
}

// commitAll commits every uncommitted asset: output hash, blob write,
// freeze. Blob write failures are fatal — a commit that cannot land
// its bytes has not committed.
func (d *Driver) commitAll(ctx context.Context, assets []*asset.Asset) error {
	optionsHash := d.options.OptionsHash()
	for _, a := range assets {
		if err := a.Commit(ctx, d.blobs, optionsHash); err != nil {
			return err
		}
	}
	return nil
}

// writeCache records committed assets under key. Failures are logged
// and swallowed: an artifact entry that failed to persist only costs a
// future cache miss, it never fails the request.
func (d *Driver) writeCache(key hash.Digest, assets []*asset.Asset, logger *slog.Logger) {
	records := make([]*asset.Record, len(assets))
	for i, a := range assets {
		record, err := a.Record()
		if err != nil {
			logger.Warn("skipping cache write for unrecordable asset", "asset", a.ID(), "error", err)
			return
		}
		records[i] = record
	}
	if err := d.artifacts.PutAssets(key, records); err != nil {
		logger.Warn("artifact cache write failed", "key", hash.Short(key), "error", err)
	}
}

// rehydrate turns cached records back into live assets, reading each
// asset's content from the blob store. The reads double as blob
// warming: a warm run leaves the blob store as populated as the cold
// run did.
func (d *Driver) rehydrate(records []*asset.Record) ([]*asset.Asset, error) {
	assets := make([]*asset.Asset, len(records))
	for i, record := range records {
		rehydrated, err := asset.FromRecord(record, d.blobs)
		if err != nil {
			return nil, err
		}
		assets[i] = rehydrated
	}
	return assets, nil
}

// base builds the request-scoped pipeline collaborators.
func (d *Driver) base(logger *slog.Logger) pipeline.Base {
	return pipeline.Base{
		Options: d.options,
		Resolve: d.resolve,
		Logger:  logger,
	}
}
