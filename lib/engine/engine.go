// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the transformation driver: it loads an asset,
// selects and runs the transformer pipeline for its path, re-dispatches
// outputs whose type changed to their new pipelines, runs
// postprocessing, and mediates every cache read and write along the
// way.
//
// A Driver is safe for concurrent Run calls for different requests;
// each request runs as one sequential task and shares only the caches,
// the input filesystem, the host's config loader, and the memoized
// pipelines, all of which are thread-safe. The only lock a request takes
// guards the pipeline memo map and is never held across a config load
// or a transformer hook.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/cache"
	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/pipeline"
	"github.com/loom-build/loom/lib/transformer"
)

// dispatchLimit bounds type-change re-dispatch depth. A transformer
// chain whose types cycle through distinct pipelines would otherwise
// recurse forever; past this depth the request fails instead.
const dispatchLimit = 32

// Request asks the engine to transform one source file or inline code
// blob.
type Request struct {
	// FilePath locates the source and selects the pipeline. With
	// InlineCode present it may be empty; a synthetic path is derived
	// from the code's hash.
	FilePath string

	// InlineCode, when non-empty, is transformed instead of reading
	// FilePath. Identity derives from the code's hash, and cache
	// reads are skipped for the request.
	InlineCode []byte

	// Env is the target environment, propagated unchanged to every
	// child asset and dependency.
	Env *asset.Environment

	// SideEffects marks the initial asset as having import side
	// effects.
	SideEffects bool
}

// ConfigRequest records one plugin-config load for dependency tracking
// by the outer graph.
type ConfigRequest struct {
	// PluginName is the plugin whose config was loaded.
	PluginName string

	// FilePath is the file the pipeline was being built for.
	FilePath string
}

// LoadConfigFunc is the host callback that loads a plugin's config.
// Implementations decide between rehydrating a cached config and
// reloading from disk based on the config's own marker.
type LoadConfigFunc func(ctx context.Context, request ConfigRequest) (*transformer.Config, error)

// Result is the outcome of a transformation request. Every asset is
// committed: its final bytes sit in the blob cache under its output
// hash and its record is serializable.
type Result struct {
	// Assets are the finalized assets.
	Assets []*asset.Asset

	// ConfigRequests are the config loads performed for the request,
	// in load order.
	ConfigRequests []ConfigRequest
}

// ConfigLoadError reports a failed plugin-config load or rehydration.
// Fatal to the request.
type ConfigLoadError struct {
	// Plugin is the plugin whose config failed to load.
	Plugin string

	// FilePath is the file the pipeline was being built for.
	FilePath string

	// Err is the underlying cause.
	Err error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("loading config for plugin %s (%s): %v", e.Plugin, e.FilePath, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// Options are the engine build options. Required.
	Options *config.Options

	// Rules is the pipeline selection table. Defaults to the built-in
	// table.
	Rules *config.Rules

	// Registry maps transformer names to implementations. Defaults to
	// the built-in registry.
	Registry *transformer.Registry

	// LoadConfig is the host's config loader. Defaults to a loader
	// that hands every plugin an empty rehydratable config.
	LoadConfig LoadConfigFunc

	// Resolve is the import resolver injected into transformer
	// contexts. Defaults to plain relative resolution.
	Resolve transformer.ResolveFunc

	// Logger receives engine diagnostics. Defaults to discard.
	Logger *slog.Logger

	// Clock is the time source for asset stats. Defaults to the
	// system clock.
	Clock clock.Clock
}

// Driver is the top-level transformation orchestrator.
type Driver struct {
	options    *config.Options
	rules      *config.Rules
	registry   *transformer.Registry
	loadConfig LoadConfigFunc
	resolve    transformer.ResolveFunc
	logger     *slog.Logger
	clock      clock.Clock

	artifacts *cache.Cache
	blobs     *cache.BlobStore

	// pipelines memoizes constructed pipelines by id. Stage configs
	// load once per chain; the config requests are replayed into each
	// request's accumulator so the outer graph still sees every
	// dependency.
	mu        sync.Mutex
	pipelines map[string]*loadedPipeline
}

// loadedPipeline is a constructed pipeline with its bound configs and
// the config requests its construction performed.
type loadedPipeline struct {
	pipeline *pipeline.Pipeline
	configs  []*transformer.Config
	requests []ConfigRequest
}

// NewDriver constructs a driver, opening (or creating) the blob and
// artifact caches under the configured cache directory.
func NewDriver(driverConfig DriverConfig) (*Driver, error) {
	options := driverConfig.Options
	if options == nil {
		return nil, fmt.Errorf("engine: options are required")
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid options: %w", err)
	}

	logger := driverConfig.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	blobs, err := cache.NewBlobStore(filepath.Join(options.CacheDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("engine: opening blob store: %w", err)
	}
	artifacts, err := cache.New(filepath.Join(options.CacheDir, "artifacts"), logger)
	if err != nil {
		return nil, fmt.Errorf("engine: opening artifact cache: %w", err)
	}

	driver := &Driver{
		options:    options,
		rules:      driverConfig.Rules,
		registry:   driverConfig.Registry,
		loadConfig: driverConfig.LoadConfig,
		resolve:    driverConfig.Resolve,
		logger:     logger,
		clock:      driverConfig.Clock,
		artifacts:  artifacts,
		blobs:      blobs,
		pipelines:  map[string]*loadedPipeline{},
	}
	if driver.rules == nil {
		driver.rules = config.DefaultRules()
	}
	if driver.registry == nil {
		driver.registry = transformer.Builtin()
	}
	if driver.loadConfig == nil {
		driver.loadConfig = defaultLoadConfig
	}
	if driver.resolve == nil {
		driver.resolve = relativeResolve
	}
	if driver.clock == nil {
		driver.clock = clock.Real()
	}
	return driver, nil
}

// Blobs returns the driver's blob store, for hosts that read committed
// content by output hash.
func (d *Driver) Blobs() *cache.BlobStore {
	return d.blobs
}

// defaultLoadConfig hands every plugin an empty, rehydratable config
// whose result hash covers only the plugin name. Hosts with real
// plugin configuration supply their own loader.
func defaultLoadConfig(ctx context.Context, request ConfigRequest) (*transformer.Config, error) {
	return &transformer.Config{
		PackageName: request.PluginName,
		ResultHash:  hash.Config([]byte(request.PluginName + "\x00default")),
		Rehydrate:   true,
	}, nil
}

// relativeResolve resolves specifiers against the importing file's
// directory. Real resolution (node_modules walks, aliases, extensions)
// belongs to the external resolver collaborator.
func relativeResolve(ctx context.Context, from, specifier string) (string, error) {
	if filepath.IsAbs(specifier) {
		return filepath.Clean(specifier), nil
	}
	return filepath.Join(filepath.Dir(from), specifier), nil
}

// typeFromPath derives the initial asset type: the file extension
// without the dot, defaulting to "js" for extensionless paths.
func typeFromPath(path string) string {
	extension := strings.TrimPrefix(filepath.Ext(path), ".")
	if extension == "" {
		return "js"
	}
	return extension
}
