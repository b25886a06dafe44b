// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides the engine's build options and the pipeline
// selection rules.
//
// Options load from a single YAML file with no automatic discovery —
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed is ${VAR} substitution in paths for
// portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/loom-build/loom/lib/codec"
	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/source"
)

// Options is the engine configuration for one build.
type Options struct {
	// ProjectRoot anchors relative source-map paths and bounds the
	// upward search for transformer rc files.
	ProjectRoot string `yaml:"project_root"`

	// CacheDir is the directory the artifact and blob caches persist
	// under.
	CacheDir string `yaml:"cache_dir"`

	// CacheEnabled gates cache reads. When false, both cache lookups
	// are skipped; writes still occur so later consumers reading by
	// key stay consistent.
	CacheEnabled bool `yaml:"cache"`

	// Minify requests minified output from generators.
	Minify bool `yaml:"minify"`

	// HMR enables hot-module-replacement annotations.
	HMR bool `yaml:"hmr"`

	// ScopeHoist enables scope hoisting in downstream packaging.
	ScopeHoist bool `yaml:"scope_hoist"`

	// SourceMaps controls whether generators emit source maps.
	SourceMaps bool `yaml:"source_maps"`

	// InputFS is the filesystem sources are read through. Runtime
	// state, not configuration.
	InputFS source.FS `yaml:"-"`
}

// Impactful is the subset of options that changes transformation
// output and therefore participates in cache keys and per-asset commit
// hashes. Field order is fixed; the struct is hashed via deterministic
// encoding.
type Impactful struct {
	Minify     bool `cbor:"minify"`
	HMR        bool `cbor:"hmr"`
	ScopeHoist bool `cbor:"scope_hoist"`
}

// Impactful returns the cache-key-relevant option subset.
func (o *Options) Impactful() Impactful {
	return Impactful{
		Minify:     o.Minify,
		HMR:        o.HMR,
		ScopeHoist: o.ScopeHoist,
	}
}

// OptionsHash returns the content-domain digest of the impactful
// options. This digest is folded into every committed asset's output
// hash.
func (o *Options) OptionsHash() hash.Digest {
	encoded, err := codec.Marshal(o.Impactful())
	if err != nil {
		// Three booleans; deterministic encoding cannot fail.
		panic("config: encoding impactful options: " + err.Error())
	}
	return hash.Content(encoded)
}

// Default returns the default options: caching on in a per-user cache
// directory, development-flavored output (no minification), source
// maps on, reading from the operating system filesystem.
func Default() *Options {
	homeDir, _ := os.UserHomeDir()

	return &Options{
		ProjectRoot:  ".",
		CacheDir:     filepath.Join(homeDir, ".cache", "loom"),
		CacheEnabled: true,
		SourceMaps:   true,
		InputFS:      source.OSFS{},
	}
}

// LoadFile loads options from a YAML file, merging over the defaults,
// then expands ${VAR} references in paths.
func LoadFile(path string) (*Options, error) {
	options := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options file: %w", err)
	}
	if err := yaml.Unmarshal(data, options); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	options.expandVariables()
	return options, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (o *Options) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	o.ProjectRoot = expandVars(o.ProjectRoot, vars)
	o.CacheDir = expandVars(o.CacheDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	var errs []error

	if o.CacheDir == "" {
		errs = append(errs, fmt.Errorf("cache_dir is required"))
	}
	if o.ProjectRoot == "" {
		errs = append(errs, fmt.Errorf("project_root is required"))
	}
	if o.InputFS == nil {
		errs = append(errs, fmt.Errorf("input filesystem is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
