// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"sort"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/hash"
)

// Config is the loaded configuration of one plugin, produced by the
// host's config loader. The engine treats the value as a black box
// keyed by package name; only the package name, result hash, and dev
// dependencies participate in cache keys.
type Config struct {
	// PackageName identifies the plugin the config belongs to.
	PackageName string `cbor:"package_name"`

	// ResultHash is a stable digest of the loaded config value.
	ResultHash hash.Digest `cbor:"result_hash"`

	// DevDeps are the (package, version) pairs the config load
	// depended on.
	DevDeps []DevDep `cbor:"dev_deps,omitempty"`

	// Rehydrate marks configs that can be restored from cache on
	// restart; false means the plugin must reload from disk. Consumed
	// by the host, opaque here.
	Rehydrate bool `cbor:"rehydrate,omitempty"`

	// ConnectedFiles are files read during config loading. They are
	// carried with the config only; the driver does not register them
	// on assets and they are not part of cache keys.
	ConnectedFiles []asset.ConnectedFile `cbor:"connected_files,omitempty"`

	// Value is the loaded config itself.
	Value any `cbor:"-"`
}

// DevDep is a development-time package dependency of a config load.
type DevDep struct {
	// Name is the package name.
	Name string `cbor:"name"`

	// Version is the resolved version.
	Version string `cbor:"version"`
}

// SortedDevDeps returns a copy of the config's dev dependencies in
// canonical order (name, then version). Cache-key material must not
// depend on discovery order.
func (c *Config) SortedDevDeps() []DevDep {
	deps := append([]DevDep{}, c.DevDeps...)
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Name != deps[j].Name {
			return deps[i].Name < deps[j].Name
		}
		return deps[i].Version < deps[j].Version
	})
	return deps
}
