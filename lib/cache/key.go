// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"sort"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/codec"
	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/transformer"
)

// AssetKey is the per-asset contribution to a cache key.
type AssetKey struct {
	FilePath    string      `cbor:"file_path"`
	Type        string      `cbor:"type"`
	ContentHash hash.Digest `cbor:"content_hash"`
}

// configKey is the per-config contribution to a cache key. Dev deps
// are pre-sorted and configs are ordered by package name before
// hashing, so discovery order never moves the key.
type configKey struct {
	PackageName string               `cbor:"package_name"`
	ResultHash  hash.Digest          `cbor:"result_hash"`
	DevDeps     []transformer.DevDep `cbor:"dev_deps,omitempty"`
}

// keyMaterial is the canonical structure a cache key is hashed over.
type keyMaterial struct {
	Assets    []AssetKey         `cbor:"assets"`
	Configs   []configKey        `cbor:"configs"`
	Env       *asset.Environment `cbor:"env,omitempty"`
	Impactful config.Impactful   `cbor:"impactful"`
}

// AssetKeyOf extracts the key contribution of a live asset.
func AssetKeyOf(a *asset.Asset) AssetKey {
	return AssetKey{
		FilePath:    a.FilePath(),
		Type:        a.Type(),
		ContentHash: a.ContentHash(),
	}
}

// Key computes the cache key over the full set of influences: the
// assets (in working order — order is semantic for the asset list),
// the pipeline's plugin configs, the target environment, and the
// impactful option subset. Canonicalization (config ordering, dev-dep
// ordering, deterministic encoding) makes the key stable across
// restarts and processes.
func Key(assets []AssetKey, configs []*transformer.Config, env *asset.Environment, impactful config.Impactful) (hash.Digest, error) {
	configKeys := make([]configKey, 0, len(configs))
	for _, c := range configs {
		if c == nil {
			continue
		}
		configKeys = append(configKeys, configKey{
			PackageName: c.PackageName,
			ResultHash:  c.ResultHash,
			DevDeps:     c.SortedDevDeps(),
		})
	}
	sort.Slice(configKeys, func(i, j int) bool {
		return configKeys[i].PackageName < configKeys[j].PackageName
	})

	material, err := codec.Marshal(keyMaterial{
		Assets:    assets,
		Configs:   configKeys,
		Env:       env,
		Impactful: impactful,
	})
	if err != nil {
		return hash.Digest{}, fmt.Errorf("encoding cache key material: %w", err)
	}

	return hash.Key(material), nil
}
