// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/loom-build/loom/lib/testutil"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default options should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "loom.yaml", []byte(`
project_root: /work/app
cache_dir: /work/app/.loom-cache
cache: false
minify: true
source_maps: false
`))

	options, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if options.ProjectRoot != "/work/app" {
		t.Errorf("ProjectRoot = %q", options.ProjectRoot)
	}
	if options.CacheDir != "/work/app/.loom-cache" {
		t.Errorf("CacheDir = %q", options.CacheDir)
	}
	if options.CacheEnabled {
		t.Error("cache: false should disable cache reads")
	}
	if !options.Minify {
		t.Error("minify: true not applied")
	}
	if options.SourceMaps {
		t.Error("source_maps: false not applied")
	}
	if options.InputFS == nil {
		t.Error("InputFS default lost on load")
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	t.Setenv("LOOM_TEST_ROOT", "/expanded")
	path := testutil.WriteFile(t, t.TempDir(), "loom.yaml", []byte(`
project_root: ${LOOM_TEST_ROOT}/app
cache_dir: ${LOOM_TEST_MISSING:-/fallback}/cache
`))

	options, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if options.ProjectRoot != "/expanded/app" {
		t.Errorf("ProjectRoot = %q", options.ProjectRoot)
	}
	if options.CacheDir != "/fallback/cache" {
		t.Errorf("CacheDir = %q", options.CacheDir)
	}
}

func TestOptionsHash(t *testing.T) {
	base := Default()
	same := Default()
	if base.OptionsHash() != same.OptionsHash() {
		t.Error("equal options should hash equally")
	}

	minified := Default()
	minified.Minify = true
	if base.OptionsHash() == minified.OptionsHash() {
		t.Error("minify should change the options hash")
	}

	// Non-impactful options must not move the hash.
	differentCache := Default()
	differentCache.CacheDir = "/elsewhere"
	differentCache.SourceMaps = false
	if base.OptionsHash() != differentCache.OptionsHash() {
		t.Error("non-impactful options leaked into the options hash")
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	options := Default()
	options.CacheDir = ""
	options.InputFS = nil
	err := options.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
}
