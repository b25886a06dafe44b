// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Loom packages.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes data to name inside directory, creating parent
// directories as needed, and returns the full path. Fails the test on
// any error.
func WriteFile(t *testing.T, directory, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(directory, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// PatternBytes returns n bytes of a deterministic, mildly compressible
// pattern. Used for content-hash and blob tests where the exact bytes
// matter but randomness would make failures unreproducible.
func PatternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*7 + i/251) % 256)
	}
	return data
}
