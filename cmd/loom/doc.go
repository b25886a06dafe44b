// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Command loom runs the asset transformation engine over source files.
//
// Usage:
//
//	loom transform [flags] <file>...
//
// Each file is resolved, driven through the transformer pipeline its
// path selects, re-dispatched across pipelines on type changes, and
// committed to the content-addressed cache. The resulting assets are
// printed one per line with their id, type, size, and output hash.
package main
