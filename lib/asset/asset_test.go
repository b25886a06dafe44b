// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/source"
)

// memoryBlobs is an in-memory blob store for tests.
type memoryBlobs struct {
	blobs map[hash.Digest][]byte
	puts  int
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: map[hash.Digest][]byte{}}
}

func (m *memoryBlobs) Put(digest hash.Digest, data []byte) error {
	m.puts++
	m.blobs[digest] = append([]byte{}, data...)
	return nil
}

func (m *memoryBlobs) Get(digest hash.Digest) ([]byte, error) {
	data, ok := m.blobs[digest]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", hash.Short(digest))
	}
	return data, nil
}

func newTestAsset(t *testing.T, code string) *Asset {
	t.Helper()
	data := []byte(code)
	return New(Options{
		IDBase:      "src/a.txt",
		FilePath:    "src/a.txt",
		Type:        "txt",
		Env:         &Environment{Context: "browser", Engines: map[string]string{"chrome": ">=80"}},
		Content:     source.FromBytes(data),
		ContentHash: hash.Content(data),
		SideEffects: true,
	})
}

func TestIDDerivation(t *testing.T) {
	env := &Environment{Context: "browser"}
	base := New(Options{IDBase: "a", Type: "js", Env: env})

	same := New(Options{IDBase: "a", Type: "js", Env: env})
	if base.ID() != same.ID() {
		t.Error("identical inputs produced different ids")
	}

	differentType := New(Options{IDBase: "a", Type: "css", Env: env})
	if base.ID() == differentType.ID() {
		t.Error("type should participate in the id")
	}

	differentEnv := New(Options{IDBase: "a", Type: "js", Env: &Environment{Context: "node"}})
	if base.ID() == differentEnv.ID() {
		t.Error("environment should participate in the id")
	}

	differentBase := New(Options{IDBase: "b", Type: "js", Env: env})
	if base.ID() == differentBase.ID() {
		t.Error("idBase should participate in the id")
	}
}

func TestIDSurvivesTypeChange(t *testing.T) {
	a := newTestAsset(t, "code")
	id := a.ID()
	if err := a.SetType("js"); err != nil {
		t.Fatalf("SetType failed: %v", err)
	}
	if a.ID() != id {
		t.Error("id changed after SetType")
	}
	if a.Type() != "js" {
		t.Errorf("Type = %q, want js", a.Type())
	}
}

func TestChildInheritance(t *testing.T) {
	parent := newTestAsset(t, "parent code")
	parent.AddDependency(Dependency{Specifier: "./dep", Priority: "sync"})
	parent.AddConnectedFile(ConnectedFile{Path: ".rc", Hash: hash.Content([]byte("rc"))})

	child := parent.Child(ChildSpec{
		Type:         "js",
		Content:      source.FromBytes([]byte("child code")),
		Dependencies: []Dependency{{Specifier: "./extra"}},
	})

	if child.Environment() != parent.Environment() {
		t.Error("child should share the parent's environment by reference")
	}
	if !child.SideEffects() {
		t.Error("child should inherit the parent's side-effects flag")
	}
	if child.Type() != "js" {
		t.Errorf("child type = %q", child.Type())
	}
	if child.ID() == parent.ID() {
		t.Error("child id should differ from parent id")
	}

	deps := child.Dependencies()
	if len(deps) != 2 || deps[0].Specifier != "./dep" || deps[1].Specifier != "./extra" {
		t.Errorf("child dependencies = %+v", deps)
	}
	if len(child.ConnectedFiles()) != 1 || child.ConnectedFiles()[0].Path != ".rc" {
		t.Errorf("child connected files = %+v", child.ConnectedFiles())
	}
	if child.ContentHash() != hash.Content([]byte("child code")) {
		t.Error("buffered child content should be hashed at creation")
	}
}

func TestChildOverrides(t *testing.T) {
	parent := newTestAsset(t, "parent")
	noSideEffects := false
	otherEnv := &Environment{Context: "node"}

	child := parent.Child(ChildSpec{
		Type:        "css",
		Content:     source.FromBytes([]byte("body{}")),
		Environment: otherEnv,
		SideEffects: &noSideEffects,
		IsIsolated:  true,
		Meta:        map[string]any{"origin": "split"},
		Symbols:     map[string]string{"default": "style"},
	})

	if child.Environment() != otherEnv {
		t.Error("spec environment should override the parent's")
	}
	if child.SideEffects() {
		t.Error("spec side-effects should override the parent's")
	}
	if !child.IsIsolated() {
		t.Error("isolation flag lost")
	}
	if child.Meta()["origin"] != "split" {
		t.Error("meta lost")
	}
	if child.Symbols()["default"] != "style" {
		t.Error("symbols lost")
	}
}

func TestCommitFreezesAsset(t *testing.T) {
	a := newTestAsset(t, "final content")
	blobs := newMemoryBlobs()

	if err := a.Commit(context.Background(), blobs, hash.Digest{}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if !a.Committed() {
		t.Fatal("asset not marked committed")
	}
	if a.OutputHash().IsZero() {
		t.Fatal("output hash not assigned")
	}
	if _, err := blobs.Get(a.OutputHash()); err != nil {
		t.Fatalf("blob not written: %v", err)
	}
	if a.Stats().Size != int64(len("final content")) {
		t.Errorf("Stats.Size = %d", a.Stats().Size)
	}

	// Every mutator must fail with *FrozenError after commit.
	mutations := map[string]func() error{
		"SetBytes":         func() error { return a.SetBytes([]byte("x")) },
		"SetCode":          func() error { return a.SetCode("x") },
		"SetStream":        func() error { return a.SetStream(source.Content{}) },
		"SetAST":           func() error { return a.SetAST(&AST{Dialect: "d"}) },
		"SetMap":           func() error { return a.SetMap([]byte("m")) },
		"SetType":          func() error { return a.SetType("js") },
		"AddDependency":    func() error { return a.AddDependency(Dependency{Specifier: "./x"}) },
		"AddConnectedFile": func() error { return a.AddConnectedFile(ConnectedFile{Path: "p"}) },
		"SetSymbol":        func() error { return a.SetSymbol("a", "b") },
		"SetSideEffects":   func() error { return a.SetSideEffects(false) },
		"SetIsolated":      func() error { return a.SetIsolated(true) },
		"SetMeta":          func() error { return a.SetMeta("k", "v") },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			err := mutate()
			var frozen *FrozenError
			if !errors.As(err, &frozen) {
				t.Errorf("%s after commit = %v, want *FrozenError", name, err)
			}
		})
	}
}

func TestCommitIdempotence(t *testing.T) {
	blobs := newMemoryBlobs()

	first := newTestAsset(t, "same bytes")
	if err := first.Commit(context.Background(), blobs, hash.Digest{}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Committing again is a no-op.
	putsAfterFirst := blobs.puts
	if err := first.Commit(context.Background(), blobs, hash.Digest{}); err != nil {
		t.Fatalf("repeated Commit failed: %v", err)
	}
	if blobs.puts != putsAfterFirst {
		t.Error("repeated commit should not rewrite the blob")
	}

	// A second asset with identical bytes commits to the same blob key.
	second := newTestAsset(t, "same bytes")
	if err := second.Commit(context.Background(), blobs, hash.Digest{}); err != nil {
		t.Fatalf("Commit(second) failed: %v", err)
	}
	if second.OutputHash() != first.OutputHash() {
		t.Error("identical bytes should commit to the same blob key")
	}

	// Different bytes commit to a different key.
	third := newTestAsset(t, "different bytes")
	if err := third.Commit(context.Background(), blobs, hash.Digest{}); err != nil {
		t.Fatalf("Commit(third) failed: %v", err)
	}
	if third.OutputHash() == first.OutputHash() {
		t.Error("different bytes should commit to a different blob key")
	}
}

func TestCommitOptionsSensitivity(t *testing.T) {
	blobs := newMemoryBlobs()

	plain := newTestAsset(t, "same bytes")
	if err := plain.Commit(context.Background(), blobs, hash.Digest{}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	minified := newTestAsset(t, "same bytes")
	if err := minified.Commit(context.Background(), blobs, hash.Content([]byte("minify"))); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if plain.OutputHash() == minified.OutputHash() {
		t.Error("impactful options should participate in the output hash")
	}
}

func TestCommitRejectsUnregeneratedAST(t *testing.T) {
	a := newTestAsset(t, "code")
	a.SetAST(&AST{Dialect: "loom-json", Program: map[string]any{}})

	err := a.Commit(context.Background(), newMemoryBlobs(), hash.Digest{})
	if err == nil {
		t.Fatal("Commit with attached AST should fail")
	}
}

func TestRecordRoundtrip(t *testing.T) {
	blobs := newMemoryBlobs()

	original := newTestAsset(t, "record me")
	original.AddDependency(Dependency{Specifier: "./d", SpecifierType: "esm", Priority: "sync"})
	original.AddConnectedFile(ConnectedFile{Path: ".rc", Hash: hash.Content([]byte("rc"))})
	original.SetSymbol("default", "main")
	original.SetMeta("kind", "test")
	if err := original.Commit(context.Background(), blobs, hash.Digest{}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	record, err := original.Record()
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rehydrated, err := FromRecord(record, blobs)
	if err != nil {
		t.Fatalf("FromRecord failed: %v", err)
	}

	if rehydrated.ID() != original.ID() ||
		rehydrated.Type() != original.Type() ||
		rehydrated.OutputHash() != original.OutputHash() {
		t.Error("identity fields did not roundtrip")
	}
	if !rehydrated.Committed() {
		t.Error("rehydrated asset should be committed")
	}

	code, err := rehydrated.Code(context.Background())
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if code != "record me" {
		t.Errorf("rehydrated code = %q", code)
	}
	if len(rehydrated.Dependencies()) != 1 || rehydrated.Dependencies()[0].Specifier != "./d" {
		t.Errorf("dependencies did not roundtrip: %+v", rehydrated.Dependencies())
	}
	if rehydrated.Symbols()["default"] != "main" {
		t.Error("symbols did not roundtrip")
	}
}

func TestRecordRequiresCommit(t *testing.T) {
	a := newTestAsset(t, "uncommitted")
	if _, err := a.Record(); err == nil {
		t.Error("Record on an uncommitted asset should fail")
	}
}

func TestEnvironmentHash(t *testing.T) {
	first := &Environment{Context: "browser", Engines: map[string]string{"chrome": ">=80", "firefox": ">=70"}}
	second := &Environment{Context: "browser", Engines: map[string]string{"firefox": ">=70", "chrome": ">=80"}}

	if first.Hash() != second.Hash() {
		t.Error("equal environments should hash equally regardless of map order")
	}
	if first.Hash() == (&Environment{Context: "node"}).Hash() {
		t.Error("different environments should hash differently")
	}
	if !(*Environment)(nil).Hash().IsZero() {
		t.Error("nil environment should hash to zero")
	}
}
