// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/source"
)

// jsonDialect tags ASTs produced by the JSON transformer. Stages
// compare dialect and version before accepting a predecessor's tree.
const (
	jsonDialect        = "loom-json"
	jsonDialectVersion = "1"
)

// utf8BOM is the UTF-8 byte order mark some editors prepend.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Text is the built-in transformer for plain-text assets. It strips a
// leading UTF-8 BOM and otherwise passes content through.
type Text struct{}

// Name implements Transformer.
func (*Text) Name() string { return "text" }

// Transform implements Transformer.
func (*Text) Transform(ctx context.Context, a *asset.Asset, tctx *Context) ([]Result, error) {
	data, err := a.Bytes(ctx)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, utf8BOM) {
		if err := a.SetBytes(data[len(utf8BOM):]); err != nil {
			return nil, err
		}
	}
	return []Result{{Asset: a}}, nil
}

// JSON is the built-in transformer for JSON assets. It parses content
// into a tree, normalizes the emitted form (compact under minify,
// two-space indent otherwise), and — when its plugin config sets
// "emitModule" — additionally fans out a CommonJS wrapper asset of
// type "js", which the driver re-dispatches to the JavaScript
// pipeline.
type JSON struct{}

// Name implements Transformer.
func (*JSON) Name() string { return "json" }

// CanReuseAST implements ASTReuser.
func (*JSON) CanReuseAST(ast *asset.AST, options *config.Options) bool {
	return ast.Dialect == jsonDialect && ast.DialectVersion == jsonDialectVersion
}

// Parse implements Parser.
func (*JSON) Parse(ctx context.Context, a *asset.Asset, tctx *Context) (*asset.AST, error) {
	data, err := a.Bytes(ctx)
	if err != nil {
		return nil, err
	}

	var program any
	if err := json.Unmarshal(data, &program); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", a.FilePath(), err)
	}

	return &asset.AST{
		Dialect:        jsonDialect,
		DialectVersion: jsonDialectVersion,
		Program:        program,
	}, nil
}

// Transform implements Transformer.
func (*JSON) Transform(ctx context.Context, a *asset.Asset, tctx *Context) ([]Result, error) {
	results := []Result{{Asset: a}}

	if emitModule(tctx.Config) {
		compact, err := json.Marshal(a.AST().Program)
		if err != nil {
			return nil, fmt.Errorf("serializing JSON tree for %s: %w", a.FilePath(), err)
		}
		results = append(results, Result{Spec: &asset.ChildSpec{
			Type:    "js",
			Content: source.FromBytes([]byte("module.exports = " + string(compact) + ";\n")),
			Meta:    map[string]any{"origin": "json-module"},
		}})
	}

	return results, nil
}

// Generate implements Generator.
func (*JSON) Generate(ctx context.Context, a *asset.Asset, tctx *Context) (Generated, error) {
	program := a.AST().Program

	var code []byte
	var err error
	if tctx.Options != nil && tctx.Options.Minify {
		code, err = json.Marshal(program)
	} else {
		code, err = json.MarshalIndent(program, "", "  ")
	}
	if err != nil {
		return Generated{}, fmt.Errorf("generating JSON for %s: %w", a.FilePath(), err)
	}

	return Generated{Code: append(code, '\n')}, nil
}

// emitModule reports whether the stage config asks for a CommonJS
// wrapper child.
func emitModule(c *Config) bool {
	if c == nil {
		return false
	}
	value, ok := c.Value.(map[string]any)
	if !ok {
		return false
	}
	emit, _ := value["emitModule"].(bool)
	return emit
}

// Raw is the built-in transformer for binary assets the engine should
// not interpret: it marks the asset isolated and passes the bytes
// through untouched, streams included.
type Raw struct{}

// Name implements Transformer.
func (*Raw) Name() string { return "raw" }

// Transform implements Transformer.
func (*Raw) Transform(ctx context.Context, a *asset.Asset, tctx *Context) ([]Result, error) {
	if err := a.SetIsolated(true); err != nil {
		return nil, err
	}
	return []Result{{Asset: a}}, nil
}
