// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Rule maps a file pattern to the ordered transformer chain that
// processes matching assets.
type Rule struct {
	// Pattern is a filepath.Match pattern applied to the file's base
	// name, e.g. "*.json" or "*.module.css".
	Pattern string `json:"pattern"`

	// Transformers is the ordered list of transformer names forming
	// the pipeline for matching files.
	Transformers []string `json:"transformers"`
}

// Rules is the ordered pipeline selection table. Rules are authored as
// JSONC (JSON extended with // comments, /* block comments */, and
// trailing commas) so selection files can be documented in place.
//
// Selection is first-match on the base name. When a transformer
// changes an asset's type, the driver re-selects using a synthetic
// path: the original path's stem with the extension replaced by the
// new type (a.ts emitting type "js" re-selects as "a.js"). Rules for
// intermediate types must therefore match on extension, not on any
// on-disk reality.
type Rules struct {
	Rules []Rule `json:"rules"`
}

// ParseRules strips JSONC comments and trailing commas from data, then
// unmarshals the selection table.
func ParseRules(data []byte) (*Rules, error) {
	stripped := jsonc.ToJSON(data)

	var rules Rules
	if err := json.Unmarshal(stripped, &rules); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// ReadRulesFile reads a JSONC rules file from disk.
func ReadRulesFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Validate checks every rule for a well-formed pattern and a non-empty
// chain.
func (r *Rules) Validate() error {
	for i, rule := range r.Rules {
		if rule.Pattern == "" {
			return fmt.Errorf("rule %d: pattern is required", i)
		}
		if _, err := filepath.Match(rule.Pattern, "probe"); err != nil {
			return fmt.Errorf("rule %d: invalid pattern %q: %w", i, rule.Pattern, err)
		}
		if len(rule.Transformers) == 0 {
			return fmt.Errorf("rule %d (%s): at least one transformer is required", i, rule.Pattern)
		}
	}
	return nil
}

// Select returns the transformer chain for filePath: the first rule
// whose pattern matches the base name wins.
func (r *Rules) Select(filePath string) ([]string, error) {
	base := filepath.Base(filePath)
	for _, rule := range r.Rules {
		matched, err := filepath.Match(rule.Pattern, base)
		if err != nil {
			return nil, fmt.Errorf("matching %q against %q: %w", base, rule.Pattern, err)
		}
		if matched {
			return rule.Transformers, nil
		}
	}
	return nil, fmt.Errorf("no pipeline rule matches %s", filePath)
}

// SyntheticPath returns the re-dispatch path for an asset whose type
// changed: the original path's stem with the extension replaced by the
// new type.
func SyntheticPath(filePath, newType string) string {
	extension := filepath.Ext(filePath)
	return strings.TrimSuffix(filePath, extension) + "." + newType
}

// DefaultRules returns the built-in selection table covering the
// transformers that ship with the engine.
func DefaultRules() *Rules {
	return &Rules{Rules: []Rule{
		{Pattern: "*.json", Transformers: []string{"json"}},
		{Pattern: "*.txt", Transformers: []string{"text"}},
		{Pattern: "*.md", Transformers: []string{"text"}},
		{Pattern: "*", Transformers: []string{"raw"}},
	}}
}
