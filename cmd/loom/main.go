// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/loom-build/loom/lib/asset"
	"github.com/loom-build/loom/lib/config"
	"github.com/loom-build/loom/lib/engine"
	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "loom: %v\n", err)
		os.Exit(1)
	}
}

func run(arguments []string) error {
	flags := pflag.NewFlagSet("loom", pflag.ContinueOnError)
	optionsPath := flags.String("config", "", "path to a loom.yaml options file")
	rulesPath := flags.String("rules", "", "path to a JSONC pipeline rules file")
	cacheDir := flags.String("cache-dir", "", "cache directory (overrides the options file)")
	noCache := flags.Bool("no-cache", false, "disable cache reads")
	minify := flags.Bool("minify", false, "minify generated output")
	hmr := flags.Bool("hmr", false, "emit hot-module-replacement annotations")
	scopeHoist := flags.Bool("scope-hoist", false, "enable scope hoisting")
	sourceMaps := flags.Bool("source-maps", true, "emit source maps")
	projectRoot := flags.String("project-root", "", "project root (overrides the options file)")
	targetContext := flags.String("context", "browser", "target context (browser, node)")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")
	showVersion := flags.Bool("version", false, "print the loom version")

	if err := flags.Parse(arguments); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println("loom " + version.Version)
		return nil
	}

	remaining := flags.Args()
	if len(remaining) < 1 || remaining[0] != "transform" {
		return fmt.Errorf("usage: loom transform [flags] <file>...")
	}
	files := remaining[1:]
	if len(files) == 0 {
		return fmt.Errorf("no input files")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	options, err := loadOptions(*optionsPath)
	if err != nil {
		return err
	}
	if *cacheDir != "" {
		options.CacheDir = *cacheDir
	}
	if *projectRoot != "" {
		options.ProjectRoot = *projectRoot
	}
	if *noCache {
		options.CacheEnabled = false
	}
	options.Minify = *minify
	options.HMR = *hmr
	options.ScopeHoist = *scopeHoist
	options.SourceMaps = *sourceMaps

	rules, err := loadRules(*rulesPath)
	if err != nil {
		return err
	}

	driver, err := engine.NewDriver(engine.DriverConfig{
		Options: options,
		Rules:   rules,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	env := &asset.Environment{Context: *targetContext}
	ctx := context.Background()

	for _, file := range files {
		result, err := driver.Run(ctx, engine.Request{FilePath: file, Env: env})
		if err != nil {
			return err
		}
		for _, a := range result.Assets {
			fmt.Printf("%s  %-4s  %8d  %s\n",
				a.ID(), a.Type(), a.Stats().Size, hash.Format(a.OutputHash()))
		}
	}
	return nil
}

func loadOptions(path string) (*config.Options, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func loadRules(path string) (*config.Rules, error) {
	if path == "" {
		return config.DefaultRules(), nil
	}
	return config.ReadRulesFile(path)
}
