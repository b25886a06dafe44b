// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/source"
)

// ReadConfig searches for an ancillary config file by walking from the
// asset's directory up to (and including) stopDir, probing each
// candidate name per directory in order. The first hit is read, its
// hash registered as a connected file on the asset, and its path and
// bytes returned. A clean not-found returns empty results without
// error; read failures surface as *source.ContentReadError.
//
// This is how transformers pick up rc files: the connected-file
// registration is what makes the outer graph re-run the asset when the
// rc file changes.
func (a *Asset) ReadConfig(ctx context.Context, filesystem source.FS, names []string, stopDir string) (string, []byte, error) {
	if err := a.mutable("ReadConfig"); err != nil {
		return "", nil, err
	}
	if len(names) == 0 {
		return "", nil, fmt.Errorf("asset %s: ReadConfig with no candidate names", a.id)
	}

	directory := filepath.Dir(a.filePath)
	stop := filepath.Clean(stopDir)

	for {
		for _, name := range names {
			candidate := filepath.Join(directory, name)
			if _, err := filesystem.Stat(candidate); err != nil {
				continue
			}

			data, err := readAll(ctx, filesystem, candidate)
			if err != nil {
				return "", nil, err
			}
			if err := a.AddConnectedFile(ConnectedFile{
				Path: candidate,
				Hash: hash.Content(data),
			}); err != nil {
				return "", nil, err
			}
			return candidate, data, nil
		}

		if directory == stop {
			break
		}
		parent := filepath.Dir(directory)
		if parent == directory {
			break
		}
		directory = parent
	}

	return "", nil, nil
}

func readAll(ctx context.Context, filesystem source.FS, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := filesystem.Open(path)
	if err != nil {
		return nil, &source.ContentReadError{Path: path, Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &source.ContentReadError{Path: path, Err: err}
	}
	return data, nil
}
