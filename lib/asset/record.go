// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"fmt"
	"time"

	"github.com/loom-build/loom/lib/hash"
	"github.com/loom-build/loom/lib/source"
)

// Record is the serializable form of a committed asset. Content is not
// inlined — the record references the blob cache by output hash, and
// rehydration reads the blob back.
type Record struct {
	ID          string       `cbor:"id"`
	IDBase      string       `cbor:"id_base"`
	FilePath    string       `cbor:"file_path"`
	Type        string       `cbor:"type"`
	Env         *Environment `cbor:"env,omitempty"`
	ContentHash hash.Digest  `cbor:"content_hash"`
	OutputHash  hash.Digest  `cbor:"output_hash"`
	Size        int64        `cbor:"size"`

	Map            []byte            `cbor:"map,omitempty"`
	Dependencies   []Dependency      `cbor:"dependencies,omitempty"`
	ConnectedFiles []ConnectedFile   `cbor:"connected_files,omitempty"`
	Symbols        map[string]string `cbor:"symbols,omitempty"`

	SideEffects bool           `cbor:"side_effects"`
	IsIsolated  bool           `cbor:"is_isolated,omitempty"`
	Meta        map[string]any `cbor:"meta,omitempty"`
	TimeNanos   int64          `cbor:"time_nanos,omitempty"`
}

// Record returns the serializable form of the asset. The asset must be
// committed — an uncommitted asset has no output hash, so its content
// is not yet addressable.
func (a *Asset) Record() (*Record, error) {
	if !a.committed {
		return nil, fmt.Errorf("asset %s: recording an uncommitted asset", a.id)
	}

	return &Record{
		ID:             a.id,
		IDBase:         a.idBase,
		FilePath:       a.filePath,
		Type:           a.assetType,
		Env:            a.env,
		ContentHash:    a.contentHash,
		OutputHash:     a.outputHash,
		Size:           a.stats.Size,
		Map:            a.mapBytes,
		Dependencies:   a.dependencies,
		ConnectedFiles: a.connected,
		Symbols:        a.symbols,
		SideEffects:    a.sideEffects,
		IsIsolated:     a.isolated,
		Meta:           a.meta,
		TimeNanos:      int64(a.stats.Time),
	}, nil
}

// FromRecord rehydrates a committed asset from its record, reading the
// content bytes back from the blob store. The read also warms the blob
// on a cache hit, which is exactly what the driver wants: a warm run
// must leave the blob store as populated as a cold one.
func FromRecord(record *Record, blobs BlobReader) (*Asset, error) {
	data, err := blobs.Get(record.OutputHash)
	if err != nil {
		return nil, fmt.Errorf("asset %s: reading content blob %s: %w",
			record.ID, hash.Short(record.OutputHash), err)
	}

	rehydrated := &Asset{
		id:             record.ID,
		idBase:         record.IDBase,
		filePath:       record.FilePath,
		assetType:      record.Type,
		env:            record.Env,
		content:        source.FromBytes(data),
		contentHash:    record.ContentHash,
		mapBytes:       record.Map,
		dependencies:   record.Dependencies,
		connected:      record.ConnectedFiles,
		connectedIndex: map[string]int{},
		symbols:        record.Symbols,
		sideEffects:    record.SideEffects,
		isolated:       record.IsIsolated,
		meta:           record.Meta,
		stats: Stats{
			Time: time.Duration(record.TimeNanos),
			Size: record.Size,
		},
		outputHash: record.OutputHash,
		committed:  true,
	}
	for i, file := range rehydrated.connected {
		rehydrated.connectedIndex[file.Path] = i
	}
	if rehydrated.symbols == nil {
		rehydrated.symbols = map[string]string{}
	}
	if rehydrated.meta == nil {
		rehydrated.meta = map[string]any{}
	}
	return rehydrated, nil
}
