// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressionTag identifies the algorithm a blob was compressed with.
// Tags are stored in the blob header (1 byte) — the values are format
// constants, and changing them breaks every existing blob file.
type compressionTag uint8

const (
	// compressionNone marks uncompressed data, used when content is
	// already compressed (images, archives) and compression would
	// cost CPU without saving bytes.
	compressionNone compressionTag = 0

	// compressionLZ4 marks LZ4 block compression, the fast default
	// for modestly compressible binary content.
	compressionLZ4 compressionTag = 1

	// compressionZstd marks zstd at its default level, used when the
	// probe shows text-like ratios.
	compressionZstd compressionTag = 2
)

// String returns the tag's human-readable name.
func (tag compressionTag) String() string {
	switch tag {
	case compressionNone:
		return "none"
	case compressionLZ4:
		return "lz4"
	case compressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned when compressed output would not be
// smaller than the input; callers fall back to compressionNone.
var errIncompressible = fmt.Errorf("data is incompressible")

// compressAuto compresses data with the algorithm the probe selects,
// returning the payload and the tag actually used. Incompressible data
// comes back unchanged under compressionNone.
func compressAuto(data []byte) ([]byte, compressionTag) {
	if len(data) == 0 {
		return data, compressionNone
	}

	// Probe with zstd and pick by ratio: strong ratios keep zstd,
	// modest ones prefer LZ4's much faster decode, anything near 1x
	// stays raw.
	probe := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(probe))

	switch {
	case ratio >= 1.5:
		return probe, compressionZstd
	case ratio >= 1.1:
		compressed, err := compressLZ4(data)
		if err != nil {
			return data, compressionNone
		}
		return compressed, compressionLZ4
	default:
		return data, compressionNone
	}
}

// decompress reverses a compressed payload. The uncompressedSize must
// match the original length exactly; a mismatch is data corruption and
// returns an error.
func decompress(payload []byte, tag compressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case compressionNone:
		if len(payload) != uncompressedSize {
			return nil, fmt.Errorf("raw blob: size %d does not match expected %d",
				len(payload), uncompressedSize)
		}
		return payload, nil

	case compressionLZ4:
		return decompressLZ4(payload, uncompressedSize)

	case compressionZstd:
		destination := make([]byte, 0, uncompressedSize)
		result, err := zstdDecoder.DecodeAll(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d",
				len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 when the data is incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(payload []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(payload, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}
