// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package source resolves transformation requests to asset content. A
// source file is read exactly once: the bytes stream through a
// content-domain hasher and a size counter, and accumulate in memory
// only while the file stays under BufferThreshold. Larger files become
// re-openable stream handles so the engine's memory stays bounded no
// matter the input size.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/loom-build/loom/lib/hash"
)

// BufferThreshold is the size above which file content is held as a
// re-openable stream instead of an in-memory buffer.
const BufferThreshold = 5 << 20 // 5 MiB

// readChunkSize is the unit of the streaming read loop.
const readChunkSize = 64 << 10

// FS is the read-only filesystem the engine loads sources through.
// Injected so tests can fake unreadable files and so hosts can root
// reads somewhere other than the process filesystem.
type FS interface {
	// Open opens the named file for reading.
	Open(name string) (io.ReadCloser, error)

	// Stat returns file metadata for the named file.
	Stat(name string) (fs.FileInfo, error)
}

// OSFS is the FS backed by the operating system filesystem.
type OSFS struct{}

// Open opens the named file.
func (OSFS) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// Stat stats the named file.
func (OSFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// Content is asset content: exactly one of an in-memory buffer or a
// re-openable stream handle over a file path. The zero value is an
// empty buffer.
type Content struct {
	buffer     []byte
	filesystem FS
	path       string
	size       int64
	isStream   bool
}

// FromBytes returns buffered content over data. The slice is not
// copied; the caller must not mutate it afterwards.
func FromBytes(data []byte) Content {
	return Content{buffer: data, size: int64(len(data))}
}

// FromStream returns stream content that re-opens path on every read.
func FromStream(filesystem FS, path string, size int64) Content {
	return Content{filesystem: filesystem, path: path, size: size, isStream: true}
}

// IsStream reports whether the content is a re-openable stream rather
// than an in-memory buffer.
func (c Content) IsStream() bool {
	return c.isStream
}

// Size returns the content length in bytes.
func (c Content) Size() int64 {
	return c.size
}

// Reader returns a reader over the content. Stream content re-opens
// the underlying file; the caller must close the reader.
func (c Content) Reader(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.isStream {
		return io.NopCloser(bytes.NewReader(c.buffer)), nil
	}
	reader, err := c.filesystem.Open(c.path)
	if err != nil {
		return nil, &ContentReadError{Path: c.path, Err: err}
	}
	return reader, nil
}

// Bytes materializes the full content in memory. For buffered content
// this returns the buffer without copying; for stream content it
// re-opens and reads the file.
func (c Content) Bytes(ctx context.Context) ([]byte, error) {
	if !c.isStream {
		return c.buffer, nil
	}
	reader, err := c.Reader(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &ContentReadError{Path: c.path, Err: err}
	}
	return data, nil
}

// Text materializes the content as a string.
func (c Content) Text(ctx context.Context) (string, error) {
	data, err := c.Bytes(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Read resolves the file at path to content, its size, and its
// content-domain digest in a single pass. Bytes feed the hasher and a
// size counter while accumulating in a buffer; if the cumulative size
// crosses BufferThreshold the buffer is dropped and the result is a
// stream handle over the original path. The digest is identical on
// both sides of the threshold — it is always computed over the full
// byte stream.
func Read(ctx context.Context, filesystem FS, path string) (Content, int64, hash.Digest, error) {
	file, err := filesystem.Open(path)
	if err != nil {
		return Content{}, 0, hash.Digest{}, &ContentReadError{Path: path, Err: err}
	}
	defer file.Close()

	hasher := hash.NewContent()
	var buffer bytes.Buffer
	var size int64
	buffering := true

	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return Content{}, 0, hash.Digest{}, err
		}

		n, readErr := file.Read(chunk)
		if n > 0 {
			hasher.Write(chunk[:n])
			size += int64(n)
			if buffering {
				buffer.Write(chunk[:n])
				if size > BufferThreshold {
					buffering = false
					buffer = bytes.Buffer{}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Content{}, 0, hash.Digest{}, &ContentReadError{Path: path, Err: readErr}
		}
	}

	digest := hasher.Sum()
	if buffering {
		return FromBytes(buffer.Bytes()), size, digest, nil
	}
	return FromStream(filesystem, path, size), size, digest, nil
}

// ContentReadError reports that a source is unavailable or unreadable.
// Fatal to the enclosing transformation request.
type ContentReadError struct {
	// Path is the file that could not be read.
	Path string

	// Err is the underlying cause.
	Err error
}

func (e *ContentReadError) Error() string {
	return fmt.Sprintf("reading source %s: %v", e.Path, e.Err)
}

func (e *ContentReadError) Unwrap() error {
	return e.Err
}
