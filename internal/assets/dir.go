// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package assets serves fetchAsset requests from a local directory.
//
// URIs are either package://<path> or a bare relative path. Both resolve
// inside the configured root; the lookup goes through os.Root, so symlinks
// and ".." cannot escape it.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// PackageScheme prefixes package-relative asset URIs.
const PackageScheme = "package://"

var (
	// ErrNotFound is returned when no asset exists at the URI.
	ErrNotFound = errors.New("asset not found")
	// ErrInvalidURI is returned for URIs outside the root or with an
	// unsupported scheme.
	ErrInvalidURI = errors.New("invalid asset uri")
	// ErrTooLarge is returned when an asset exceeds the size limit.
	ErrTooLarge = errors.New("asset too large")
)

// Dir fetches assets below a root directory.
type Dir struct {
	root    *os.Root
	maxSize int64
}

// OpenDir opens root for fetching. maxSize bounds a single asset in bytes.
func OpenDir(root string, maxSize int64) (*Dir, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("assets: max size must be positive, got %d", maxSize)
	}
	r, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("assets: open root %s: %w", root, err)
	}
	return &Dir{root: r, maxSize: maxSize}, nil
}

// Close releases the root directory.
func (d *Dir) Close() error { return d.root.Close() }

// FetchAsset returns the contents of the asset at uri.
func (d *Dir) FetchAsset(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := resolve(uri)
	if err != nil {
		return nil, err
	}

	f, err := d.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURI, uri, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat asset %s: %w", uri, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, uri)
	}
	if info.Size() > d.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, uri, info.Size(), d.maxSize)
	}

	// The file may grow between Stat and the read.
	data, err := io.ReadAll(io.LimitReader(f, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", uri, err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, uri, d.maxSize)
	}
	return data, nil
}

// resolve maps uri to a slash-separated name relative to the root.
func resolve(uri string) (string, error) {
	p := uri
	if rest, ok := strings.CutPrefix(uri, PackageScheme); ok {
		p = rest
	} else if strings.Contains(uri, "://") {
		return "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURI, uri)
	}
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q leaves the asset root", ErrInvalidURI, uri)
	}
	return clean, nil
}
