// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testDir(t *testing.T, maxSize int64) *Dir {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "robot", "meshes"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"robot/meshes/base.stl": "solid base",
		"robot/model.urdf":      "<robot/>",
		"big.bin":               "0123456789",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	d, err := OpenDir(root, maxSize)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestFetchAsset(t *testing.T) {
	d := testDir(t, 8)

	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr error
	}{
		{"package uri", "package://robot/model.urdf", "<robot/>", nil},
		{"relative path", "robot/model.urdf", "<robot/>", nil},
		{"package uri cleaned", "package://robot/meshes/../model.urdf", "<robot/>", nil},
		{"missing", "package://robot/none.stl", "", ErrNotFound},
		{"directory", "robot", "", ErrNotFound},
		{"over limit", "big.bin", "", ErrTooLarge},
		{"nested over limit", "package://robot/meshes/base.stl", "", ErrTooLarge},
		{"traversal", "package://../etc/passwd", "", ErrInvalidURI},
		{"absolute", "/etc/passwd", "", ErrInvalidURI},
		{"other scheme", "https://example.com/a.stl", "", ErrInvalidURI},
		{"empty", "", "", ErrInvalidURI},
		{"root itself", "package://.", "", ErrInvalidURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.FetchAsset(context.Background(), tt.uri)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FetchAsset(%q) error = %v, want %v", tt.uri, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchAsset(%q): %v", tt.uri, err)
			}
			if string(got) != tt.want {
				t.Errorf("FetchAsset(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}

func TestFetchAsset_SymlinkCannotEscapeRoot(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o600); err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	d, err := OpenDir(root, 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if data, err := d.FetchAsset(context.Background(), "link.txt"); err == nil {
		t.Fatalf("FetchAsset through escaping symlink returned %q", data)
	}
}

func TestFetchAsset_CanceledContext(t *testing.T) {
	d := testDir(t, 1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.FetchAsset(ctx, "robot/model.urdf"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestOpenDir_Errors(t *testing.T) {
	if _, err := OpenDir(t.TempDir(), 0); err == nil {
		t.Error("OpenDir with zero max size succeeded")
	}
	if _, err := OpenDir(filepath.Join(t.TempDir(), "missing"), 1024); err == nil {
		t.Error("OpenDir on missing root succeeded")
	}
}
