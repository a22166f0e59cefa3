// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolve

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// openArchive returns an uncompressed tar stream for the archive file name.
func openArchive(name string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip init: %w", err)
		}
		return zr, nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz init: %w", err)
		}
		return io.NopCloser(xr), nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		return zr.IOReadCloser(), nil
	case strings.HasSuffix(name, ".tar"):
		return io.NopCloser(r), nil
	}
	return nil, fmt.Errorf("unsupported archive format: %s", filepath.Base(name))
}

// extractSubtree copies the regular files directly inside the recipe's
// subtree into dest, flattened. The archive's top-level directory is
// ignored, so "evio-5.3/src/libsrc/evio.h" lands as dest/evio.h. It
// returns the base names of the extracted files.
func extractSubtree(archive string, r *Recipe, dest string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := openArchive(archive, f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	subtree := path.Clean(r.Subtree)
	var files []string
	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(archive), err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		_, rel, ok := strings.Cut(strings.TrimPrefix(header.Name, "./"), "/")
		if !ok || path.Dir(rel) != subtree {
			continue
		}
		base := path.Base(rel)
		if !r.wants(base) {
			continue
		}
		if err := writeFile(filepath.Join(dest, base), tr, os.FileMode(header.Mode).Perm()|0o600); err != nil {
			return nil, err
		}
		files = append(files, base)
	}
	return files, nil
}

func writeFile(name string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
