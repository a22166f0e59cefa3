// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolve

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/engine"
)

// FindROOT queries root-config for the ROOT installation. When ROOTSYS is
// set, its bin directory is used instead of the search path.
func FindROOT(ctx context.Context, env config.Env, r engine.Runner) (config.ROOT, error) {
	rootConfig := "root-config"
	if sys, ok := env.Lookup("ROOTSYS"); ok {
		rootConfig = filepath.Join(sys, "bin", "root-config")
	}
	query := func(flag string) (string, error) {
		out, err := r.Output(ctx, "", []string{rootConfig, flag})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	}

	var root config.ROOT
	cflags, err := query("--cflags")
	if err != nil {
		return root, fmt.Errorf("%w: %w", ErrNoROOT, err)
	}
	libs, err := query("--libs")
	if err != nil {
		return root, fmt.Errorf("root-config --libs: %w", err)
	}
	if root.Version, err = query("--version"); err != nil {
		return root, fmt.Errorf("root-config --version: %w", err)
	}
	if root.Major, err = ROOTMajor(root.Version); err != nil {
		return root, err
	}
	if root.CXX, err = query("--cxx"); err != nil {
		return root, fmt.Errorf("root-config --cxx: %w", err)
	}
	if root.BinDir, err = query("--bindir"); err != nil {
		root.BinDir = ""
		if filepath.IsAbs(rootConfig) {
			root.BinDir = filepath.Dir(rootConfig)
		}
	}
	root.CFlags = strings.Fields(cflags)
	root.Libs = strings.Fields(libs)
	return root, nil
}

// ROOTMajor returns the major version of a ROOT version string such as
// "6.30/04" or "5.34/38".
func ROOTMajor(version string) (int, error) {
	major, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("invalid ROOT version %q", version)
	}
	return n, nil
}
