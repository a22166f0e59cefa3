// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpath rewrites the runtime search path of installed binaries.
//
// On Linux a single tool call either sets the whole path list or removes
// it. On macOS existing entries are deleted one by one and the requested
// entries are then added one per call.
package rpath

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/engine"
	"github.com/jeffersonlab/poddbuild/pkgs/platform"
)

// Patcher rewrites runtime search paths with the profile's patch tools.
// Profile tools the patcher does not know are skipped.
type Patcher struct {
	Platform *platform.Profile
	Logger   *zap.Logger

	// LookPath locates tools; it defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// New returns a patcher for p.
func New(p *platform.Profile, logger *zap.Logger) *Patcher {
	return &Patcher{Platform: p, Logger: logger}
}

func (p *Patcher) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Patcher) lookPath(file string) bool {
	look := p.LookPath
	if look == nil {
		look = exec.LookPath
	}
	_, err := look(file)
	return err == nil
}

// Declare adds a post-install step patching file, ordered after the step
// that installs it.
func (p *Patcher) Declare(g *engine.Graph, file string, paths []string) *engine.Node {
	paths = clean(paths)
	return g.PostInstall("rpath:"+file, "Patch RPATH "+filepath.Base(file), []string{file},
		func(ctx context.Context, r engine.Runner) error {
			return p.Patch(ctx, r, file, paths)
		})
}

// A tool rewrites search paths. set is nil for tools that can only
// remove them.
type tool struct {
	set    func(p *Patcher, ctx context.Context, r engine.Runner, file string, paths []string) error
	remove func(p *Patcher, ctx context.Context, r engine.Runner, file string) error
}

var patchTools = map[string]tool{
	"patchelf": {
		set: func(_ *Patcher, ctx context.Context, r engine.Runner, file string, paths []string) error {
			return r.Run(ctx, "", []string{"patchelf", "--force-rpath", "--set-rpath", strings.Join(paths, ":"), file})
		},
		remove: func(_ *Patcher, ctx context.Context, r engine.Runner, file string) error {
			return r.Run(ctx, "", []string{"patchelf", "--remove-rpath", file})
		},
	},
	"chrpath": {
		remove: func(_ *Patcher, ctx context.Context, r engine.Runner, file string) error {
			return r.Run(ctx, "", []string{"chrpath", "-d", file})
		},
	},
	"install_name_tool": {
		set: (*Patcher).addDarwin,
		remove: func(p *Patcher, ctx context.Context, r engine.Runner, file string) error {
			return p.clearDarwin(ctx, r, file)
		},
	},
}

// Patch sets the runtime search path of file to paths, or removes it when
// paths is empty. The profile's patch tools are tried in order; the first
// one found on the system that supports the request is used. A missing
// tool, or only tools that cannot honor the request, produce a warning and
// leave file unpatched.
func (p *Patcher) Patch(ctx context.Context, r engine.Runner, file string, paths []string) error {
	paths = clean(paths)
	log := p.logger()
	names := p.Platform.PatchTools
	limited := ""
	for _, name := range names {
		t, ok := patchTools[name]
		if !ok || !p.lookPath(name) {
			continue
		}
		if len(paths) == 0 {
			return t.remove(p, ctx, r, file)
		}
		if t.set != nil {
			return t.set(p, ctx, r, file, paths)
		}
		if limited == "" {
			limited = name
		}
	}
	if limited != "" {
		log.Warn(limited+" can only delete RPATH, cannot set it",
			zap.String("file", file), zap.Strings("rpath", paths), zap.Strings("tools", names))
		return nil
	}
	log.Warn("no RPATH tool found, cannot patch", zap.String("file", file), zap.Strings("tools", names))
	return nil
}

func clean(paths []string) []string {
	var out []string
	for _, s := range paths {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// addDarwin replaces the LC_RPATH entries of file with paths, one call
// per entry.
func (p *Patcher) addDarwin(ctx context.Context, r engine.Runner, file string, paths []string) error {
	if err := p.clearDarwin(ctx, r, file); err != nil {
		return err
	}
	var errs []error
	for _, rp := range paths {
		if err := r.Run(ctx, "", []string{"install_name_tool", "-add_rpath", rp, file}); err != nil {
			errs = append(errs, fmt.Errorf("add rpath %s: %w", rp, err))
		}
	}
	return errors.Join(errs...)
}

// clearDarwin deletes every LC_RPATH entry of file.
func (p *Patcher) clearDarwin(ctx context.Context, r engine.Runner, file string) error {
	if !p.lookPath("otool") {
		p.logger().Warn("otool not found, cannot clear existing RPATH", zap.String("file", file))
		return nil
	}
	out, err := r.Output(ctx, "", []string{"otool", "-l", file})
	if err != nil {
		return fmt.Errorf("list load commands: %w", err)
	}
	for _, rp := range ParseLoadCommands(out) {
		if err := r.Run(ctx, "", []string{"install_name_tool", "-delete_rpath", rp, file}); err != nil {
			return fmt.Errorf("delete rpath %s: %w", rp, err)
		}
	}
	return nil
}

// ParseLoadCommands returns the LC_RPATH paths listed in "otool -l" output.
func ParseLoadCommands(out []byte) []string {
	var paths []string
	inRPath := false
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "cmd":
			inRPath = fields[1] == "LC_RPATH"
		case "path":
			if inRPath {
				// "path /usr/local/lib (offset 12)"
				line := strings.TrimSpace(s.Text())
				line = strings.TrimSpace(strings.TrimPrefix(line, "path"))
				if i := strings.LastIndex(line, " (offset "); i >= 0 {
					line = line[:i]
				}
				paths = append(paths, line)
				inRPath = false
			}
		}
	}
	return paths
}
