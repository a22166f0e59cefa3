// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resolve locates external native libraries. An installed copy is
// searched through environment hints and conventional installation roots;
// when none is found the library can be vendored: its source archive is
// fetched, the library sources are extracted into a staging directory and
// a build graph for them is returned for the caller to merge.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/engine"
)

// Result is the outcome of resolving a dependency.
type Result struct {
	Name       string
	Found      bool
	IncludeDir string
	LibDir     string
	LinkName   string

	// Vendored is set when the dependency is built from fetched sources.
	// Graph then holds the sub-build and Target its library node; every
	// target linking the dependency must be ordered after Target.
	Vendored bool
	Graph    *engine.Graph
	Target   *engine.Node
}

// Library returns the path of the vendored shared library, or "".
func (r *Result) Library() string {
	if r.Target == nil {
		return ""
	}
	return r.Target.Output()
}

type memo struct {
	res *Result
	err error
}

// Resolver resolves dependencies for one build. Each dependency name is
// resolved at most once; later calls return the first result.
type Resolver struct {
	Config  config.BuildConfig
	Fetcher Fetcher
	Logger  *zap.Logger

	// StageDir holds vendored dependencies, one subdirectory each.
	// It defaults to Config.BuildDir.
	StageDir string

	group   singleflight.Group
	mu      sync.Mutex
	results map[string]*memo
}

// New returns a resolver for cfg.
func New(cfg config.BuildConfig, f Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Config: cfg, Fetcher: f, Logger: logger}
}

func (r *Resolver) lookup(name string) (*memo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.results[name]
	return m, ok
}

// Resolve locates spec. Concurrent and repeated calls for the same name
// share a single resolution; opts of later calls are ignored.
func (r *Resolver) Resolve(ctx context.Context, spec *Spec, opts Options) (*Result, error) {
	if m, ok := r.lookup(spec.Name); ok {
		return m.res, m.err
	}
	v, _, _ := r.group.Do(spec.Name, func() (any, error) {
		if m, ok := r.lookup(spec.Name); ok {
			return m, nil
		}
		res, err := r.resolve(ctx, spec, opts)
		m := &memo{res: res, err: err}
		r.mu.Lock()
		if r.results == nil {
			r.results = make(map[string]*memo)
		}
		r.results[spec.Name] = m
		r.mu.Unlock()
		return m, nil
	})
	m := v.(*memo)
	return m.res, m.err
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Resolver) resolve(ctx context.Context, spec *Spec, opts Options) (*Result, error) {
	log := r.logger().With(zap.String("dependency", spec.Name))
	env := r.Config.Env

	if !opts.ForceVendor || spec.Recipe == nil {
		for _, h := range spec.Hints {
			inc, lib := env.Get(h.IncludeVar), env.Get(h.LibVar)
			if r.present(spec, inc, lib) {
				return r.found(log, spec, inc, lib), nil
			}
		}
		for _, root := range spec.Roots {
			dir, ok := env.Lookup(root)
			if !ok {
				continue
			}
			base := filepath.Join(dir, r.Config.Host.Arch())
			inc, lib := filepath.Join(base, "include"), filepath.Join(base, "lib")
			if r.present(spec, inc, lib) {
				return r.found(log, spec, inc, lib), nil
			}
		}
	}

	if opts.VendorIfMissing && spec.Recipe != nil {
		log.Info("no external installation configured, using local copy")
		res, err := r.vendor(ctx, log, spec)
		if err != nil {
			return nil, &Error{Op: "vendor", Dependency: spec.Name, Err: err}
		}
		return res, nil
	}
	if opts.FailIfMissing {
		return nil, &Error{Op: "resolve", Dependency: spec.Name, Hints: spec.HintNames(), Err: ErrNotFound}
	}
	log.Warn("dependency not found, dependent features disabled", zap.String("hints", spec.HintNames()))
	return &Result{Name: spec.Name}, nil
}

func (r *Resolver) found(log *zap.Logger, spec *Spec, inc, lib string) *Result {
	log.Info("found", zap.String("include", inc), zap.String("lib", lib))
	return &Result{Name: spec.Name, Found: true, IncludeDir: inc, LibDir: lib, LinkName: spec.Library}
}

// present reports whether the spec's header and shared library exist in
// inc and lib.
func (r *Resolver) present(spec *Spec, inc, lib string) bool {
	if inc == "" || lib == "" {
		return false
	}
	return isFile(filepath.Join(inc, spec.Header)) &&
		isFile(filepath.Join(lib, r.Config.Platform.SharedLibName(spec.Library)))
}

func isFile(name string) bool {
	fi, err := os.Stat(name)
	return err == nil && fi.Mode().IsRegular()
}

func (r *Resolver) stageRoot() string {
	if r.StageDir != "" {
		return r.StageDir
	}
	return r.Config.BuildDir
}

// vendor fetches and stages spec's sources and declares their build.
func (r *Resolver) vendor(ctx context.Context, log *zap.Logger, spec *Spec) (*Result, error) {
	recipe := spec.Recipe
	root := r.stageRoot()
	stage := filepath.Join(root, spec.Name)
	archive := filepath.Join(root, ".archives", recipe.ArchiveName(spec.Name))

	_, err := os.Stat(archive)
	cached := err == nil
	if !cached || !isFile(filepath.Join(stage, spec.Header)) {
		if !cached {
			if r.Fetcher == nil {
				return nil, errors.New("no fetcher configured")
			}
			url := recipe.ArchiveURL()
			log.Info("downloading archive", zap.String("url", url))
			if err := download(ctx, r.Fetcher, url, archive); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
		}
		log.Info("extracting archive", zap.String("archive", archive), zap.String("subtree", recipe.Subtree))
		if err := stageSources(archive, recipe, spec.Header, stage); err != nil {
			return nil, err
		}
	}

	sources, err := filepath.Glob(filepath.Join(stage, "*.c"))
	if err != nil {
		return nil, err
	}
	slices.Sort(sources)
	g, target := r.subBuild(spec, stage, sources)
	log.Info("vendored", zap.String("dir", stage), zap.Int("sources", len(sources)))
	return &Result{
		Name:       spec.Name,
		Found:      true,
		IncludeDir: stage,
		LibDir:     stage,
		LinkName:   spec.Library,
		Vendored:   true,
		Graph:      g,
		Target:     target,
	}, nil
}

// stageSources extracts into a temporary directory next to stage and
// renames it into place, so stage is either absent or fully populated.
func stageSources(archive string, recipe *Recipe, header, stage string) error {
	if err := os.MkdirAll(filepath.Dir(stage), 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(stage), "."+filepath.Base(stage)+"-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	files, err := extractSubtree(archive, recipe, tmp)
	if err != nil {
		return err
	}
	if !slices.Contains(files, header) {
		return fmt.Errorf("%s: no %s in %s", filepath.Base(archive), header, recipe.Subtree)
	}
	if err := os.RemoveAll(stage); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(tmp, stage)
}

// subBuild declares the shared C library built from the staged sources.
func (r *Resolver) subBuild(spec *Spec, stage string, sources []string) (*engine.Graph, *engine.Node) {
	cfg := r.Config
	p := cfg.Platform
	g := engine.New()

	var objs []string
	for _, src := range sources {
		obj := strings.TrimSuffix(src, ".c") + p.ObjectSuffix
		g.Object(engine.CompileSpec{
			Compiler: cfg.CC,
			Source:   src,
			Object:   obj,
			Flags:    cfg.CFlags,
			Defines:  spec.Recipe.Defines,
			Includes: []string{stage},
		})
		objs = append(objs, obj)
	}

	libName := p.SharedLibName(spec.Library)
	flags := slices.Clone(p.SharedLinkFlags)
	if p.IsDarwin() {
		flags = append(flags, "-Wl,-install_name,@rpath/"+libName)
	} else {
		flags = append(flags, "-Wl,-soname="+libName)
	}
	target := g.SharedLibrary(engine.LinkSpec{
		Linker: cfg.CC,
		Output: filepath.Join(stage, libName),
		Inputs: objs,
		Flags:  flags,
		Libs:   spec.Recipe.Libs,
	})
	return g, target
}
