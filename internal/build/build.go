// Package build turns a project description into a build graph: it
// resolves each module's dependencies, declares the libraries in order,
// then the programs, the standalone tests and the build facts header.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeffersonlab/poddbuild/internal/compiledata"
	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/engine"
	"github.com/jeffersonlab/poddbuild/internal/install"
	"github.com/jeffersonlab/poddbuild/internal/library"
	"github.com/jeffersonlab/poddbuild/internal/project"
	"github.com/jeffersonlab/poddbuild/internal/resolve"
	"github.com/jeffersonlab/poddbuild/internal/rpath"
)

// ModuleError names the module whose planning failed.
type ModuleError struct {
	Module string
	Err    error
}

func (e *ModuleError) Error() string {
	return "module " + e.Module + ": " + e.Err.Error()
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// Plan is the declared build of a project.
type Plan struct {
	Graph     *engine.Graph
	Libraries []*library.Artifact
	Programs  []*engine.Node
	Tests     []*engine.Node
	// Deps holds the resolution results per module name.
	Deps map[string][]*resolve.Result
	// CompileData is the generated header, if any.
	CompileData string
}

// Library returns the artifact of module name.
func (p *Plan) Library(name string) (*library.Artifact, bool) {
	i := slices.IndexFunc(p.Libraries, func(a *library.Artifact) bool { return a.Module.Name == name })
	if i < 0 {
		return nil, false
	}
	return p.Libraries[i], true
}

// Builder plans the build of a project.
type Builder struct {
	Config   config.BuildConfig
	Project  *project.Project
	Resolver *resolve.Resolver
	Patcher  *rpath.Patcher
	Logger   *zap.Logger

	// IgnoreUnresolved treats dependencies that fail to resolve as
	// missing instead of failing the plan. Clean uses it.
	IgnoreUnresolved bool
}

// NewBuilder returns a builder for proj.
func NewBuilder(cfg config.BuildConfig, proj *project.Project, r *resolve.Resolver, patcher *rpath.Patcher, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{Config: cfg, Project: proj, Resolver: r, Patcher: patcher, Logger: logger}
}

// Plan declares the complete build graph.
func (b *Builder) Plan(ctx context.Context) (*Plan, error) {
	deps, err := b.resolveAll(ctx)
	if err != nil {
		return nil, err
	}
	cfg := b.Config
	g := engine.New()
	p := &Plan{Graph: g, Deps: deps}

	for _, m := range b.Project.Modules {
		for _, d := range deps[m.Name] {
			if d.Vendored {
				b.declareVendored(g, d)
			}
		}
	}

	modules := b.Project.Modules
	if cd := b.Project.CompileData; cd != nil {
		modules = b.declareCompileData(g, p, cd)
	}

	lb := library.New(cfg, b.Patcher, b.Logger)
	for _, m := range modules {
		var links []*library.Artifact
		for _, name := range m.Links {
			a, _ := p.Library(name)
			links = append(links, a)
		}
		a, err := lb.Build(g, m, deps[m.Name], links...)
		if err != nil {
			return nil, &ModuleError{Module: m.Name, Err: err}
		}
		p.Libraries = append(p.Libraries, a)
	}

	for _, prog := range b.Project.Programs {
		n, err := b.program(g, p, prog.Name, filepath.Join(cfg.BuildDir, "bin"), prog.Sources, prog.Links)
		if err != nil {
			return nil, err
		}
		p.Programs = append(p.Programs, n)
		if prog.Install {
			b.installProgram(g, n)
		}
	}

	if t := b.Project.Tests; t != nil && cfg.Options.Standalone {
		sources, err := filepath.Glob(filepath.Join(cfg.SourceDir, t.Glob))
		if err != nil {
			return nil, err
		}
		slices.Sort(sources)
		for _, src := range sources {
			name := stem(src)
			n, err := b.program(g, p, name, filepath.Join(cfg.BuildDir, "tests"), []string{src}, t.Links)
			if err != nil {
				return nil, err
			}
			p.Tests = append(p.Tests, n)
		}
	}

	b.Logger.Debug("planned build",
		zap.Int("libraries", len(p.Libraries)),
		zap.Int("programs", len(p.Programs)),
		zap.Int("tests", len(p.Tests)),
		zap.Int("nodes", len(g.Nodes())))
	return p, nil
}

// resolveAll resolves the dependencies of every module concurrently.
// Modules sharing a dependency share its resolution.
func (b *Builder) resolveAll(ctx context.Context) (map[string][]*resolve.Result, error) {
	modules := b.Project.Modules
	results := make([][]*resolve.Result, len(modules))
	eg, ctx := errgroup.WithContext(ctx)
	for i, m := range modules {
		if len(m.Dependencies) == 0 {
			continue
		}
		eg.Go(func() error {
			for _, name := range m.Dependencies {
				spec, ok := resolve.Builtin(name)
				if !ok {
					return &ModuleError{Module: m.Name, Err: fmt.Errorf("unknown dependency %q", name)}
				}
				res, err := b.Resolver.Resolve(ctx, spec, spec.Options(b.Config.Options.VendorDependency))
				if err != nil {
					if !b.IgnoreUnresolved {
						return &ModuleError{Module: m.Name, Err: err}
					}
					b.Logger.Debug("ignoring unresolved dependency", zap.String("module", m.Name), zap.Error(err))
					res = &resolve.Result{Name: name}
				}
				results[i] = append(results[i], res)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	deps := make(map[string][]*resolve.Result, len(modules))
	for i, m := range modules {
		deps[m.Name] = results[i]
	}
	return deps, nil
}

// declareCompileData declares the build facts header and returns the
// module list with the owning module pointing at the generated file.
func (b *Builder) declareCompileData(g *engine.Graph, p *Plan, cd *project.CompileData) []*library.Module {
	cfg := b.Config
	owner, _ := b.Project.Module(cd.Module)
	path := filepath.Join(cfg.BuildDir, owner.Name, cd.Header)
	var incs []string
	for _, name := range cd.IncludeModules {
		m, _ := b.Project.Module(name)
		incs = append(incs, filepath.Join(cfg.SourceDir, m.SourceDir()))
	}
	compiledata.Declare(g, cfg, path, incs, b.Logger)
	p.CompileData = path

	modules := slices.Clone(b.Project.Modules)
	for i, m := range modules {
		if m.Name != owner.Name {
			continue
		}
		c := *m
		c.ExtraHeaders = slices.Clone(m.ExtraHeaders)
		if j := slices.Index(c.ExtraHeaders, cd.Header); j >= 0 {
			c.ExtraHeaders[j] = path
		} else {
			c.ExtraHeaders = append(c.ExtraHeaders, path)
		}
		modules[i] = &c
	}
	return modules
}

// program declares an executable in dir built from sources and linked
// against the named modules.
func (b *Builder) program(g *engine.Graph, p *Plan, name, dir string, sources, links []string) (*engine.Node, error) {
	cfg := b.Config
	pf := cfg.Platform
	objDir := filepath.Join(dir, name+".objs")

	var incs, libDirs, libs, flags []string
	var after []*engine.Node
	seen := map[string]bool{}
	for _, l := range links {
		a, ok := p.Library(l)
		if !ok {
			return nil, fmt.Errorf("program %s: unknown module %s", name, l)
		}
		incs = append(incs, filepath.Join(cfg.SourceDir, a.Module.SourceDir()), a.Dir)
		libDirs = append(libDirs, a.Dir)
		libs = append(libs, a.Module.TargetName())
		after = append(after, a.Ready)
		for _, d := range p.Deps[l] {
			if !d.Found || seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			if d.IncludeDir != "" {
				incs = append(incs, d.IncludeDir)
			}
			if d.LibDir == "" {
				continue
			}
			// The module libraries record d as needed; the linker must
			// find it to resolve their symbols.
			libDirs = append(libDirs, d.LibDir)
			libs = append(libs, d.LinkName)
			if !pf.IsDarwin() {
				flags = append(flags, "-Wl,-rpath-link,"+d.LibDir)
			}
			if d.Vendored {
				after = append(after, d.Target)
			}
		}
	}
	pcfg := cfg.WithIncludes(incs...)

	var objs []string
	for _, src := range sources {
		if !filepath.IsAbs(src) {
			src = filepath.Join(cfg.SourceDir, src)
		}
		obj := filepath.Join(objDir, stem(src)+pf.ObjectSuffix)
		n := g.Object(engine.CompileSpec{
			Compiler: pcfg.CXX,
			Source:   src,
			Object:   obj,
			Flags:    pcfg.CXXFlags,
			Defines:  pcfg.Defines,
			Includes: pcfg.Includes,
		})
		if cd := p.CompileData; cd != "" {
			if gen, ok := g.Producer(cd); ok {
				n.After(gen)
			}
		}
		objs = append(objs, obj)
	}

	for _, rp := range cfg.RPaths {
		flags = append(flags, "-Wl,-rpath,"+rp)
	}
	return g.Program(engine.LinkSpec{
		Linker:   pcfg.CXX,
		Output:   filepath.Join(dir, name),
		Inputs:   objs,
		Flags:    flags,
		LibPaths: append(libDirs, pcfg.LibDirs...),
		Libs:     append(libs, pcfg.Libs...),
	}).After(after...), nil
}

// declareVendored adds the sub-build of a vendored dependency to g and
// installs its library next to the project libraries.
func (b *Builder) declareVendored(g *engine.Graph, d *resolve.Result) {
	g.Merge(d.Graph)
	lib := d.Library()
	if lib == "" {
		return
	}
	dst := filepath.Join(b.Config.LibDir(), filepath.Base(lib))
	n := g.Install(dst, lib)
	n.Meta = install.Record{Path: dst, Module: d.Name, Uninstall: true}
}

// installProgram copies prog to bin/ and points its search path at the
// installed libraries.
func (b *Builder) installProgram(g *engine.Graph, prog *engine.Node) {
	cfg := b.Config
	dst := filepath.Join(cfg.BinDir(), filepath.Base(prog.Output()))
	n := g.Install(dst, prog.Output())
	n.Meta = install.Record{Path: dst, Module: filepath.Base(dst), Uninstall: true}
	if cfg.InstallRPath && b.Patcher != nil {
		b.Patcher.Declare(g, dst, []string{cfg.Platform.Origin("../lib")})
	}
}

func stem(file string) string {
	base := filepath.Base(file)
	return base[:len(base)-len(filepath.Ext(base))]
}
