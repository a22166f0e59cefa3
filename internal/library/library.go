// Package library declares versioned shared libraries of ROOT classes:
// the dictionary, the objects, the link with its runtime identity, the
// symlink chain and the install steps.
package library

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/config"
	"github.com/jeffersonlab/poddbuild/internal/dict"
	"github.com/jeffersonlab/poddbuild/internal/engine"
	"github.com/jeffersonlab/poddbuild/internal/install"
	"github.com/jeffersonlab/poddbuild/internal/resolve"
	"github.com/jeffersonlab/poddbuild/internal/rpath"
	"github.com/jeffersonlab/poddbuild/pkgs/platform"
)

// Module describes one shared library. Relative file names are taken
// from the module's source directory.
type Module struct {
	// Name identifies the module and names its build subdirectory.
	Name string `yaml:"name"`
	// Target is the library name without prefix and suffix; defaults to Name.
	Target string `yaml:"target,omitempty"`
	// Dir is the source directory below the source root; defaults to Name.
	Dir string `yaml:"dir,omitempty"`

	// Sources are file stems; each <stem>.cxx has a <stem>.h.
	Sources []string `yaml:"sources"`
	// ExtraHeaders are installed but not given to the dictionary generator.
	ExtraHeaders []string `yaml:"extra_headers,omitempty"`
	// DictHeaders are added to the dictionary header list and installed.
	DictHeaders []string `yaml:"dict_headers,omitempty"`
	// DictName overrides the dictionary name; the link definition header
	// is <DictName>_LinkDef.h.
	DictName string `yaml:"dict_name,omitempty"`

	// UseEnv links the resolved dependencies, the configured libraries and
	// the libraries of Links.
	UseEnv bool `yaml:"useenv,omitempty"`
	// Versioned produces the base -> soname -> versioned chain.
	Versioned bool `yaml:"versioned,omitempty"`

	// Dependencies names the external dependencies the module needs.
	Dependencies []string `yaml:"dependencies,omitempty"`
	// Links names other modules of the build this one links against.
	Links []string `yaml:"links,omitempty"`

	// InstallRPath is set on the installed library when rpath
	// installation is enabled.
	InstallRPath []string `yaml:"install_rpath,omitempty"`
	// InstallSrcDir is the directory below src/ receiving the sources;
	// defaults to the base name of Dir.
	InstallSrcDir string `yaml:"install_srcdir,omitempty"`
}

// TargetName returns the library name.
func (m *Module) TargetName() string {
	if m.Target != "" {
		return m.Target
	}
	return m.Name
}

// SourceDir returns the module's directory relative to the source root.
func (m *Module) SourceDir() string {
	if m.Dir != "" {
		return m.Dir
	}
	return m.Name
}

// Dictionary returns the dictionary name.
func (m *Module) Dictionary() string {
	if m.DictName != "" {
		return m.DictName
	}
	return m.TargetName()
}

// LinkDef returns the link definition header name.
func (m *Module) LinkDef() string {
	return m.Dictionary() + "_LinkDef.h"
}

// Validate checks that m can be built.
func (m *Module) Validate() error {
	if m.Name == "" {
		return errors.New("module name is empty")
	}
	if len(m.Sources) == 0 {
		return fmt.Errorf("module %s: no sources", m.Name)
	}
	for _, h := range m.DictHeaders {
		if dict.IsLinkDef(h) {
			return fmt.Errorf("module %s: %s: link definition header is implied", m.Name, h)
		}
	}
	return nil
}

// Names is the three-level file name chain of a library.
type Names struct {
	Base      string // libPodd.so
	SOName    string // libPodd.so.1.7
	Versioned string // libPodd.so.1.7.0
}

// Chained reports whether the names form a symlink chain.
func (n Names) Chained() bool { return n.Versioned != n.Base }

// ArtifactNames returns the file names of library target. On Linux the
// version follows the suffix, on macOS it precedes it. Without versioning
// all three names are the base name.
func ArtifactNames(p *platform.Profile, target string, v config.Version, versioned bool) Names {
	base := p.SharedLibName(target)
	if !versioned {
		return Names{Base: base, SOName: base, Versioned: base}
	}
	if p.IsDarwin() {
		stem := p.SharedLibPrefix + target
		return Names{
			Base:      base,
			SOName:    stem + "." + v.SOVersion + p.SharedLibSuffix,
			Versioned: stem + "." + v.Full() + p.SharedLibSuffix,
		}
	}
	return Names{
		Base:      base,
		SOName:    base + "." + v.SOVersion,
		Versioned: base + "." + v.Full(),
	}
}

// IdentityFlags returns the link flags embedding the soname-level
// identity of the library, plus on macOS the version metadata and the
// build rpaths.
func IdentityFlags(p *platform.Profile, n Names, v config.Version, versioned bool, rpaths []string) []string {
	if !p.IsDarwin() {
		flags := []string{"-Wl,-soname=" + n.SOName}
		for _, rp := range rpaths {
			flags = append(flags, "-Wl,-rpath,"+rp)
		}
		return flags
	}
	flags := []string{"-Wl,-install_name,@rpath/" + n.SOName}
	if versioned {
		flags = append(flags,
			"-Wl,-compatibility_version,"+v.SOVersion,
			"-Wl,-current_version,"+v.Full())
	}
	for _, rp := range rpaths {
		flags = append(flags, "-Wl,-rpath,"+rp)
	}
	return flags
}

// Artifact is the declared result of building a module.
type Artifact struct {
	Module *Module
	Names  Names

	// Dir is the build directory holding the library and its chain.
	Dir string
	// Library is the link node writing Dir/Names.Versioned.
	Library *engine.Node
	// Ready is the node after which Dir/Names.Base exists.
	Ready *engine.Node
	Dict  *dict.Plan

	// Installed is the install path of the base name.
	Installed string
}

// Path returns the build path of the base name.
func (a *Artifact) Path() string {
	return filepath.Join(a.Dir, a.Names.Base)
}

// Builder declares libraries into a graph.
type Builder struct {
	Config  config.BuildConfig
	Patcher *rpath.Patcher
	Logger  *zap.Logger
}

// New returns a builder for cfg.
func New(cfg config.BuildConfig, patcher *rpath.Patcher, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{Config: cfg, Patcher: patcher, Logger: logger}
}

func join(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Build declares m into g. deps are the resolution results of the
// module's dependencies; found ones contribute include directories and,
// with UseEnv, link inputs. libs are other libraries of the build that m
// links against when UseEnv is set.
func (b *Builder) Build(g *engine.Graph, m *Module, deps []*resolve.Result, libs ...*Artifact) (*Artifact, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	cfg := b.Config
	p := cfg.Platform
	log := b.Logger.With(zap.String("module", m.Name))

	srcDir := filepath.Join(cfg.SourceDir, m.SourceDir())
	objDir := filepath.Join(cfg.BuildDir, m.Name)

	var depIncs []string
	for _, d := range deps {
		if d != nil && d.Found && d.IncludeDir != "" {
			depIncs = append(depIncs, d.IncludeDir)
		}
	}
	mcfg := cfg.WithIncludes(append([]string{srcDir, objDir}, depIncs...)...)

	// Headers: one per source stem, then the dictionary extras, then the
	// link definition.
	var sources, hdrs []string
	for _, stem := range m.Sources {
		sources = append(sources, join(srcDir, stem+".cxx"))
		hdrs = append(hdrs, join(srcDir, stem+".h"))
	}
	for _, h := range m.DictHeaders {
		hdrs = append(hdrs, join(srcDir, h))
	}
	installHdrs := slices.Clone(hdrs)
	for _, h := range m.ExtraHeaders {
		installHdrs = append(installHdrs, join(srcDir, h))
	}
	dictHdrs := append(hdrs, join(srcDir, m.LinkDef()))

	// Headers written by other steps of g, e.g. the build facts header.
	var generated []*engine.Node
	for _, h := range installHdrs {
		if n, ok := g.Producer(h); ok {
			generated = append(generated, n)
		}
	}

	names := ArtifactNames(p, m.TargetName(), cfg.Version, m.Versioned)
	plan, err := dict.Generate(dict.Request{
		Name:      m.Dictionary(),
		Dir:       objDir,
		Headers:   dictHdrs,
		ROOTMajor: cfg.ROOT.Major,
		PCMName:   p.SharedLibPrefix + m.TargetName(),
		LibFile:   names.Base,
		CPPFlags:  mcfg.CPPFlags(),
		BinDir:    cfg.ROOT.BinDir,
	})
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", m.Name, err)
	}
	plan.Declare(g, log).After(generated...)

	var objs []string
	for _, src := range append(slices.Clone(sources), plan.Source) {
		obj := filepath.Join(objDir, stemOf(src)+p.ObjectSuffix)
		g.Object(engine.CompileSpec{
			Compiler: mcfg.CXX,
			Source:   src,
			Object:   obj,
			Flags:    mcfg.CXXFlags,
			Defines:  mcfg.Defines,
			Includes: mcfg.Includes,
		}).After(generated...)
		objs = append(objs, obj)
	}

	link := engine.LinkSpec{
		Linker: mcfg.CXX,
		Output: filepath.Join(objDir, names.Versioned),
		Inputs: objs,
		Flags:  append(slices.Clone(p.SharedLinkFlags), IdentityFlags(p, names, cfg.Version, m.Versioned, cfg.RPaths)...),
	}
	var after []*engine.Node
	if m.UseEnv {
		for _, l := range libs {
			link.LibPaths = append(link.LibPaths, l.Dir)
			link.Libs = append(link.Libs, l.Module.TargetName())
			after = append(after, l.Ready)
		}
		for _, d := range deps {
			if d == nil || !d.Found {
				continue
			}
			link.LibPaths = append(link.LibPaths, d.LibDir)
			link.Libs = append(link.Libs, d.LinkName)
			if d.Vendored {
				g.Merge(d.Graph)
				after = append(after, d.Target)
			}
		}
		link.LibPaths = append(link.LibPaths, mcfg.LibDirs...)
		link.Libs = append(link.Libs, mcfg.Libs...)
	}
	lib := g.SharedLibrary(link).After(after...)

	a := &Artifact{Module: m, Names: names, Dir: objDir, Library: lib, Ready: lib, Dict: plan}
	if names.Chained() {
		g.Symlink(filepath.Join(objDir, names.SOName), names.Versioned, engine.PhaseBuild)
		a.Ready = g.Symlink(filepath.Join(objDir, names.Base), names.SOName, engine.PhaseBuild)
	}

	b.declareInstall(g, a, sources, installHdrs)
	log.Debug("declared library",
		zap.String("file", names.Versioned),
		zap.Int("objects", len(objs)),
		zap.Bool("useenv", m.UseEnv))
	return a, nil
}

func stemOf(file string) string {
	base := filepath.Base(file)
	return base[:len(base)-len(filepath.Ext(base))]
}

func (b *Builder) declareInstall(g *engine.Graph, a *Artifact, sources, headers []string) {
	cfg := b.Config
	m := a.Module
	libDir := cfg.LibDir()
	incDir := cfg.IncludeDir()
	srcSub := m.InstallSrcDir
	if srcSub == "" {
		srcSub = filepath.Base(m.SourceDir())
	}
	srcDir := cfg.SrcDir(srcSub)

	copyTo := func(dir, src string, chain bool) *engine.Node {
		dst := filepath.Join(dir, filepath.Base(src))
		n := g.Install(dst, src)
		n.Meta = install.Record{Path: dst, Module: m.Name, Chain: chain, Uninstall: true}
		return n
	}

	installed := copyTo(libDir, filepath.Join(a.Dir, a.Names.Versioned), a.Names.Chained())
	if cfg.InstallRPath && b.Patcher != nil {
		b.Patcher.Declare(g, installed.Output(), m.InstallRPath)
	}
	for _, f := range a.Dict.SideArtifacts() {
		copyTo(libDir, f, false)
	}
	for _, h := range headers {
		copyTo(incDir, h, false)
	}
	for _, s := range sources {
		copyTo(srcDir, s, false)
	}

	a.Installed = filepath.Join(libDir, a.Names.Base)
	if !a.Names.Chained() {
		return
	}
	soname := g.Symlink(filepath.Join(libDir, a.Names.SOName), a.Names.Versioned, engine.PhaseInstall)
	soname.Meta = install.Record{Path: soname.Output(), Module: m.Name, Chain: true, Symlink: true, Uninstall: true}
	base := g.Symlink(a.Installed, a.Names.SOName, engine.PhaseInstall)
	base.Meta = install.Record{Path: base.Output(), Module: m.Name, Chain: true, Symlink: true, Uninstall: true}
}
