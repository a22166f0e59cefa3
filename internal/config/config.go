// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the immutable build configuration threaded through
// every build step. Platform- or dependency-specific settings are applied
// by deriving a new value with one of the With methods; a BuildConfig is
// never modified in place.
package config

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/jeffersonlab/poddbuild/pkgs/platform"
)

// Options are the named boolean build options plus execution settings.
type Options struct {
	// Debug selects debug instead of optimization flags.
	Debug bool
	// Standalone enables the auxiliary test executables.
	Standalone bool
	// VendorDependency forces vendoring even when a system copy exists.
	VendorDependency bool

	Jobs    int
	Verbose bool
}

// ROOT describes the ROOT installation found through root-config.
type ROOT struct {
	Version string // as printed by root-config, e.g. "6.30/04"
	Major   int
	BinDir  string
	CXX     string
	CFlags  []string
	Libs    []string
}

// BuildConfig is the complete, immutable configuration of one build.
type BuildConfig struct {
	Platform *platform.Profile
	Host     platform.Host
	Env      Env
	Options  Options
	Version  Version
	ROOT     ROOT

	SourceDir   string
	BuildDir    string
	InstallRoot string

	CXX      string
	CC       string
	CXXFlags []string
	CFlags   []string
	Defines  []string
	Includes []string
	LibDirs  []string
	Libs     []string

	// RPaths are embedded at link time on platforms that support it.
	RPaths []string
	// InstallRPath enables search path rewriting of installed binaries.
	InstallRPath bool
}

// New returns the base configuration for the platform profile p. The
// compilers may be overridden through CXX and CC in env.
func New(p *platform.Profile, host platform.Host, env Env, opts Options, v Version) BuildConfig {
	c := BuildConfig{
		Platform:     p,
		Host:         host,
		Env:          env,
		Options:      opts,
		Version:      v,
		SourceDir:    ".",
		BuildDir:     "build",
		InstallRoot:  "install",
		CXX:          p.CXX,
		CC:           p.CC,
		CXXFlags:     slices.Clone(p.CXXFlags),
		CFlags:       slices.Clone(p.CFlags),
		Defines:      slices.Clone(p.Defines),
		InstallRPath: true,
	}
	if cxx, ok := env.Lookup("CXX"); ok {
		c.CXX = cxx
	}
	if cc, ok := env.Lookup("CC"); ok {
		c.CC = cc
	}
	mode := p.OptFlags
	if opts.Debug {
		mode = p.DebugFlags
	}
	c.CXXFlags = append(c.CXXFlags, mode...)
	c.CFlags = append(c.CFlags, mode...)
	return c
}

func (c BuildConfig) clone() BuildConfig {
	c.CXXFlags = slices.Clone(c.CXXFlags)
	c.CFlags = slices.Clone(c.CFlags)
	c.Defines = slices.Clone(c.Defines)
	c.Includes = slices.Clone(c.Includes)
	c.LibDirs = slices.Clone(c.LibDirs)
	c.Libs = slices.Clone(c.Libs)
	c.RPaths = slices.Clone(c.RPaths)
	c.ROOT.CFlags = slices.Clone(c.ROOT.CFlags)
	c.ROOT.Libs = slices.Clone(c.ROOT.Libs)
	return c
}

// WithDirs returns a copy with the source, build and install directories
// replaced. Empty arguments keep the current value.
func (c BuildConfig) WithDirs(source, build, install string) BuildConfig {
	c = c.clone()
	if source != "" {
		c.SourceDir = source
	}
	if build != "" {
		c.BuildDir = build
	}
	if install != "" {
		c.InstallRoot = install
	}
	return c
}

// WithROOT returns a copy configured for the ROOT installation r: its
// compiler, compile flags and link libraries are merged in.
func (c BuildConfig) WithROOT(r ROOT) BuildConfig {
	c = c.clone()
	c.ROOT = r
	c.ROOT.CFlags = slices.Clone(r.CFlags)
	c.ROOT.Libs = slices.Clone(r.Libs)
	if r.CXX != "" && !c.envOverrides("CXX") {
		c.CXX = r.CXX
	}
	for _, f := range r.CFlags {
		switch {
		case strings.HasPrefix(f, "-I"):
			c.Includes = appendUnique(c.Includes, strings.TrimPrefix(f, "-I"))
		case strings.HasPrefix(f, "-D"):
			c.Defines = appendUnique(c.Defines, strings.TrimPrefix(f, "-D"))
		default:
			c.CXXFlags = appendUnique(c.CXXFlags, f)
		}
	}
	for _, f := range r.Libs {
		switch {
		case strings.HasPrefix(f, "-L"):
			c.LibDirs = appendUnique(c.LibDirs, strings.TrimPrefix(f, "-L"))
		case strings.HasPrefix(f, "-l"):
			c.Libs = appendUnique(c.Libs, strings.TrimPrefix(f, "-l"))
		}
	}
	return c
}

func (c BuildConfig) envOverrides(key string) bool {
	_, ok := c.Env.Lookup(key)
	return ok
}

// WithIncludes returns a copy with dirs appended to the include path.
func (c BuildConfig) WithIncludes(dirs ...string) BuildConfig {
	c = c.clone()
	for _, d := range dirs {
		c.Includes = appendUnique(c.Includes, d)
	}
	return c
}

// WithRPaths returns a copy with build-time runtime search paths appended.
func (c BuildConfig) WithRPaths(paths ...string) BuildConfig {
	c = c.clone()
	for _, p := range paths {
		c.RPaths = appendUnique(c.RPaths, p)
	}
	return c
}

// CPPFlags returns the -D and -I flags currently in effect, in that order.
func (c BuildConfig) CPPFlags() []string {
	flags := make([]string, 0, len(c.Defines)+len(c.Includes))
	for _, d := range c.Defines {
		flags = append(flags, "-D"+d)
	}
	for _, i := range c.Includes {
		flags = append(flags, "-I"+i)
	}
	return flags
}

// LibDir returns the install location of libraries.
func (c BuildConfig) LibDir() string { return filepath.Join(c.InstallRoot, "lib") }

// BinDir returns the install location of programs.
func (c BuildConfig) BinDir() string { return filepath.Join(c.InstallRoot, "bin") }

// IncludeDir returns the install location of headers.
func (c BuildConfig) IncludeDir() string { return filepath.Join(c.InstallRoot, "include") }

// SrcDir returns the install location of the sources of module.
func (c BuildConfig) SrcDir(module string) string {
	return filepath.Join(c.InstallRoot, "src", module)
}

func appendUnique(s []string, v string) []string {
	if v == "" || slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
