// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform describes the per-OS conventions used when building
// shared libraries: file naming, identity link flags, runtime search path
// tokens and the tools that can rewrite a binary's search path after install.
package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnsupported is returned for operating systems without a profile.
var ErrUnsupported = errors.New("unsupported platform")

// OS names a supported operating system, using GOOS spelling.
type OS string

const (
	Linux  OS = "linux"
	Darwin OS = "darwin"
)

// Profile is the immutable per-OS table consumed by the rest of the build.
type Profile struct {
	OS OS

	SharedLibPrefix string
	SharedLibSuffix string
	ObjectSuffix    string

	// SharedLinkFlags turn a link step into a shared-library link.
	SharedLinkFlags []string

	// PatchTools lists install-time search path tools in priority order.
	PatchTools []string

	// OriginToken is the loader token for "directory of this binary".
	OriginToken string

	// Compiler defaults.
	CXX        string
	CC         string
	CXXFlags   []string
	CFlags     []string
	OptFlags   []string
	DebugFlags []string
	Defines    []string
}

var profiles = map[OS]*Profile{
	Linux: {
		OS:              Linux,
		SharedLibPrefix: "lib",
		SharedLibSuffix: ".so",
		ObjectSuffix:    ".o",
		SharedLinkFlags: []string{"-shared"},
		PatchTools:      []string{"patchelf", "chrpath"},
		OriginToken:     "$ORIGIN",
		CXX:             "g++",
		CC:              "gcc",
		CXXFlags:        []string{"-fPIC", "-pthread", "-Wall", "-Woverloaded-virtual"},
		CFlags:          []string{"-fPIC", "-pthread", "-Wall"},
		OptFlags:        []string{"-O2", "-DNDEBUG"},
		DebugFlags:      []string{"-O0", "-g"},
		Defines:         []string{"LINUXVERS"},
	},
	Darwin: {
		OS:              Darwin,
		SharedLibPrefix: "lib",
		SharedLibSuffix: ".dylib",
		ObjectSuffix:    ".o",
		SharedLinkFlags: []string{"-dynamiclib", "-Wl,-undefined,dynamic_lookup"},
		PatchTools:      []string{"install_name_tool"},
		OriginToken:     "@loader_path",
		CXX:             "clang++",
		CC:              "clang",
		CXXFlags:        []string{"-fPIC", "-Wall", "-Woverloaded-virtual"},
		CFlags:          []string{"-fPIC", "-Wall"},
		OptFlags:        []string{"-O2", "-DNDEBUG"},
		DebugFlags:      []string{"-O0", "-g"},
		Defines:         []string{"MACVERS"},
	},
}

// For returns the profile for goos.
func For(goos string) (*Profile, error) {
	p, ok := profiles[OS(goos)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, goos)
	}
	return p, nil
}

// Current returns the profile of the host operating system.
func Current() (*Profile, error) {
	return For(runtime.GOOS)
}

// SharedLibName returns the unversioned file name of library name,
// e.g. "libPodd.so".
func (p *Profile) SharedLibName(name string) string {
	return p.SharedLibPrefix + name + p.SharedLibSuffix
}

// Origin joins rel to the origin token, e.g. "$ORIGIN/../lib".
func (p *Profile) Origin(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return p.OriginToken
	}
	return p.OriginToken + "/" + rel
}

// IsDarwin reports whether p is the macOS profile.
func (p *Profile) IsDarwin() bool { return p.OS == Darwin }
