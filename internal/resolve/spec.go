// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolve

import (
	"path"
	"strings"
)

// Options controls what happens when no installed copy is found.
type Options struct {
	// VendorIfMissing fetches and builds the dependency locally.
	VendorIfMissing bool
	// FailIfMissing turns an unresolved dependency into an error.
	FailIfMissing bool
	// ForceVendor skips the search for an installed copy.
	ForceVendor bool
}

// Hint is a pair of environment variables naming the include and library
// directories of an installed copy.
type Hint struct {
	IncludeVar string
	LibVar     string
}

// Recipe describes how to vendor a dependency from a source archive.
type Recipe struct {
	Version string
	// URL is the archive location; "{version}" is replaced by Version.
	URL string
	// Subtree is the archive directory, below the top-level directory,
	// whose files are extracted.
	Subtree string
	// Include lists file name patterns to extract from Subtree.
	Include []string
	// Exclude lists substrings of file names to skip.
	Exclude []string

	// Defines and Libs are used by the sub-build.
	Defines []string
	Libs    []string
}

// ArchiveURL returns the archive location for the recipe's version.
func (r *Recipe) ArchiveURL() string {
	return strings.ReplaceAll(r.URL, "{version}", r.Version)
}

// ArchiveName returns the local file name of the cached archive.
func (r *Recipe) ArchiveName(name string) string {
	return name + "-" + path.Base(r.ArchiveURL())
}

func (r *Recipe) wants(file string) bool {
	for _, x := range r.Exclude {
		if strings.Contains(file, x) {
			return false
		}
	}
	for _, pat := range r.Include {
		if ok, _ := path.Match(pat, file); ok {
			return true
		}
	}
	return len(r.Include) == 0
}

// Spec describes an external native library.
type Spec struct {
	Name    string
	Header  string // file that must exist in the include directory
	Library string // link name, e.g. "evio" for libevio

	// Hints are probed first, then each root as $ROOT/<System-Machine>.
	Hints []Hint
	Roots []string

	Recipe *Recipe

	// Policy is the default resolution policy of this dependency.
	Policy Options
}

// Options returns the dependency's policy, forcing vendoring when
// forceVendor is set and the dependency can be vendored.
func (s *Spec) Options(forceVendor bool) Options {
	opts := s.Policy
	if forceVendor && s.Recipe != nil {
		opts.ForceVendor = true
		opts.VendorIfMissing = true
	}
	return opts
}

// HintNames lists the environment variables consulted for s, in the form
// used by diagnostics: "EVIO_INCDIR/EVIO_LIBDIR, EVIO or CODA".
func (s *Spec) HintNames() string {
	var names []string
	for _, h := range s.Hints {
		names = append(names, h.IncludeVar+"/"+h.LibVar)
	}
	names = append(names, s.Roots...)
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}

// EVIO returns the spec of the CODA event I/O library. It is vendored
// automatically when missing.
func EVIO() *Spec {
	return &Spec{
		Name:    "evio",
		Header:  "evio.h",
		Library: "evio",
		Hints:   []Hint{{IncludeVar: "EVIO_INCDIR", LibVar: "EVIO_LIBDIR"}},
		Roots:   []string{"EVIO", "CODA"},
		Recipe: &Recipe{
			Version: "5.3",
			URL:     "https://github.com/JeffersonLab/evio/archive/v{version}.tar.gz",
			Subtree: "src/libsrc",
			Include: []string{"*.c", "*.h"},
			Exclude: []string{"msinttypes"},
			Libs:    []string{"pthread"},
		},
		Policy: Options{VendorIfMissing: true, FailIfMissing: true},
	}
}

// ET returns the spec of the CODA event transfer library. It is only
// vendored on request.
func ET() *Spec {
	return &Spec{
		Name:    "et",
		Header:  "et.h",
		Library: "et",
		Roots:   []string{"CODA"},
		Recipe: &Recipe{
			Version: "16.5.0",
			URL:     "https://github.com/JeffersonLab/et/archive/v{version}.tar.gz",
			Subtree: "src/libsrc",
			Include: []string{"*.c", "*.h"},
			Libs:    []string{"pthread"},
		},
		Policy: Options{FailIfMissing: true},
	}
}

// Builtin returns the spec named name.
func Builtin(name string) (*Spec, bool) {
	switch name {
	case "evio":
		return EVIO(), true
	case "et":
		return ET(), true
	}
	return nil, false
}
