// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the release version of the libraries being built.
type Version struct {
	Major, Minor, Patch int

	// Ext is an optional pre-release suffix such as "-rc1". It is part of
	// the human readable version but not of the library file names.
	Ext string

	// SOVersion is the stable linking identity, "major.minor" unless set
	// explicitly.
	SOVersion string
}

// ParseVersion parses "major.minor.patch[-ext]". soversion may be empty,
// in which case it is derived from the major and minor components.
func ParseVersion(version, soversion string) (Version, error) {
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) || strings.Count(strings.SplitN(v, "-", 2)[0], ".") != 2 {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor.patch", version)
	}
	var ver Version
	ver.Ext = semver.Prerelease(v)
	core := strings.TrimPrefix(strings.TrimSuffix(semver.Canonical(v), ver.Ext), "v")
	parts := strings.Split(core, ".")
	nums := []*int{&ver.Major, &ver.Minor, &ver.Patch}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", version, err)
		}
		*nums[i] = n
	}
	if ver.Major > 255 || ver.Minor > 255 || ver.Patch > 255 {
		return Version{}, fmt.Errorf("invalid version %q: components must be below 256", version)
	}

	ver.SOVersion = strings.TrimPrefix(semver.MajorMinor(v), "v")
	if soversion != "" {
		so := "v" + strings.TrimPrefix(soversion, "v")
		if !semver.IsValid(so) || semver.Prerelease(so) != "" {
			return Version{}, fmt.Errorf("invalid soversion %q", soversion)
		}
		if semver.Major(so) != semver.Major(v) {
			return Version{}, fmt.Errorf("soversion %s does not match version %s", soversion, version)
		}
		ver.SOVersion = strings.TrimPrefix(soversion, "v")
	}
	return ver, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(version string) Version {
	v, err := ParseVersion(version, "")
	if err != nil {
		panic(err)
	}
	return v
}

// Full returns "major.minor.patch", the version embedded in file names.
func (v Version) Full() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// String returns the full version including any pre-release suffix.
func (v Version) String() string {
	return v.Full() + v.Ext
}

// Code returns the numeric version code 65536*major + 256*minor + patch.
func (v Version) Code() int {
	return v.Major<<16 + v.Minor<<8 + v.Patch
}
