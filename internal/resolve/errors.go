// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolve

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a required dependency could not be located or
	// vendored.
	ErrNotFound = errors.New("not found")

	// ErrNoROOT indicates root-config could not be run.
	ErrNoROOT = errors.New("cannot find ROOT; check if root-config is in your PATH or set ROOTSYS")
)

// Error describes a failed resolution.
type Error struct {
	Op         string // operation that failed
	Dependency string // dependency name
	Hints      string // environment variables that could point to it
	Err        error  // underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Dependency, e.Err)
	if e.Hints != "" {
		msg += " (set " + e.Hints + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
