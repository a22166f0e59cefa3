// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Host identifies the machine the build runs on.
type Host struct {
	System  string // "Linux", "Darwin"
	Release string
	Machine string // "x86_64", "arm64"
	Node    string
}

// Arch returns the architecture-qualified directory name used by
// CODA-style installation trees, e.g. "Linux-x86_64".
func (h Host) Arch() string {
	return h.System + "-" + h.Machine
}

// String returns "System-Release-Machine".
func (h Host) String() string {
	return fmt.Sprintf("%s-%s-%s", h.System, h.Release, h.Machine)
}

// Terse returns a short OS description such as "Linux-6.1.0".
func (h Host) Terse() string {
	return h.System + "-" + h.Release
}

func fallbackHost() Host {
	machine := runtime.GOARCH
	switch machine {
	case "amd64":
		machine = "x86_64"
	case "386":
		machine = "i686"
	}
	system := strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:]
	return Host{System: system, Machine: machine}
}
