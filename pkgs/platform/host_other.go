// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package platform

import "os"

// HostInfo derives the host identity from the Go runtime.
func HostInfo() Host {
	h := fallbackHost()
	h.Node, _ = os.Hostname()
	return h
}
