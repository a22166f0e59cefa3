// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package platform

import "golang.org/x/sys/unix"

// HostInfo reads the host identity from uname(2). If the call fails the
// result is derived from the Go runtime instead.
func HostInfo() Host {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return fallbackHost()
	}
	return Host{
		System:  unix.ByteSliceToString(u.Sysname[:]),
		Release: unix.ByteSliceToString(u.Release[:]),
		Machine: unix.ByteSliceToString(u.Machine[:]),
		Node:    unix.ByteSliceToString(u.Nodename[:]),
	}
}
