// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Env is a snapshot of environment variables. Lookups of undefined keys
// return "" and never expand anything.
type Env map[string]string

// OSEnv snapshots the process environment.
func OSEnv() Env {
	env := make(Env)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// LoadEnvFiles reads .env-style files. Later files override earlier ones.
func LoadEnvFiles(files ...string) (Env, error) {
	env := make(Env)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", f, err)
		}
		maps.Copy(env, m)
	}
	return env, nil
}

// Get returns the value of key, or "" when unset.
func (e Env) Get(key string) string {
	return e[key]
}

// Lookup returns the value of key and whether it is set to a non-empty
// value.
func (e Env) Lookup(key string) (string, bool) {
	v, ok := e[key]
	return v, ok && v != ""
}

// Merge returns a copy of e with the entries of over applied on top.
func (e Env) Merge(over Env) Env {
	out := make(Env, len(e)+len(over))
	maps.Copy(out, e)
	maps.Copy(out, over)
	return out
}

// With returns a copy of e with key set to value.
func (e Env) With(key, value string) Env {
	return e.Merge(Env{key: value})
}
