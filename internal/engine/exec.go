// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Runner executes external tools on behalf of graph nodes.
type Runner interface {
	// Run executes argv in dir, streaming its output.
	Run(ctx context.Context, dir string, argv []string) error

	// Output executes argv in dir and returns its standard output.
	Output(ctx context.Context, dir string, argv []string) ([]byte, error)
}

// ExecRunner runs tools with os/exec. Env overrides entries of the process
// environment for every spawned command.
type ExecRunner struct {
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

func (r *ExecRunner) command(ctx context.Context, dir string, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("engine: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), r.Env)
	}
	return cmd, nil
}

func (r *ExecRunner) Run(ctx context.Context, dir string, argv []string) error {
	cmd, err := r.command(ctx, dir, argv)
	if err != nil {
		return err
	}
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

func (r *ExecRunner) Output(ctx context.Context, dir string, argv []string) ([]byte, error) {
	cmd, err := r.command(ctx, dir, argv)
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w\n%s", argv[0], err, msg)
		}
		return out, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}

func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
