// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine is a small build-graph execution engine. Callers declare
// targets (objects, libraries, programs, install copies, custom commands
// and symlinks) with explicit inputs and outputs; an Executor orders them
// by those declarations and runs independent nodes in parallel.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
)

// Phase selects which part of the graph a node belongs to.
type Phase int

const (
	PhaseBuild Phase = iota
	PhaseInstall
)

func (p Phase) String() string {
	switch p {
	case PhaseBuild:
		return "build"
	case PhaseInstall:
		return "install"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Kind is the primitive a node was declared with.
type Kind int

const (
	KindObject Kind = iota
	KindSharedLibrary
	KindProgram
	KindInstall
	KindCommand
	KindSymlink
)

// Action is the work of a node that does not run a single external tool.
type Action func(ctx context.Context, r Runner) error

// Node is a single step of the build graph.
type Node struct {
	ID      string
	Kind    Kind
	Phase   Phase
	Label   string
	Inputs  []string
	Outputs []string
	Argv    []string
	Dir     string

	// Meta is attached by callers and handed back through Executor.OnDone.
	Meta any

	g      *Graph
	action Action
	after  []*Node
}

// Output returns the primary output of n.
func (n *Node) Output() string {
	if len(n.Outputs) == 0 {
		return ""
	}
	return n.Outputs[0]
}

// After declares that n must run after deps. Nil entries are ignored.
func (n *Node) After(deps ...*Node) *Node {
	n.g.mu.Lock()
	defer n.g.mu.Unlock()
	for _, d := range deps {
		if d != nil && d != n && !slices.Contains(n.after, d) {
			n.after = append(n.after, d)
		}
	}
	return n
}

// Graph is a set of declared nodes. It is safe for concurrent declaration.
type Graph struct {
	mu    sync.Mutex
	nodes []*Node
	byID  map[string]*Node
	clean []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{byID: make(map[string]*Node)}
}

// add registers n. Declaring the same ID twice returns the first node.
func (g *Graph) add(n *Node) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.byID[n.ID]; ok {
		return old
	}
	n.g = g
	g.nodes = append(g.nodes, n)
	g.byID[n.ID] = n
	return n
}

// CompileSpec describes a compile-object step.
type CompileSpec struct {
	Compiler string
	Source   string
	Object   string
	Flags    []string
	Defines  []string
	Includes []string
}

// Argv returns the compiler command line.
func (s CompileSpec) Argv() []string {
	argv := []string{s.Compiler, "-c"}
	argv = append(argv, s.Flags...)
	for _, d := range s.Defines {
		argv = append(argv, "-D"+d)
	}
	for _, inc := range s.Includes {
		argv = append(argv, "-I"+inc)
	}
	return append(argv, "-o", s.Object, s.Source)
}

// Object declares a compiled object.
func (g *Graph) Object(s CompileSpec) *Node {
	return g.add(&Node{
		ID:      "object:" + s.Object,
		Kind:    KindObject,
		Label:   "Compiling " + filepath.Base(s.Source),
		Inputs:  []string{s.Source},
		Outputs: []string{s.Object},
		Argv:    s.Argv(),
	})
}

// LinkSpec describes a link step.
type LinkSpec struct {
	Linker   string
	Output   string
	Inputs   []string
	Flags    []string
	LibPaths []string
	Libs     []string
}

// Argv returns the linker command line.
func (s LinkSpec) Argv() []string {
	argv := []string{s.Linker}
	argv = append(argv, s.Flags...)
	argv = append(argv, "-o", s.Output)
	argv = append(argv, s.Inputs...)
	for _, p := range s.LibPaths {
		if p != "" {
			argv = append(argv, "-L"+p)
		}
	}
	for _, l := range s.Libs {
		if l != "" {
			argv = append(argv, "-l"+l)
		}
	}
	return argv
}

// SharedLibrary declares a shared library link. s.Flags must carry the
// platform's shared-link flags.
func (g *Graph) SharedLibrary(s LinkSpec) *Node {
	return g.add(&Node{
		ID:      "shlib:" + s.Output,
		Kind:    KindSharedLibrary,
		Label:   "Linking " + filepath.Base(s.Output),
		Inputs:  slices.Clone(s.Inputs),
		Outputs: []string{s.Output},
		Argv:    s.Argv(),
	})
}

// Program declares an executable link.
func (g *Graph) Program(s LinkSpec) *Node {
	return g.add(&Node{
		ID:      "program:" + s.Output,
		Kind:    KindProgram,
		Label:   "Linking " + filepath.Base(s.Output),
		Inputs:  slices.Clone(s.Inputs),
		Outputs: []string{s.Output},
		Argv:    s.Argv(),
	})
}

// Install declares a copy of src to dst in the install phase.
func (g *Graph) Install(dst, src string) *Node {
	return g.add(&Node{
		ID:      "install:" + dst,
		Kind:    KindInstall,
		Phase:   PhaseInstall,
		Label:   "Install " + dst,
		Inputs:  []string{src},
		Outputs: []string{dst},
		action: func(context.Context, Runner) error {
			return copyFile(dst, src)
		},
	})
}

// Command declares a custom step with explicit inputs and outputs.
func (g *Graph) Command(id, label string, inputs, outputs []string, action Action) *Node {
	return g.add(&Node{
		ID:      "command:" + id,
		Kind:    KindCommand,
		Label:   label,
		Inputs:  slices.Clone(inputs),
		Outputs: slices.Clone(outputs),
		action:  action,
	})
}

// PostInstall declares an install-phase step that modifies already
// installed files. It runs after the producers of inputs.
func (g *Graph) PostInstall(id, label string, inputs []string, action Action) *Node {
	return g.add(&Node{
		ID:     "postinstall:" + id,
		Kind:   KindCommand,
		Phase:  PhaseInstall,
		Label:  label,
		Inputs: slices.Clone(inputs),
		action: action,
	})
}

// Symlink declares link -> target. target is written verbatim, so a bare
// file name yields a link relative to the link's directory. Creation is
// best effort: a link left by an earlier run is kept.
func (g *Graph) Symlink(link, target string, phase Phase) *Node {
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(link), target)
	}
	return g.add(&Node{
		ID:      "symlink:" + link,
		Kind:    KindSymlink,
		Phase:   phase,
		Label:   "Symlink " + filepath.Base(link) + " -> " + target,
		Inputs:  []string{resolved},
		Outputs: []string{link},
		action: func(context.Context, Runner) error {
			return symlink(link, target)
		},
	})
}

// Clean adds files that the clean action removes in addition to the
// declared build outputs.
func (g *Graph) Clean(files ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clean = append(g.clean, files...)
}

// Merge moves the nodes and clean entries of sub into g. Nodes with an ID
// already present in g are dropped.
func (g *Graph) Merge(sub *Graph) {
	if sub == nil || sub == g {
		return
	}
	sub.mu.Lock()
	nodes := slices.Clone(sub.nodes)
	clean := slices.Clone(sub.clean)
	sub.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range nodes {
		if _, ok := g.byID[n.ID]; ok {
			continue
		}
		n.g = g
		g.nodes = append(g.nodes, n)
		g.byID[n.ID] = n
	}
	g.clean = append(g.clean, clean...)
}

// Nodes returns the declared nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.nodes)
}

// Lookup returns the node with the given ID.
func (g *Graph) Lookup(id string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.byID[id]
	return n, ok
}

// Producer returns the node that declares path as an output.
func (g *Graph) Producer(path string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		if slices.Contains(n.Outputs, path) {
			return n, true
		}
	}
	return nil, false
}

// CleanTargets returns the files removed by a clean: every build-phase
// output plus the extra clean entries.
func (g *Graph) CleanTargets() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var files []string
	for _, n := range g.nodes {
		if n.Phase == PhaseBuild {
			files = append(files, n.Outputs...)
		}
	}
	files = append(files, g.clean...)
	slices.Sort(files)
	return slices.Compact(files)
}
