// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/engine/par"
)

var (
	// ErrCycle is returned when the declared dependencies form a cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrSkipped marks nodes that did not run because a dependency failed.
	ErrSkipped = errors.New("skipped")
)

// Executor runs a graph.
type Executor struct {
	Runner Runner
	Jobs   int
	Logger *zap.Logger

	// OnDone is called after each node completes successfully.
	OnDone func(n *Node)
}

type nodeState struct {
	node       *Node
	deps       []*nodeState
	dependents []*nodeState
	pending    atomic.Int32
	skipOnce   sync.Once
	err        error
}

// plan selects the nodes of phase (and earlier phases) and wires their edges.
func plan(g *Graph, phase Phase) ([]*nodeState, error) {
	var states []*nodeState
	byNode := make(map[*Node]*nodeState)
	producers := make(map[string]*nodeState)
	for _, n := range g.Nodes() {
		if n.Phase > phase {
			continue
		}
		s := &nodeState{node: n}
		states = append(states, s)
		byNode[n] = s
		for _, out := range n.Outputs {
			producers[filepath.Clean(out)] = s
		}
	}

	for _, s := range states {
		seen := make(map[*nodeState]bool)
		link := func(d *nodeState) {
			if d == nil || d == s || seen[d] {
				return
			}
			seen[d] = true
			s.deps = append(s.deps, d)
			d.dependents = append(d.dependents, s)
		}
		g.mu.Lock()
		after := append([]*Node(nil), s.node.after...)
		g.mu.Unlock()
		for _, a := range after {
			d, ok := byNode[a]
			if !ok {
				if a.Phase > phase {
					return nil, fmt.Errorf("%s: depends on %s from a later phase", s.node.ID, a.ID)
				}
				return nil, fmt.Errorf("%s: depends on undeclared node %s", s.node.ID, a.ID)
			}
			link(d)
		}
		for _, in := range s.node.Inputs {
			link(producers[filepath.Clean(in)])
		}
		s.pending.Store(int32(len(s.deps)))
	}

	if cyc := findCycle(states); cyc != nil {
		ids := make([]string, len(cyc))
		for i, s := range cyc {
			ids[i] = s.node.ID
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(ids, " -> "))
	}
	return states, nil
}

func findCycle(states []*nodeState) []*nodeState {
	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[*nodeState]int, len(states))
	var stack []*nodeState
	var cycle []*nodeState
	var visit func(s *nodeState) bool
	visit = func(s *nodeState) bool {
		mark[s] = visiting
		stack = append(stack, s)
		for _, d := range s.deps {
			switch mark[d] {
			case visiting:
				for i, x := range stack {
					if x == d {
						cycle = append(append([]*nodeState(nil), stack[i:]...), d)
						break
					}
				}
				return true
			case unvisited:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		mark[s] = done
		return false
	}
	for _, s := range states {
		if mark[s] == unvisited && visit(s) {
			return cycle
		}
	}
	return nil
}

// Run executes every node of phase and of earlier phases. A failing node
// causes its dependents to be skipped; independent nodes keep running.
// The returned error joins the failures of the nodes that actually ran.
func (e *Executor) Run(ctx context.Context, g *Graph, phase Phase) error {
	log := e.Logger
	if log == nil {
		log = zap.NewNop()
	}
	jobs := e.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	states, err := plan(g, phase)
	if err != nil {
		return err
	}
	log.Debug("executing graph", zap.Stringer("phase", phase), zap.Int("nodes", len(states)), zap.Int("jobs", jobs))

	var w par.Work[*nodeState]
	for _, s := range states {
		if s.pending.Load() == 0 {
			w.Add(s)
		}
	}

	var skip func(s *nodeState, cause *Node)
	skip = func(s *nodeState, cause *Node) {
		for _, d := range s.dependents {
			d.skipOnce.Do(func() {
				d.err = fmt.Errorf("%w: %s failed", ErrSkipped, cause.ID)
				log.Debug("skipping", zap.String("node", d.node.ID), zap.String("cause", cause.ID))
				skip(d, cause)
			})
		}
	}

	w.Do(ctx, jobs, func(ctx context.Context, s *nodeState) {
		if err := ctx.Err(); err != nil {
			s.err = err
			skip(s, s.node)
			return
		}
		if err := e.runNode(ctx, s.node, log); err != nil {
			s.err = err
			log.Error("failed", zap.String("node", s.node.ID), zap.Error(err))
			skip(s, s.node)
			return
		}
		if e.OnDone != nil {
			e.OnDone(s.node)
		}
		for _, d := range s.dependents {
			if d.pending.Add(-1) == 0 {
				w.Add(d)
			}
		}
	})

	var errs []error
	skipped := 0
	for _, s := range states {
		switch {
		case s.err == nil:
		case errors.Is(s.err, ErrSkipped):
			skipped++
		default:
			errs = append(errs, fmt.Errorf("%s: %w", s.node.ID, s.err))
		}
	}
	if err := ctx.Err(); err != nil && len(errs) == 0 {
		errs = append(errs, err)
	}
	if skipped > 0 {
		log.Warn("targets not built because of earlier errors", zap.Int("count", skipped))
	}
	return errors.Join(errs...)
}

func (e *Executor) runNode(ctx context.Context, n *Node, log *zap.Logger) error {
	for _, out := range n.Outputs {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
	}
	if n.Label != "" {
		log.Info(n.Label)
	}
	if n.action != nil {
		return n.action(ctx, e.Runner)
	}
	if len(n.Argv) == 0 {
		return nil
	}
	if e.Runner == nil {
		return fmt.Errorf("no runner for %s", n.ID)
	}
	log.Debug("exec", zap.Strings("argv", n.Argv))
	return e.Runner.Run(ctx, n.Dir, n.Argv)
}

// Clean removes the graph's clean targets and returns the paths that were
// actually deleted.
func (e *Executor) Clean(g *Graph) ([]string, error) {
	log := e.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var removed []string
	var errs []error
	for _, f := range g.CleanTargets() {
		ok, err := removeFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			log.Debug("removed", zap.String("path", f))
			removed = append(removed, f)
		}
	}
	return removed, errors.Join(errs...)
}
