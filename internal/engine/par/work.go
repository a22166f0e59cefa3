// Copyright (c) 2026 The XGo Authors (xgo.dev). All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package par runs sets of work items in parallel.
package par

import (
	"context"
	"sync"
)

// Work manages a set of work items to be executed in parallel, at most once each.
// The items in the set must all be valid map keys.
type Work[T comparable] struct {
	f       func(context.Context, T) // function to run for each item
	running int                      // total number of runners

	mu      sync.Mutex
	added   map[T]bool // items added to set
	todo    []T        // items yet to be run, in insertion order
	dropped []T        // items never run because the context ended
	wait    sync.Cond  // wait when todo is empty
	waiting int        // number of runners waiting for todo
}

func (w *Work[T]) init() {
	if w.added == nil {
		w.added = make(map[T]bool)
	}
}

// Add adds item to the work set, if it hasn't already been added.
func (w *Work[T]) Add(item T) {
	w.mu.Lock()
	w.init()
	if !w.added[item] {
		w.added[item] = true
		w.todo = append(w.todo, item)
		if w.waiting > 0 {
			w.wait.Signal()
		}
	}
	w.mu.Unlock()
}

// Do runs f in parallel on items from the work set,
// with at most n invocations of f running at a time.
// It returns when everything added to the work set has been processed
// or, once ctx is done, when the running invocations have returned.
// Items are started in the order they were added. f may add new items.
// Do should only be used once on a given Work.
func (w *Work[T]) Do(ctx context.Context, n int, f func(ctx context.Context, item T)) {
	if n < 1 {
		panic("par.Work.Do: n < 1")
	}
	if w.running >= 1 {
		panic("par.Work.Do: already called Do")
	}

	w.running = n
	w.f = f
	w.wait.L = &w.mu

	var wg sync.WaitGroup
	for i := 0; i < n-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runner(ctx)
		}()
	}
	w.runner(ctx)
	wg.Wait()
}

// Dropped returns the items that were added but never run because the
// context passed to Do was done.
func (w *Work[T]) Dropped() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]T(nil), w.dropped...)
}

// runner executes work in w until both nothing is left to do
// and all the runners are waiting for work.
// (Then all the runners return.)
func (w *Work[T]) runner(ctx context.Context) {
	for {
		w.mu.Lock()
		if ctx.Err() != nil && len(w.todo) > 0 {
			w.dropped = append(w.dropped, w.todo...)
			w.todo = nil
		}
		for len(w.todo) == 0 {
			w.waiting++
			if w.waiting == w.running {
				// All done.
				w.wait.Broadcast()
				w.mu.Unlock()
				return
			}
			w.wait.Wait()
			w.waiting--
		}

		item := w.todo[0]
		w.todo = w.todo[1:]
		w.mu.Unlock()

		w.f(ctx, item)
	}
}
