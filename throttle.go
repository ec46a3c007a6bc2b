// Copyright (C) The mixQTL Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mixqtl

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// throttle admits at most Max concurrent goroutines and remembers
// the first reported error.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan bool
	err       atomic.Value
	setupOnce sync.Once
	errorOnce sync.Once
}

func (t *throttle) Acquire() {
	t.setupOnce.Do(func() { t.ch = make(chan bool, t.Max) })
	t.wg.Add(1)
	t.ch <- true
}

func (t *throttle) Release() {
	t.wg.Done()
	<-t.ch
}

// Go runs f on its own goroutine once a slot is free, reporting its
// error if it is the first.
func (t *throttle) Go(f func() error) {
	t.Acquire()
	go func() {
		defer t.Release()
		t.Report(f())
	}()
}

func (t *throttle) Report(err error) {
	if err != nil {
		t.errorOnce.Do(func() { t.err.Store(err) })
	}
}

func (t *throttle) Err() error {
	err, _ := t.err.Load().(error)
	return err
}

func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}

// eachColumnRange partitions [0,cols) into contiguous ranges, one
// per available CPU, and runs fn on each range concurrently. Ranges
// are disjoint, so fn may write to distinct output columns without
// locking.
func eachColumnRange(cols int, fn func(lo, hi int)) {
	procs := runtime.GOMAXPROCS(0)
	if procs > cols {
		procs = cols
	}
	if procs <= 1 {
		fn(0, cols)
		return
	}
	th := throttle{Max: procs}
	chunk := (cols + procs - 1) / procs
	for lo := 0; lo < cols; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > cols {
			hi = cols
		}
		th.Acquire()
		go func() {
			defer th.Release()
			fn(lo, hi)
		}()
	}
	th.Wait()
}
