// Package hk provides a mechanism for registering cleanup/periodic functions
// invoked at specified intervals — the housekeeper that drives ban-timer
// expiry (ban.Registry), so the ban registry never hand-rolls its own timer
// bookkeeping. The recovery and election waits use plain time.After timers.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/xu354cjo1008/ctdb/cmn/nlog"
)

const NameSuffix = "-hk"

// UnregInterval tells Run to drop the entry instead of rescheduling it.
const UnregInterval = time.Duration(-1)

type request struct {
	f        func() time.Duration
	name     string
	due      time.Time
	initTime time.Duration
}

type reqHeap []*request

func (h reqHeap) Len() int            { return len(h) }
func (h reqHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h reqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *reqHeap) Push(x any)         { *h = append(*h, x.(*request)) }
func (h *reqHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Housekeeper is one instance of the timer-driven callback registry; tests
// use their own instance (TestInit), production code uses DefaultHK.
type Housekeeper struct {
	mu      sync.Mutex
	byName  map[string]*request
	h       reqHeap
	wake    chan struct{}
	started chan struct{}
	stop    chan struct{}
	once    sync.Once
}

var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*request),
		wake:    make(chan struct{}, 1),
		started: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// TestInit resets DefaultHK for a fresh test run.
func TestInit() { DefaultHK = New() }

// Reg schedules f to run after `interval`; f returns the next interval to
// wait (return UnregInterval to deregister). interval == 0 means "run once,
// as soon as possible."
func (hk *Housekeeper) Reg(name string, f func() time.Duration, interval time.Duration) {
	hk.mu.Lock()
	if old, ok := hk.byName[name]; ok {
		old.f = f // replace in place; due time untouched
		hk.mu.Unlock()
		return
	}
	req := &request{f: f, name: name, due: time.Now().Add(interval), initTime: interval}
	hk.byName[name] = req
	heap.Push(&hk.h, req)
	hk.mu.Unlock()
	hk.nudge()
}

func (hk *Housekeeper) Unreg(name string) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	req, ok := hk.byName[name]
	if !ok {
		return
	}
	delete(hk.byName, name)
	for i, r := range hk.h {
		if r == req {
			heap.Remove(&hk.h, i)
			break
		}
	}
}

func (hk *Housekeeper) nudge() {
	select {
	case hk.wake <- struct{}{}:
	default:
	}
}

// Run drives the housekeeper loop until Stop is called.
func (hk *Housekeeper) Run() {
	close(hk.started)
	for {
		hk.mu.Lock()
		var d time.Duration
		if len(hk.h) == 0 {
			d = time.Hour
		} else {
			d = time.Until(hk.h[0].due)
			if d < 0 {
				d = 0
			}
		}
		hk.mu.Unlock()

		timer := time.NewTimer(d)
		select {
		case <-hk.stop:
			timer.Stop()
			return
		case <-hk.wake:
			timer.Stop()
		case <-timer.C:
		}
		hk.fireDue()
	}
}

func (hk *Housekeeper) fireDue() {
	now := time.Now()
	for {
		hk.mu.Lock()
		if len(hk.h) == 0 || hk.h[0].due.After(now) {
			hk.mu.Unlock()
			return
		}
		req := heap.Pop(&hk.h).(*request)
		hk.mu.Unlock()

		next := hk.call(req)
		if next == UnregInterval {
			hk.mu.Lock()
			delete(hk.byName, req.name)
			hk.mu.Unlock()
			continue
		}
		req.due = now.Add(next)
		hk.mu.Lock()
		heap.Push(&hk.h, req)
		hk.mu.Unlock()
	}
}

func (hk *Housekeeper) call(req *request) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: %q panicked: %v", req.name, r)
			next = req.initTime
		}
	}()
	return req.f()
}

func (hk *Housekeeper) Stop() { hk.once.Do(func() { close(hk.stop) }) }

// WaitStarted blocks until Run has been entered at least once.
func WaitStarted() { <-DefaultHK.started }

func Reg(name string, f func() time.Duration, interval time.Duration) {
	DefaultHK.Reg(name, f, interval)
}
func Unreg(name string) { DefaultHK.Unreg(name) }
