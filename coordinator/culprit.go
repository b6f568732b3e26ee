// Culprit tracking: master-local {last_culprit, first_time, counter} with
// auto-ban on threshold (spec.md §3, I9). Grounded on the teacher's simple
// mutex-guarded counter structs (e.g. reb's retry counters) rather than
// anything fancier — this is a handful of fields behind a mutex.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package coordinator

import (
	"sync"
	"time"

	"github.com/xu354cjo1008/ctdb/cluster"
)

// CulpritTracker implements election.CulpritTracker (Reset) plus the
// recovery procedure's Note/ShouldAutoBan contract.
type CulpritTracker struct {
	mu          sync.Mutex
	last        cluster.PNN
	firstTime   time.Time
	counter     int
	gracePeriod time.Duration
}

func NewCulpritTracker(gracePeriod time.Duration) *CulpritTracker {
	return &CulpritTracker{last: cluster.Unknown, gracePeriod: gracePeriod}
}

func (c *CulpritTracker) SetGracePeriod(d time.Duration) {
	c.mu.Lock()
	c.gracePeriod = d
	c.mu.Unlock()
}

// Note records a recovery's culprit and returns the updated counter. Per
// spec.md §3: reset when the culprit changes, or when
// now - first_time > recovery_grace_period.
func (c *CulpritTracker) Note(pnn cluster.PNN) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.last != pnn || (!c.firstTime.IsZero() && now.Sub(c.firstTime) > c.gracePeriod) {
		c.last = pnn
		c.firstTime = now
		c.counter = 0
	}
	c.counter++
	return c.counter
}

// ShouldAutoBan reports whether the counter has exceeded 2*num_nodes (I9),
// and if so the pnn to ban and resets the counter.
func (c *CulpritTracker) ShouldAutoBan(numNodes int) (cluster.PNN, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counter > 2*numNodes {
		pnn := c.last
		c.counter = 0
		return pnn, true
	}
	return cluster.Unknown, false
}

// Reset clears all tracked state — called on election loss (spec.md §4.3).
func (c *CulpritTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = cluster.Unknown
	c.firstTime = time.Time{}
	c.counter = 0
}

// Restore seeds the tracker from a persisted snapshot at startup, so a
// restarted coordinator doesn't lose progress toward the auto-ban threshold.
func (c *CulpritTracker) Restore(last cluster.PNN, firstTime time.Time, counter int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = last
	c.firstTime = firstTime
	c.counter = counter
}

func (c *CulpritTracker) Snapshot() (last cluster.PNN, firstTime time.Time, counter int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.firstTime, c.counter
}
