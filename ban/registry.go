// Package ban implements C2: the ban registry. Grounded on the teacher's
// hk-driven timer idiom (register a named callback, cancel by name) applied
// to spec.md §4.2's {target_pnn, timer} entries, and on the teacher's
// cluster-wide flag propagation style (ais/earlystart.go's mod-flags-then-
// broadcast sequencing) for how a ban reaches every peer.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package ban

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/nlog"
	"github.com/xu354cjo1008/ctdb/hk"
	"github.com/xu354cjo1008/ctdb/peer"
)

// Entry is one ban registry row (spec.md §3's {target_pnn, timer}).
type Entry struct {
	Target  cluster.PNN
	Since   time.Time
	Seconds int64 // 0 == permanent, until explicit unban
}

// FlagSetter is the minimal collaborator the registry needs to reflect a ban
// cluster-wide: broadcast mod_flags to every connected peer. The election
// engine's PriorityTime mutator is a second, narrower collaborator.
type FlagSetter interface {
	BroadcastModFlags(ctx context.Context, targets []cluster.PNN, setMask, clearMask cluster.Flags) error
}

// PriorityLowerer lets Registry lower this node's own election priority when
// it bans itself (spec.md §4.2: "if the banned node is self, also updates
// local priority_time").
type PriorityLowerer interface {
	LowerOwnPriority()
}

// Registry is the ban registry (C2); one instance lives on every node, but
// only the recovery master's Ban/Unban calls are ever exercised against
// cluster state (C6 gates admin ban/unban messages to master-only).
type Registry struct {
	mu      sync.Mutex
	self    cluster.PNN
	entries map[cluster.PNN]Entry
	flags   FlagSetter
	prio    PriorityLowerer
	hkTimer *hk.Housekeeper

	// EnableBans mirrors the `enable_bans` tunable (I6): when false, Ban is a
	// no-op for all inputs. Refreshed by the monitor loop each tick.
	EnableBans bool
}

func New(self cluster.PNN, flags FlagSetter, prio PriorityLowerer, hkTimer *hk.Housekeeper) *Registry {
	if hkTimer == nil {
		hkTimer = hk.DefaultHK
	}
	return &Registry{
		self:       self,
		entries:    make(map[cluster.PNN]Entry),
		flags:      flags,
		prio:       prio,
		hkTimer:    hkTimer,
		EnableBans: true,
	}
}

func timerName(pnn cluster.PNN) string { return fmt.Sprintf("ban-%d%s", pnn, hk.NameSuffix) }

// Restore seeds the registry from persisted entries at startup (store
// package), re-arming any remaining expiry timer against elapsed time
// instead of the original duration. When a restored timer fires the entry
// is dropped; restored entries carry no target list, so no clear of BANNED
// is broadcast for them.
func (r *Registry) Restore(entries map[cluster.PNN]Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pnn, e := range entries {
		r.entries[pnn] = e
		if e.Seconds <= 0 {
			continue
		}
		remaining := time.Duration(e.Seconds)*time.Second - time.Since(e.Since)
		if remaining <= 0 {
			delete(r.entries, pnn)
			continue
		}
		pnn := pnn
		r.hkTimer.Reg(timerName(pnn), func() time.Duration {
			nlog.Infof("ban: restored timer expired for pnn %d", pnn)
			r.expire(context.Background(), nil, pnn)
			return hk.UnregInterval
		}, remaining)
	}
}

// Ban sets BANNED cluster-wide for pnn and, if seconds > 0, schedules
// automatic expiry. A seconds of 0 means "until explicit unban."
func (r *Registry) Ban(ctx context.Context, targets []cluster.PNN, pnn cluster.PNN, seconds int64) error {
	r.mu.Lock()
	if !r.EnableBans {
		r.mu.Unlock()
		nlog.Infof("ban: refused pnn %d, enable_bans=0", pnn)
		return nil
	}
	r.entries[pnn] = Entry{Target: pnn, Since: time.Now(), Seconds: seconds}
	isSelf := pnn == r.self
	r.mu.Unlock()

	if err := r.flags.BroadcastModFlags(ctx, targets, cluster.Banned, 0); err != nil {
		return err
	}

	if isSelf && r.prio != nil {
		r.prio.LowerOwnPriority()
	}

	if seconds > 0 {
		due := time.Duration(seconds) * time.Second
		r.hkTimer.Reg(timerName(pnn), func() time.Duration {
			r.expire(ctx, targets, pnn)
			return hk.UnregInterval
		}, due)
	}

	nlog.Infof("ban: pnn %d for %ds", pnn, seconds)
	return nil
}

func (r *Registry) expire(ctx context.Context, targets []cluster.PNN, pnn cluster.PNN) {
	r.mu.Lock()
	_, ok := r.entries[pnn]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.Unban(ctx, targets, pnn); err != nil {
		nlog.Errorf("ban: expiry unban pnn %d: %v", pnn, err)
	}
}

// Unban clears BANNED for pnn and releases its entry/timer. No-op if pnn is
// not currently banned.
func (r *Registry) Unban(ctx context.Context, targets []cluster.PNN, pnn cluster.PNN) error {
	r.mu.Lock()
	if _, ok := r.entries[pnn]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, pnn)
	r.mu.Unlock()

	r.hkTimer.Unreg(timerName(pnn))
	return r.flags.BroadcastModFlags(ctx, targets, 0, cluster.Banned)
}

// UnbanAll clears every currently-banned, non-disconnected peer — used on
// election loss (spec.md §4.3) to wipe a stale master's bans.
func (r *Registry) UnbanAll(ctx context.Context, nm cluster.NodeMap) error {
	r.mu.Lock()
	pnns := make([]cluster.PNN, 0, len(r.entries))
	for pnn := range r.entries {
		pnns = append(pnns, pnn)
	}
	r.mu.Unlock()

	targets := nm.ActivePNNs()
	var firstErr error
	for _, pnn := range pnns {
		if n, ok := nm.Get(pnn); ok && n.Flags.Has(cluster.Disconnected) {
			continue
		}
		if err := r.Unban(ctx, targets, pnn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsBanned reports whether pnn currently has a live entry.
func (r *Registry) IsBanned(pnn cluster.PNN) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[pnn]
	return ok
}

// Snapshot returns a copy of every current entry, keyed by pnn.
func (r *Registry) Snapshot() map[cluster.PNN]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[cluster.PNN]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// ReconstructLocalView applies the registry's own bans onto a freshly
// fetched node map: "the local cluster view of BANNED is reconstructed every
// monitor tick from the local registry" (spec.md §4.2 invariant).
func (r *Registry) ReconstructLocalView(nm cluster.NodeMap) cluster.NodeMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := nm.Clone()
	for i := range out {
		if _, banned := r.entries[out[i].PNN]; banned {
			out[i].Flags = out[i].Flags.Set(cluster.Banned)
		}
	}
	return out
}

// PeerFlagSetter is the default FlagSetter, built from a peer registry
// and fan-out primitive; kept here so callers don't need to reimplement the
// fan-out wiring themselves. This node's own pnn is dropped from the
// targets, since a peer registry resolves other nodes only.
type PeerFlagSetter struct {
	Registry    peer.Registry
	Timeout     time.Duration
	MaxInFlight int
}

func (b *PeerFlagSetter) BroadcastModFlags(ctx context.Context, targets []cluster.PNN, setMask, clearMask cluster.Flags) error {
	peers := make([]cluster.PNN, 0, len(targets))
	for _, p := range targets {
		if p != b.Registry.Self() {
			peers = append(peers, p)
		}
	}
	_, errs := peer.FanOut(ctx, b.Registry, peers, b.Timeout, b.MaxInFlight,
		func(ctx context.Context, c peer.Client) (peer.Result, error) {
			if err := c.ModFlags(ctx, setMask, clearMask); err != nil {
				return peer.Failed, err
			}
			return peer.OK, nil
		})
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		return err // surface one representative error; fan-out already logged per-peer detail upstream
	}
	return nil
}

var _ FlagSetter = (*PeerFlagSetter)(nil)
