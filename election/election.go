// Package election implements C3: the `beats` winning function and election
// message send/handle. Grounded on the teacher's primary-proxy election
// (ais/earlystart.go's vote comparison between joining proxies) adapted from
// aistore's version-then-ID tie-break to spec.md §4.3's
// banned/num_connected/priority_time/pnn lexicographic order.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package election

import (
	"context"
	"sync"
	"time"

	"github.com/xu354cjo1008/ctdb/ban"
	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/nlog"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/transport"
)

// Candidate is one side of a `beats` comparison (spec.md §4.3): self or a
// peer, as seen in an election message or locally.
type Candidate struct {
	PNN          cluster.PNN
	NumConnected uint32
	PriorityTime int64 // unix nanos; earlier (smaller) wins
	Flags        cluster.Flags
}

// Beats reports whether `me` wins against `peer` under spec.md §4.3's
// lexicographic tie-break: BANNED check, then NumConnected, then
// PriorityTime (earlier wins), then PNN (higher wins).
func Beats(me, peer Candidate) bool {
	meBanned := me.Flags.Has(cluster.Banned)
	peerBanned := peer.Flags.Has(cluster.Banned)
	switch {
	case meBanned && !peerBanned:
		return false
	case peerBanned && !meBanned:
		return true
	}
	if me.NumConnected != peer.NumConnected {
		return me.NumConnected > peer.NumConnected
	}
	if me.PriorityTime != peer.PriorityTime {
		return me.PriorityTime < peer.PriorityTime
	}
	return me.PNN > peer.PNN
}

// CulpritTracker is the narrow interface the election engine uses to reset
// master-local culprit bookkeeping on an election loss (spec.md §4.3:
// "clear the ban registry and culprit tracking").
type CulpritTracker interface {
	Reset()
}

// RecoveryLockHolder lets the engine release a held lock on election loss.
type RecoveryLockHolder interface {
	Release() error
	Held() bool
}

// Engine is C3: it owns this node's Candidate state, talks to the ban
// registry and recovery lock on loss, and exposes SendElection /
// HandleElectionMessage / ForceElection exactly per spec.md §4.3.
type Engine struct {
	mu sync.Mutex

	self      cluster.PNN
	priority  int64 // this node's priority_time; mutated by BanRegistry on self-ban
	recMaster cluster.PNN

	registry peer.Registry
	bans     *ban.Registry
	culprits CulpritTracker
	lock     RecoveryLockHolder

	Timeout     time.Duration
	MaxInFlight int
}

func New(self cluster.PNN, registry peer.Registry, bans *ban.Registry, culprits CulpritTracker, lock RecoveryLockHolder) *Engine {
	return &Engine{
		self:      self,
		priority:  time.Now().UnixNano(),
		recMaster: cluster.Unknown,
		registry:  registry,
		bans:      bans,
		culprits:  culprits,
		lock:      lock,
	}
}

// SetBanRegistry and SetCulpritTracker let callers finish wiring an Engine
// constructed before its ban registry exists (ban.Registry's constructor
// itself takes the Engine as its PriorityLowerer, so one side must be
// attached after the fact).
func (e *Engine) SetBanRegistry(bans *ban.Registry) {
	e.mu.Lock()
	e.bans = bans
	e.mu.Unlock()
}

func (e *Engine) SetCulpritTracker(culprits CulpritTracker) {
	e.mu.Lock()
	e.culprits = culprits
	e.mu.Unlock()
}

// LowerOwnPriority implements ban.PriorityLowerer: banning self must make
// this node lose future elections it would otherwise have won on priority.
func (e *Engine) LowerOwnPriority() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.priority = time.Now().UnixNano()
}

func (e *Engine) RecMaster() cluster.PNN {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recMaster
}

func (e *Engine) SetRecMaster(pnn cluster.PNN) {
	e.mu.Lock()
	e.recMaster = pnn
	e.mu.Unlock()
}

func (e *Engine) candidate(nm cluster.NodeMap, flags cluster.Flags) Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Candidate{
		PNN:          e.self,
		NumConnected: uint32(nm.NumConnected()),
		PriorityTime: e.priority,
		Flags:        flags,
	}
}

// SendElection sets local recmaster = self and broadcasts the election
// message to every connected peer (spec.md §4.3).
func (e *Engine) SendElection(ctx context.Context, nm cluster.NodeMap, selfFlags cluster.Flags) {
	e.SetRecMaster(e.self)
	me := e.candidate(nm, selfFlags)

	msg := transport.ElectionMsg{
		NumConnected: me.NumConnected,
		PriorityTime: me.PriorityTime,
		PNN:          me.PNN,
		NodeFlags:    me.Flags,
	}
	env, err := transport.EncodeEnvelope(transport.Recovery, e.self, msg)
	if err != nil {
		nlog.Errorf("election: encode: %v", err)
		return
	}

	targets := connectedExceptSelf(nm, e.self)
	_, errs := peer.FanOut(ctx, e.registry, targets, e.Timeout, e.MaxInFlight,
		func(ctx context.Context, c peer.Client) (peer.Result, error) {
			if err := c.SendMessage(ctx, env.Srvid, e.self, env.Payload); err != nil {
				return peer.Failed, err
			}
			return peer.OK, nil
		})
	for pnn, err := range errs {
		nlog.Warningf("election: send to pnn %d: %v", pnn, err)
	}
}

// HandleElectionMessage is the receiving side of spec.md §4.3: compare
// ourselves against the sender; resend our own election on a win, or accept
// theirs (releasing any held lock, clearing bans/culprits) on a loss.
func (e *Engine) HandleElectionMessage(ctx context.Context, nm cluster.NodeMap, selfFlags cluster.Flags, from transport.ElectionMsg) {
	me := e.candidate(nm, selfFlags)
	them := Candidate{PNN: from.PNN, NumConnected: from.NumConnected, PriorityTime: from.PriorityTime, Flags: from.NodeFlags}

	if Beats(me, them) {
		e.SendElection(ctx, nm, selfFlags)
		return
	}

	if e.lock != nil && e.lock.Held() {
		if err := e.lock.Release(); err != nil {
			nlog.Errorf("election: release lock on loss: %v", err)
		}
	}
	if e.bans != nil {
		if err := e.bans.UnbanAll(ctx, nm); err != nil {
			nlog.Errorf("election: unban_all on loss: %v", err)
		}
	}
	e.SetRecMaster(them.PNN)
	if e.culprits != nil {
		e.culprits.Reset()
	}
}

// ForceElection implements spec.md §4.4 step 6/12 and §4.3's forced-election
// sequence: set recmode ACTIVE cluster-wide, send our own election, then
// sleep election_timeout to collect responses.
func (e *Engine) ForceElection(ctx context.Context, nm cluster.NodeMap, selfFlags cluster.Flags, electionTimeout time.Duration) {
	targets := nm.ActivePNNs()
	_, errs := peer.FanOut(ctx, e.registry, targets, e.Timeout, e.MaxInFlight,
		func(ctx context.Context, c peer.Client) (peer.Result, error) {
			if err := c.SetRecMode(ctx, cluster.Active); err != nil {
				return peer.Failed, err
			}
			return peer.OK, nil
		})
	for pnn, err := range errs {
		nlog.Warningf("force_election: set_recmode active on pnn %d: %v", pnn, err)
	}

	e.SendElection(ctx, nm, selfFlags)

	select {
	case <-time.After(electionTimeout):
	case <-ctx.Done():
	}
}

func connectedExceptSelf(nm cluster.NodeMap, self cluster.PNN) []cluster.PNN {
	out := make([]cluster.PNN, 0, len(nm))
	for _, n := range nm {
		if n.PNN == self || n.Flags.Has(cluster.Disconnected) {
			continue
		}
		out = append(out, n.PNN)
	}
	return out
}
