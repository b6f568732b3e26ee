// Package monitor implements C4: the 17-step periodic monitor loop.
// Grounded on the teacher's own early-startup polling loop
// (ais/earlystart.go's primary election retry loop: sleep, refresh state,
// check condition, maybe force an election, repeat) generalized from a
// bootstrap-only loop into the steady-state loop this coordinator runs
// forever.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package monitor

import (
	"context"
	"time"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/nlog"
	"github.com/xu354cjo1008/ctdb/coordinator"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/recovery"
	"github.com/xu354cjo1008/ctdb/store"
)

// Run drives the monitor loop until ctx is cancelled — spec.md §4.4's
// "runs forever", each iteration being one call to Tick.
func Run(ctx context.Context, coord *coordinator.Coordinator) {
	for {
		t := coord.Tunables.Tunables()
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.RecoverInterval): // step 1: sleep recover_interval
		}
		coord.Stats.MonitorTicks.Inc()
		Tick(ctx, coord)
	}
}

// Tick runs one iteration of steps 2-17. Every "restart iteration" point in
// spec.md §4.4 is a bare return here; the outer Run loop supplies the next
// sleep-and-retry. Exported so scenario tests can drive the loop
// deterministically without sleeping recover_interval.
func Tick(ctx context.Context, coord *coordinator.Coordinator) {
	t := coord.Tunables.Tunables() // step 2: refresh tunables
	coord.Bans.EnableBans = t.EnableBans

	nm, err := coord.Local.GetNodeMap(ctx)
	if err != nil {
		nlog.Warningf("monitor: get local nodemap: %v", err)
		return
	}
	vnnMap, err := coord.Local.GetVNNMap(ctx)
	if err != nil {
		nlog.Warningf("monitor: get local vnnmap: %v", err)
		return
	}
	if mode, err := coord.Local.GetRecMode(ctx); err == nil {
		coord.Stats.RecoveryMode.Set(float64(mode))
	}

	// step 3: reconcile nodemap BANNED flags with the local ban registry.
	nm = coord.Bans.ReconstructLocalView(nm)
	coord.Stats.ActiveBans.Set(float64(len(coord.Bans.Snapshot())))

	numActive := nm.NumActive() // step 4

	recMaster := coord.Election.RecMaster() // step 5
	coord.Stats.RecMaster.Set(float64(recMaster))
	if recMaster == cluster.Unknown {
		forceElection(ctx, coord, nm, t)
		return
	}

	// step 6: recmaster entry missing, DISCONNECTED, or (per its own view)
	// INACTIVE -> force election.
	masterNode, ok := nm.Get(recMaster)
	if !ok || masterNode.Flags.Has(cluster.Disconnected) {
		forceElection(ctx, coord, nm, t)
		return
	}
	if recMaster == coord.Self && masterNode.Flags.IsInactive() {
		forceElection(ctx, coord, nm, t)
		return
	}

	// step 7: public IP sanity.
	if coord.PublicIPs != nil {
		if mismatch := checkPublicIPs(coord); mismatch {
			if err := coord.Local.Freeze(ctx); err != nil {
				nlog.Errorf("monitor: freeze self after ip mismatch: %v", err)
			}
			if err := coord.Local.SetRecMode(ctx, cluster.Active); err != nil {
				nlog.Errorf("monitor: set_recmode active after ip mismatch: %v", err)
			}
			return
		}
	}

	if coord.Self != recMaster { // step 8: followers stop here.
		return
	}

	// steps 10-17: master-only duties.
	masterTick(ctx, coord, nm, vnnMap, numActive, t)
}

func forceElection(ctx context.Context, coord *coordinator.Coordinator, nm cluster.NodeMap, t coordinator.Tunables) {
	coord.Stats.ForcedElections.Inc()
	selfNode, _ := nm.Get(coord.Self)
	coord.Election.ForceElection(ctx, nm, selfNode.Flags, t.ElectionTimeout)
	coord.Stats.Elections.Inc()
}

func masterTick(ctx context.Context, coord *coordinator.Coordinator, nm cluster.NodeMap, vnnMap *cluster.VNNMap, numActive int, t coordinator.Tunables) {
	peers := exceptSelf(nm.ActivePNNs(), coord.Self)
	connected := exceptSelf(nm.ConnectedPNNs(), coord.Self)

	// step 10: update_local_flags polls every *connected* peer (spec.md
	// §4.4 step 10), not just active ones — a banned or disabled peer that
	// is still connected must still be asked about its own flag changes,
	// or the master can never adopt it un-disabling itself until the next
	// election/recovery cycle.
	nm = updateLocalFlags(ctx, coord, nm, connected)

	// step 11: refresh per-node public-ip inventories (external collaborator;
	// a no-op when none is configured).
	if coord.PublicIPs != nil {
		if _, err := coord.PublicIPs.Bound(); err != nil {
			nlog.Warningf("monitor: refresh public ips: %v", err)
		}
	}

	// step 12: verify_recmaster.
	switch verifyRecMaster(ctx, coord, peers, t) {
	case peer.ElectionNeeded:
		forceElection(ctx, coord, nm, t)
		return
	case peer.Failed:
		return
	}

	// step 13: previous recovery incomplete.
	if coord.NeedRecovery() {
		runRecovery(ctx, coord, coord.Self)
		return
	}

	// step 14: verify_recmode.
	switch verifyRecMode(ctx, coord, peers, t) {
	case peer.RecoveryNeeded:
		runRecovery(ctx, coord, coord.Self)
		return
	case peer.Failed:
		return
	}

	// step 15: recovery lock still held?
	if !coord.Lock.Held() {
		runRecovery(ctx, coord, coord.Self)
		return
	}

	// step 16: consistency checks.
	if culprit, mismatch := consistencyCheck(ctx, coord, nm, vnnMap, numActive, peers); mismatch {
		runRecovery(ctx, coord, culprit)
		return
	}

	// step 17: pending takeover.
	if coord.NeedTakeoverRun() && coord.Takeover != nil {
		if err := coord.Takeover.Run(); err != nil {
			nlog.Errorf("monitor: ip takeover: %v", err)
			runRecovery(ctx, coord, coord.Self)
			return
		}
		coord.SetNeedTakeoverRun(false)
	}
}

func runRecovery(ctx context.Context, coord *coordinator.Coordinator, culprit cluster.PNN) {
	if err := recovery.Run(ctx, coord, culprit); err != nil {
		nlog.Errorf("monitor: recovery failed: %v", err)
	}
	persistState(coord)
}

// persistState saves the ban registry and culprit tracker so a restart
// doesn't lose progress toward the auto-ban threshold or forget active bans.
func persistState(coord *coordinator.Coordinator) {
	if coord.Store == nil {
		return
	}
	if err := coord.Store.SaveBans(coord.Bans.Snapshot()); err != nil {
		nlog.Errorf("monitor: persist bans: %v", err)
	}
	last, firstTime, counter := coord.Culprits.Snapshot()
	var firstTimeNs int64
	if !firstTime.IsZero() {
		firstTimeNs = firstTime.UnixNano()
	}
	persisted := store.PersistedCulprit{LastCulprit: int32(last), FirstTimeNs: firstTimeNs, Counter: counter}
	if err := coord.Store.SaveCulprit(persisted); err != nil {
		nlog.Errorf("monitor: persist culprit state: %v", err)
	}
}

func checkPublicIPs(coord *coordinator.Coordinator) bool {
	should, err := coord.PublicIPs.ShouldServe()
	if err != nil {
		nlog.Warningf("monitor: should_serve: %v", err)
		return false
	}
	bound, err := coord.PublicIPs.Bound()
	if err != nil {
		nlog.Warningf("monitor: bound: %v", err)
		return false
	}
	shouldSet := toSet(should)
	boundSet := toSet(bound)
	for ip := range shouldSet {
		if !boundSet[ip] {
			return true
		}
	}
	for ip := range boundSet {
		if !shouldSet[ip] {
			return true
		}
	}
	return false
}

func toSet(ips []string) map[string]bool {
	out := make(map[string]bool, len(ips))
	for _, ip := range ips {
		out[ip] = true
	}
	return out
}

func updateLocalFlags(ctx context.Context, coord *coordinator.Coordinator, nm cluster.NodeMap, peers []cluster.PNN) cluster.NodeMap {
	out := nm.Clone()
	for _, pnn := range peers {
		c, ok := coord.Registry.Client(pnn)
		if !ok {
			continue
		}
		remote, err := c.GetNodeMap(ctx)
		if err != nil {
			nlog.Warningf("monitor: update_local_flags get_nodemap pnn %d: %v", pnn, err)
			continue
		}
		rn, ok := remote.Get(pnn)
		if !ok {
			continue
		}
		i := out.IndexOf(pnn)
		if i < 0 || out[i].Flags == rn.Flags {
			continue
		}
		out[i].Flags = rn.Flags
	}
	return coord.Bans.ReconstructLocalView(nm.WithLocalDisconnected(out)) // local DISCONNECTED/BANNED authority always wins (I1)
}

func verifyRecMaster(ctx context.Context, coord *coordinator.Coordinator, peers []cluster.PNN, t coordinator.Tunables) peer.Result {
	status, errs := peer.FanOut(ctx, coord.Registry, peers, t.RecoverTimeout, 0, func(ctx context.Context, c peer.Client) (peer.Result, error) {
		rm, err := c.GetRecMaster(ctx)
		if err != nil {
			return peer.Failed, err
		}
		if rm != coord.Self {
			return peer.ElectionNeeded, nil
		}
		return peer.OK, nil
	})
	for pnn, err := range errs {
		nlog.Warningf("monitor: verify_recmaster pnn %d: %v", pnn, err)
	}
	return status
}

func verifyRecMode(ctx context.Context, coord *coordinator.Coordinator, peers []cluster.PNN, t coordinator.Tunables) peer.Result {
	status, errs := peer.FanOut(ctx, coord.Registry, peers, t.RecoverTimeout, 0, func(ctx context.Context, c peer.Client) (peer.Result, error) {
		mode, err := c.GetRecMode(ctx)
		if err != nil {
			return peer.Failed, err
		}
		if mode != cluster.Normal {
			return peer.RecoveryNeeded, nil
		}
		return peer.OK, nil
	})
	for pnn, err := range errs {
		nlog.Warningf("monitor: verify_recmode pnn %d: %v", pnn, err)
	}
	return status
}

// consistencyCheck implements step 16's pairwise comparisons; it returns the
// first disagreeing peer found, since spec.md names that peer as the
// recovery culprit.
func consistencyCheck(ctx context.Context, coord *coordinator.Coordinator, nm cluster.NodeMap, vnnMap *cluster.VNNMap, numActive int, peers []cluster.PNN) (cluster.PNN, bool) {
	if err := vnnMap.Valid(nm); err != nil {
		nlog.Warningf("monitor: local vnnmap invalid: %v", err)
		return coord.Self, true
	}

	var culprit cluster.PNN
	var mismatch bool
	for _, pnn := range peers {
		if mismatch {
			break
		}
		c, ok := coord.Registry.Client(pnn)
		if !ok {
			continue
		}
		remoteNM, err := c.GetNodeMap(ctx)
		if err != nil {
			nlog.Warningf("monitor: consistency get_nodemap pnn %d: %v", pnn, err)
			culprit, mismatch = pnn, true
			continue
		}
		if !nm.SameShape(remoteNM) || !nm.SameInactive(remoteNM) {
			culprit, mismatch = pnn, true
			continue
		}
		remoteVNN, err := c.GetVNNMap(ctx)
		if err != nil {
			nlog.Warningf("monitor: consistency get_vnnmap pnn %d: %v", pnn, err)
			culprit, mismatch = pnn, true
			continue
		}
		if !vnnMap.Equal(remoteVNN) {
			culprit, mismatch = pnn, true
			continue
		}
	}
	if mismatch {
		return culprit, true
	}
	return cluster.Unknown, false
}

func exceptSelf(pnns []cluster.PNN, self cluster.PNN) []cluster.PNN {
	out := make([]cluster.PNN, 0, len(pnns))
	for _, p := range pnns {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}
