// Package recovery implements C5: the 15-stage recovery procedure run
// exclusively by the recovery master. Grounded on the teacher's own
// multi-stage control-plane transactions (ais/prxtxn.go's txn begin/commit
// sequencing, ais/earlystart.go's join-then-sync-then-broadcast flow)
// adapted to spec.md §4.5's db/vnn/dmaster/vacuum/takeover pipeline.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package recovery

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/nlog"
	"github.com/xu354cjo1008/ctdb/coordinator"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/transport"
)

// Run executes the ordered recovery procedure with culprit as the node
// whose disagreement/failure triggered it. Any stage failure returns with
// coord.needRecovery still set, so the next monitor tick retries (spec.md
// §4.5 preamble).
func Run(ctx context.Context, coord *coordinator.Coordinator, culprit cluster.PNN) error {
	t := coord.Tunables.Tunables()
	coord.Stats.Recoveries.Inc()

	n := coord.Culprits.Note(culprit)
	nlog.Infof("recovery: starting, culprit=%d (count=%d)", culprit, n)

	coord.SetNeedRecovery(true)

	nm, err := coord.Local.GetNodeMap(ctx)
	if err != nil {
		return errors.Wrap(err, "recovery: get local nodemap")
	}
	if banPNN, ok := coord.Culprits.ShouldAutoBan(len(nm)); ok {
		nlog.Warningf("recovery: culprit %d exceeded threshold, auto-banning for %s", banPNN, t.RecoveryBanPeriod)
		if err := coord.Bans.Ban(ctx, nm.ActivePNNs(), banPNN, int64(t.RecoveryBanPeriod/time.Second)); err != nil {
			nlog.Errorf("recovery: auto-ban pnn %d: %v", banPNN, err)
		}
	}

	active := nm.ActivePNNs()
	peersOnly := exceptSelf(active, coord.Self)

	// 1. acquire recovery lock
	if err := coord.Lock.AcquireWithTimeout(t.RecoverTimeout); err != nil {
		return errors.Wrap(err, "recovery: stage 1 acquire lock")
	}

	// 2. freeze cluster
	if err := fanOutSimple(ctx, coord, peersOnly, t.RecoverTimeout, func(ctx context.Context, c peer.Client) error {
		return c.Freeze(ctx)
	}); err != nil {
		return errors.Wrap(err, "recovery: stage 2 freeze")
	}
	if err := coord.Local.Freeze(ctx); err != nil {
		return errors.Wrap(err, "recovery: stage 2 freeze self")
	}
	if err := fanOutSimple(ctx, coord, peersOnly, t.RecoverTimeout, func(ctx context.Context, c peer.Client) error {
		return c.SetRecMode(ctx, cluster.Active)
	}); err != nil {
		return errors.Wrap(err, "recovery: stage 2 set_recmode active")
	}
	if err := coord.Local.SetRecMode(ctx, cluster.Active); err != nil {
		return errors.Wrap(err, "recovery: stage 2 set_recmode active self")
	}

	// 3. bump local generation (self only — deliberately leaves the cluster
	// inconsistent so a mid-recovery abort is detected next tick).
	bumpVNN := cluster.NewGeneration()
	localVNN, err := coord.Local.GetVNNMap(ctx)
	if err != nil {
		return errors.Wrap(err, "recovery: stage 3 get local vnnmap")
	}
	localVNN.Generation = bumpVNN
	if err := coord.Local.SetVNNMap(ctx, localVNN); err != nil {
		return errors.Wrap(err, "recovery: stage 3 set local vnnmap")
	}

	// 4. database map reconciliation
	if err := createMissingRemoteDatabases(ctx, coord, peersOnly); err != nil {
		return errors.Wrap(err, "recovery: stage 4a create_missing_remote_databases")
	}
	if err := createMissingLocalDatabases(ctx, coord, peersOnly); err != nil {
		return errors.Wrap(err, "recovery: stage 4b create_missing_local_databases")
	}
	// deliberate second invocation: covers databases that arrived during 4b.
	if err := createMissingRemoteDatabases(ctx, coord, peersOnly); err != nil {
		return errors.Wrap(err, "recovery: stage 4a (second pass) create_missing_remote_databases")
	}

	dbMap, err := coord.Local.GetDBMap(ctx)
	if err != nil {
		return errors.Wrap(err, "recovery: stage 4 refresh local dbmap")
	}

	// 5. pull
	if err := copyAllDBs(ctx, coord, dbMap, peersOnly, true); err != nil {
		return errors.Wrap(err, "recovery: stage 5 pull")
	}

	// 6. push
	if err := copyAllDBs(ctx, coord, dbMap, peersOnly, false); err != nil {
		return errors.Wrap(err, "recovery: stage 6 push")
	}

	// 7. new vnn map
	newVNN := cluster.NewFromActive(nm)
	if err := coord.Local.SetVNNMap(ctx, newVNN); err != nil {
		return errors.Wrap(err, "recovery: stage 7 set local vnnmap")
	}
	if err := fanOutSimple(ctx, coord, peersOnly, t.RecoverTimeout, func(ctx context.Context, c peer.Client) error {
		return c.SetVNNMap(ctx, newVNN)
	}); err != nil {
		return errors.Wrap(err, "recovery: stage 7 push vnnmap")
	}

	// 8. set recmaster = self everywhere
	if err := fanOutSimple(ctx, coord, peersOnly, t.RecoverTimeout, func(ctx context.Context, c peer.Client) error {
		return c.SetRecMaster(ctx, coord.Self)
	}); err != nil {
		return errors.Wrap(err, "recovery: stage 8 set_recmaster")
	}
	coord.Election.SetRecMaster(coord.Self)

	// 9. update dmaster
	for dbid := range dbMap {
		dbid := dbid
		if err := fanOutSimple(ctx, coord, peersOnly, t.RecoverTimeout, func(ctx context.Context, c peer.Client) error {
			return c.SetDMaster(ctx, dbid, coord.Self)
		}); err != nil {
			return errors.Wrapf(err, "recovery: stage 9 set_dmaster dbid=%d", dbid)
		}
	}

	// 10. propagate flags
	connected := connectedPNNs(nm)
	for _, n := range nm {
		env, err := transport.EncodeEnvelope(transport.NodeFlagsChanged, coord.Self, transport.NodeFlagsChangedMsg{
			PNN: n.PNN, OldFlags: n.Flags, NewFlags: n.Flags,
		})
		if err != nil {
			return errors.Wrap(err, "recovery: stage 10 encode")
		}
		if err := broadcastEnvelope(ctx, coord, connected, t.RecoverTimeout, env); err != nil {
			nlog.Warningf("recovery: stage 10 propagate flags for pnn %d: %v", n.PNN, err)
		}
	}

	// 11. vacuum
	for dbid := range dbMap {
		maxRSN, err := coord.Local.GetMaxRSN(ctx, dbid)
		if err != nil {
			return errors.Wrapf(err, "recovery: stage 11 get_max_rsn dbid=%d", dbid)
		}
		// NOTE: max_rsn is read only from local state, never reconciled
		// against peers first — preserved from the original implementation's
		// vacuum watermark, including its known imprecision.
		watermark := maxRSN + 1
		dbid := dbid
		if err := fanOutSimple(ctx, coord, peersOnly, t.RecoverTimeout, func(ctx context.Context, c peer.Client) error {
			if err := c.SetRSNNonEmpty(ctx, dbid, watermark); err != nil {
				return err
			}
			return c.DeleteLowRSN(ctx, dbid, watermark)
		}); err != nil {
			return errors.Wrapf(err, "recovery: stage 11 vacuum dbid=%d", dbid)
		}
	}

	// 12. IP takeover
	if coord.Takeover != nil {
		if err := coord.Takeover.Run(); err != nil {
			return errors.Wrap(err, "recovery: stage 12 ip takeover")
		}
		coord.SetNeedTakeoverRun(false)
	}

	// 13. thaw
	if err := fanOutSimple(ctx, coord, peersOnly, t.RecoverTimeout, func(ctx context.Context, c peer.Client) error {
		if err := c.SetRecMode(ctx, cluster.Normal); err != nil {
			return err
		}
		return c.Thaw(ctx)
	}); err != nil {
		return errors.Wrap(err, "recovery: stage 13 thaw")
	}
	if err := coord.Local.SetRecMode(ctx, cluster.Normal); err != nil {
		return errors.Wrap(err, "recovery: stage 13 thaw self recmode")
	}
	if err := coord.Local.Thaw(ctx); err != nil {
		return errors.Wrap(err, "recovery: stage 13 thaw self")
	}

	// 14. broadcast RECONFIGURE
	env, err := transport.EncodeEnvelope(transport.Reconfigure, coord.Self, struct{}{})
	if err != nil {
		return errors.Wrap(err, "recovery: stage 14 encode")
	}
	if err := broadcastEnvelope(ctx, coord, connected, t.RecoverTimeout, env); err != nil {
		nlog.Warningf("recovery: stage 14 broadcast reconfigure: %v", err)
	}

	// 15. clear need_recovery; sleep rerecovery_timeout
	coord.SetNeedRecovery(false)
	nlog.Infof("recovery: complete, sleeping rerecovery_timeout=%s", t.RerecoveryTimeout)
	select {
	case <-time.After(t.RerecoveryTimeout):
	case <-ctx.Done():
	}
	return nil
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

func connectedPNNs(nm cluster.NodeMap) []cluster.PNN {
	out := make([]cluster.PNN, 0, len(nm))
	for _, n := range nm {
		if !n.Flags.Has(cluster.Disconnected) {
			out = append(out, n.PNN)
		}
	}
	return out
}

func fanOutSimple(ctx context.Context, coord *coordinator.Coordinator, targets []cluster.PNN, timeout time.Duration, fn func(context.Context, peer.Client) error) error {
	_, errs := peer.FanOut(ctx, coord.Registry, targets, timeout, 0, func(ctx context.Context, c peer.Client) (peer.Result, error) {
		if err := fn(ctx, c); err != nil {
			return peer.Failed, err
		}
		return peer.OK, nil
	})
	if len(errs) == 0 {
		return nil
	}
	agg := &errAgg{}
	for pnn, err := range errs {
		agg.add(pnn, err)
	}
	return agg
}

type errAgg struct {
	items []string
}

func (a *errAgg) add(pnn cluster.PNN, err error) {
	a.items = append(a.items, errors.Wrapf(err, "pnn %d", pnn).Error())
}

func (a *errAgg) Error() string {
	s := ""
	for i, it := range a.items {
		if i > 0 {
			s += "; "
		}
		s += it
	}
	return s
}

func broadcastEnvelope(ctx context.Context, coord *coordinator.Coordinator, targets []cluster.PNN, timeout time.Duration, env transport.Envelope) error {
	return fanOutSimple(ctx, coord, exceptSelf(targets, coord.Self), timeout, func(ctx context.Context, c peer.Client) error {
		return c.SendMessage(ctx, env.Srvid, coord.Self, env.Payload)
	})
}

func createMissingRemoteDatabases(ctx context.Context, coord *coordinator.Coordinator, peers []cluster.PNN) error {
	localDBs, err := coord.Local.GetDBMap(ctx)
	if err != nil {
		return errors.Wrap(err, "get local dbmap")
	}
	for dbid, db := range localDBs {
		dbid, db := dbid, db
		if err := fanOutSimple(ctx, coord, peers, 0, func(ctx context.Context, c peer.Client) error {
			remote, err := c.GetDBMap(ctx)
			if err != nil {
				return err
			}
			if _, ok := remote[dbid]; ok {
				return nil
			}
			name, err := coord.Local.GetDBName(ctx, dbid)
			if err != nil {
				name = db.Name
			}
			return c.CreateDB(ctx, name, db.Persistent)
		}); err != nil {
			return errors.Wrapf(err, "dbid=%d", dbid)
		}
	}
	return nil
}

func createMissingLocalDatabases(ctx context.Context, coord *coordinator.Coordinator, peers []cluster.PNN) error {
	localDBs, err := coord.Local.GetDBMap(ctx)
	if err != nil {
		return errors.Wrap(err, "get local dbmap")
	}
	for _, pnn := range peers {
		c, ok := coord.Registry.Client(pnn)
		if !ok {
			continue
		}
		remote, err := c.GetDBMap(ctx)
		if err != nil {
			return errors.Wrapf(err, "pnn %d get_dbmap", pnn)
		}
		for _, db := range localDBs.Missing(remote) {
			// db exists remotely but not locally: create it here too.
			if err := coord.Local.CreateDB(ctx, db.Name, db.Persistent); err != nil {
				return errors.Wrapf(err, "create local db %q", db.Name)
			}
		}
	}
	return nil
}

func copyAllDBs(ctx context.Context, coord *coordinator.Coordinator, dbMap cluster.DBMap, peers []cluster.PNN, pull bool) error {
	for dbid := range dbMap {
		dbid := dbid
		if err := fanOutSimple(ctx, coord, peers, 0, func(ctx context.Context, c peer.Client) error {
			if pull {
				return c.CopyDB(ctx, c.PNN(), coord.Self, dbid)
			}
			return c.CopyDB(ctx, coord.Self, c.PNN(), dbid)
		}); err != nil {
			return errors.Wrapf(err, "dbid=%d pull=%v", dbid, pull)
		}
	}
	return nil
}
