// Package dispatch implements C6: the srvid-keyed event dispatcher.
// Grounded on the teacher's own notification routing (ais/prxnotif.go's
// notifs map keyed by action, dispatched off incoming control messages)
// adapted here to spec.md §4.6's four well-known srvids.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package dispatch

import (
	"context"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/nlog"
	"github.com/xu354cjo1008/ctdb/coordinator"
	"github.com/xu354cjo1008/ctdb/transport"
)

// Handler processes one decoded envelope. Handlers must return quickly;
// long work (a recovery run) is left for the monitor loop to pick up via
// coord.SetNeedRecovery/SetNeedTakeoverRun (spec.md §4.6: "all handlers
// return quickly").
type Handler func(ctx context.Context, coord *coordinator.Coordinator, from cluster.PNN, payload []byte)

// Dispatcher routes an incoming Envelope to its registered Handler by srvid.
type Dispatcher struct {
	coord    *coordinator.Coordinator
	handlers map[transport.Srvid]Handler
}

func New(coord *coordinator.Coordinator) *Dispatcher {
	d := &Dispatcher{coord: coord, handlers: make(map[transport.Srvid]Handler)}
	d.handlers[transport.Recovery] = handleRecovery
	d.handlers[transport.NodeFlagsChanged] = handleNodeFlagsChanged
	d.handlers[transport.BanNode] = handleBanNode
	d.handlers[transport.UnbanNode] = handleUnbanNode
	return d
}

// Dispatch routes env to the handler registered for env.Srvid without
// decoding it; the handler itself unmarshals env.Payload into its expected
// payload type.
func (d *Dispatcher) Dispatch(ctx context.Context, env transport.Envelope) {
	h, ok := d.handlers[env.Srvid]
	if !ok {
		nlog.Warningf("dispatch: no handler for srvid %s", env.Srvid)
		return
	}
	h(ctx, d.coord, cluster.PNN(env.From), env.Payload)
}

func handleRecovery(ctx context.Context, coord *coordinator.Coordinator, from cluster.PNN, payload []byte) {
	var msg transport.ElectionMsg
	if err := transport.Unmarshal(payload, &msg); err != nil {
		nlog.Errorf("dispatch: RECOVERY decode from %d: %v", from, err)
		return
	}
	nm, err := coord.Local.GetNodeMap(ctx)
	if err != nil {
		nlog.Errorf("dispatch: RECOVERY get nodemap: %v", err)
		return
	}
	selfNode, _ := nm.Get(coord.Self)
	coord.Election.HandleElectionMessage(ctx, nm, selfNode.Flags, msg)
}

func handleNodeFlagsChanged(ctx context.Context, coord *coordinator.Coordinator, from cluster.PNN, payload []byte) {
	var msg transport.NodeFlagsChangedMsg
	if err := transport.Unmarshal(payload, &msg); err != nil {
		nlog.Errorf("dispatch: NODE_FLAGS_CHANGED decode from %d: %v", from, err)
		return
	}

	nm, err := coord.Local.GetNodeMap(ctx)
	if err != nil {
		nlog.Errorf("dispatch: NODE_FLAGS_CHANGED get nodemap: %v", err)
		return
	}

	// I1: ignore a remote report of DISCONNECTED — forcibly re-apply our own
	// local view of it instead of trusting the sender's.
	newFlags := msg.NewFlags
	if local, ok := nm.Get(msg.PNN); ok {
		if local.Flags.Has(cluster.Disconnected) {
			newFlags = newFlags.Set(cluster.Disconnected)
		} else {
			newFlags = newFlags.Clear(cluster.Disconnected)
		}
	}

	recMaster, err := coord.Local.GetRecMaster(ctx)
	if err != nil {
		nlog.Errorf("dispatch: NODE_FLAGS_CHANGED get recmaster: %v", err)
		return
	}
	coord.Election.SetRecMaster(recMaster)

	recMode, err := coord.Local.GetRecMode(ctx)
	if err != nil {
		nlog.Errorf("dispatch: NODE_FLAGS_CHANGED get recmode: %v", err)
		return
	}

	if coord.IsMaster() && recMode == cluster.Normal && newFlags.Has(cluster.Disabled) && !msg.OldFlags.Has(cluster.Disabled) {
		coord.SetNeedTakeoverRun(true)
	}
}

func handleBanNode(ctx context.Context, coord *coordinator.Coordinator, from cluster.PNN, payload []byte) {
	if !coord.IsMaster() {
		nlog.Infof("dispatch: BAN_NODE from %d ignored, not master", from)
		return
	}
	var msg transport.BanMsg
	if err := transport.Unmarshal(payload, &msg); err != nil {
		nlog.Errorf("dispatch: BAN_NODE decode from %d: %v", from, err)
		return
	}
	nm, err := coord.Local.GetNodeMap(ctx)
	if err != nil {
		nlog.Errorf("dispatch: BAN_NODE get nodemap: %v", err)
		return
	}
	if err := coord.Bans.Ban(ctx, nm.ActivePNNs(), msg.PNN, msg.BanTime); err != nil {
		nlog.Errorf("dispatch: BAN_NODE pnn %d: %v", msg.PNN, err)
		return
	}
	if coord.Store != nil {
		if err := coord.Store.SaveBans(coord.Bans.Snapshot()); err != nil {
			nlog.Errorf("dispatch: persist bans after BAN_NODE: %v", err)
		}
	}
}

func handleUnbanNode(ctx context.Context, coord *coordinator.Coordinator, from cluster.PNN, payload []byte) {
	if !coord.IsMaster() {
		nlog.Infof("dispatch: UNBAN_NODE from %d ignored, not master", from)
		return
	}
	var msg transport.UnbanMsg
	if err := transport.Unmarshal(payload, &msg); err != nil {
		nlog.Errorf("dispatch: UNBAN_NODE decode from %d: %v", from, err)
		return
	}
	nm, err := coord.Local.GetNodeMap(ctx)
	if err != nil {
		nlog.Errorf("dispatch: UNBAN_NODE get nodemap: %v", err)
		return
	}
	if err := coord.Bans.Unban(ctx, nm.ActivePNNs(), msg.PNN); err != nil {
		nlog.Errorf("dispatch: UNBAN_NODE pnn %d: %v", msg.PNN, err)
		return
	}
	if coord.Store != nil {
		if err := coord.Store.SaveBans(coord.Bans.Snapshot()); err != nil {
			nlog.Errorf("dispatch: persist bans after UNBAN_NODE: %v", err)
		}
	}
}
