// Package peer implements C1: typed control requests to a single peer, and
// the async fan-out primitive used by the monitor and recovery stages.
// Grounded on the teacher's control-plane RPC style (ais/prxtxn.go's
// txnClientCtx.bcast, ais/earlystart.go's bcastMaxVer) adapted from
// object-storage transactions to this domain's peer ops.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package peer

import (
	"context"
	"time"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/transport"
)

// Tunables mirrors spec.md §6: the set of tunables a peer can report back
// via GetAllTunables. The monitor loop does not refresh it; each tick reads
// coordinator.Tunables instead.
type Tunables struct {
	RecoverInterval      time.Duration
	RecoverTimeout       time.Duration
	ElectionTimeout      time.Duration
	RecoveryGracePeriod  time.Duration
	RecoveryBanPeriod    time.Duration
	RerecoveryTimeout    time.Duration
	EnableBans           bool
}

// Client is the full control-RPC surface of spec.md §4.1, bound to one peer.
type Client interface {
	PNN() cluster.PNN

	GetPNN(ctx context.Context) (cluster.PNN, error)
	GetNodeMap(ctx context.Context) (cluster.NodeMap, error)
	GetVNNMap(ctx context.Context) (*cluster.VNNMap, error)
	GetDBMap(ctx context.Context) (cluster.DBMap, error)
	GetDBName(ctx context.Context, dbid uint32) (string, error)
	GetPublicIPs(ctx context.Context) ([]string, error)
	GetRecMaster(ctx context.Context) (cluster.PNN, error)
	GetRecMode(ctx context.Context) (cluster.RecoveryMode, error)
	GetMaxRSN(ctx context.Context, dbid uint32) (uint64, error)
	GetAllTunables(ctx context.Context) (Tunables, error)

	SetRecMaster(ctx context.Context, pnn cluster.PNN) error
	SetRecMode(ctx context.Context, mode cluster.RecoveryMode) error
	SetVNNMap(ctx context.Context, vm *cluster.VNNMap) error
	SetDMaster(ctx context.Context, dbid uint32, pnn cluster.PNN) error
	ModFlags(ctx context.Context, setMask, clearMask cluster.Flags) error
	CreateDB(ctx context.Context, name string, persistent bool) error
	Freeze(ctx context.Context) error
	Thaw(ctx context.Context) error
	CopyDB(ctx context.Context, srcPNN, dstPNN cluster.PNN, dbid uint32) error
	SetRSNNonEmpty(ctx context.Context, dbid uint32, rsn uint64) error
	DeleteLowRSN(ctx context.Context, dbid uint32, rsn uint64) error

	SendMessage(ctx context.Context, srvid transport.Srvid, from cluster.PNN, payload []byte) error
}

// Registry resolves a PNN to a Client, and enumerates the cluster's address
// book — the single collaborator both the monitor loop and recovery
// procedure consult for "who do I talk to."
type Registry interface {
	Client(pnn cluster.PNN) (Client, bool)
	Self() cluster.PNN
}
