// LocalState is the authoritative, in-process Client implementation for this
// node's own state — what the HTTP control listener delegates into when
// serving inbound peer RPCs, and what coord.Local reads/writes directly so
// the monitor loop never pays a network hop to inspect its own node (spec.md
// §4.1's note that the local peer is "a Client like any other", minus the
// wire). Grounded on the same mock-member shape as MockClient, trimmed of
// its test-only failure-injection knobs.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package peer

import (
	"context"
	"sync"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/cos"
	"github.com/xu354cjo1008/ctdb/transport"
)

type LocalState struct {
	mu sync.Mutex

	pnn       cluster.PNN
	nodeMap   cluster.NodeMap
	vnnMap    *cluster.VNNMap
	dbMap     cluster.DBMap
	recMaster cluster.PNN
	recMode   cluster.RecoveryMode
	publicIPs []string
	tunables  Tunables
	maxRSN    map[uint32]uint64

	// Dispatch is called for every inbound SendMessage — normally wired to
	// dispatch.Dispatcher.Dispatch by cmd/recoverd's main.
	Dispatch func(ctx context.Context, env transport.Envelope)
}

func NewLocalState(self cluster.PNN, nm cluster.NodeMap, t Tunables) *LocalState {
	return &LocalState{
		pnn:      self,
		nodeMap:  nm.Clone(),
		vnnMap:   cluster.NewFromActive(nm),
		dbMap:    make(cluster.DBMap),
		recMode:  cluster.Normal,
		tunables: t,
		maxRSN:   make(map[uint32]uint64),
	}
}

func (l *LocalState) PNN() cluster.PNN { return l.pnn }

func (l *LocalState) GetPNN(context.Context) (cluster.PNN, error) { return l.pnn, nil }

func (l *LocalState) GetNodeMap(context.Context) (cluster.NodeMap, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nodeMap.Clone(), nil
}

func (l *LocalState) GetVNNMap(context.Context) (*cluster.VNNMap, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vnnMap.Clone(), nil
}

func (l *LocalState) GetDBMap(context.Context) (cluster.DBMap, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dbMap.Clone(), nil
}

func (l *LocalState) GetDBName(_ context.Context, dbid uint32) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	db, ok := l.dbMap[dbid]
	if !ok {
		return "", cos.NewErrNotFound("db %d", dbid)
	}
	return db.Name, nil
}

func (l *LocalState) GetPublicIPs(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.publicIPs...), nil
}

func (l *LocalState) GetRecMaster(context.Context) (cluster.PNN, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recMaster, nil
}

func (l *LocalState) GetRecMode(context.Context) (cluster.RecoveryMode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recMode, nil
}

func (l *LocalState) GetMaxRSN(_ context.Context, dbid uint32) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxRSN[dbid], nil
}

func (l *LocalState) GetAllTunables(context.Context) (Tunables, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tunables, nil
}

func (l *LocalState) SetTunables(t Tunables) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tunables = t
}

func (l *LocalState) SetPublicIPs(ips []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publicIPs = append([]string(nil), ips...)
}

func (l *LocalState) SetNodeMap(nm cluster.NodeMap) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodeMap = nm.Clone()
}

func (l *LocalState) SetRecMaster(_ context.Context, pnn cluster.PNN) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recMaster = pnn
	return nil
}

func (l *LocalState) SetRecMode(_ context.Context, mode cluster.RecoveryMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recMode = mode
	return nil
}

func (l *LocalState) SetVNNMap(_ context.Context, vm *cluster.VNNMap) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if vm.Generation == cluster.InvalidGeneration {
		return cos.NewKindError(cos.KindInvariantViolation, errBadGeneration{})
	}
	l.vnnMap = vm.Clone()
	return nil
}

func (l *LocalState) SetDMaster(_ context.Context, dbid uint32, _ cluster.PNN) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	db := l.dbMap[dbid]
	db.DBID = dbid
	l.dbMap[dbid] = db
	return nil
}

func (l *LocalState) ModFlags(_ context.Context, setMask, clearMask cluster.Flags) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.nodeMap.IndexOf(l.pnn); i >= 0 {
		l.nodeMap[i].Flags = l.nodeMap[i].Flags.Set(setMask).Clear(clearMask)
	}
	return nil
}

func (l *LocalState) CreateDB(_ context.Context, name string, persistent bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uint32(len(l.dbMap) + 1)
	l.dbMap[id] = cluster.DB{DBID: id, Name: name, Persistent: persistent}
	return nil
}

func (l *LocalState) Freeze(context.Context) error { return nil }
func (l *LocalState) Thaw(context.Context) error   { return nil }

func (l *LocalState) CopyDB(_ context.Context, _, _ cluster.PNN, _ uint32) error { return nil }

func (l *LocalState) SetRSNNonEmpty(_ context.Context, dbid uint32, rsn uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rsn > l.maxRSN[dbid] {
		l.maxRSN[dbid] = rsn
	}
	return nil
}

func (l *LocalState) DeleteLowRSN(_ context.Context, _ uint32, _ uint64) error { return nil }

func (l *LocalState) SendMessage(ctx context.Context, srvid transport.Srvid, from cluster.PNN, payload []byte) error {
	if l.Dispatch != nil {
		l.Dispatch(ctx, transport.Envelope{Srvid: srvid, From: int32(from), Payload: payload})
	}
	return nil
}

var _ Client = (*LocalState)(nil)
