// MockClient is an in-memory peer.Client used by scenario tests, grounded on
// the teacher's mock cluster member (ais/test/target_mock.go): a fake node
// that answers control calls from local state instead of the network, so
// multi-node scenarios can be driven deterministically without sockets.
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

// MockClient holds one mock peer's entire visible state plus injectable
// failure behavior, so tests can simulate partitions, slow peers, and
// disagreeing views without a real transport.
type MockClient struct {
	mu sync.Mutex

	pnn        cluster.PNN
	nodeMap    cluster.NodeMap
	vnnMap     *cluster.VNNMap
	dbMap      cluster.DBMap
	recMaster  cluster.PNN
	recMode    cluster.RecoveryMode
	publicIPs  []string
	tunables   Tunables
	maxRSN     map[uint32]uint64
	messages   []transport.Envelope

	// Unreachable, when true, makes every call return a transient RPC error
	// — the mock's equivalent of a partitioned/dead peer.
	Unreachable bool
}

func NewMockClient(pnn cluster.PNN) *MockClient {
	return &MockClient{
		pnn:      pnn,
		dbMap:    make(cluster.DBMap),
		maxRSN:   make(map[uint32]uint64),
		recMode:  cluster.Normal,
		tunables: Tunables{},
	}
}

func (m *MockClient) PNN() cluster.PNN { return m.pnn }

func (m *MockClient) down() error {
	if m.Unreachable {
		return cos.NewKindError(cos.KindTransientRPC, errUnreachableMock{pnn: m.pnn})
	}
	return nil
}

type errUnreachableMock struct{ pnn cluster.PNN }

func (e errUnreachableMock) Error() string { return "mock peer unreachable" }

func (m *MockClient) SetNodeMap(nm cluster.NodeMap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeMap = nm.Clone()
}

func (m *MockClient) SetVNNMap(_ context.Context, vm *cluster.VNNMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if vm.Generation == cluster.InvalidGeneration {
		return cos.NewKindError(cos.KindInvariantViolation, errBadGeneration{})
	}
	cp := vm.Clone()
	m.vnnMap = cp
	return nil
}

type errBadGeneration struct{}

func (errBadGeneration) Error() string { return "refusing invalid vnnmap generation" }

func (m *MockClient) SetDBMap(dm cluster.DBMap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbMap = dm.Clone()
}

func (m *MockClient) SetRecMasterDirect(pnn cluster.PNN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recMaster = pnn
}

func (m *MockClient) SetPublicIPs(ips []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicIPs = append([]string(nil), ips...)
}

func (m *MockClient) SetTunables(t Tunables) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tunables = t
}

func (m *MockClient) SetMaxRSN(dbid uint32, rsn uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxRSN[dbid] = rsn
}

func (m *MockClient) Messages() []transport.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.Envelope(nil), m.messages...)
}

func (m *MockClient) GetPNN(context.Context) (cluster.PNN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pnn, m.down()
}

func (m *MockClient) GetNodeMap(context.Context) (cluster.NodeMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	return m.nodeMap.Clone(), nil
}

func (m *MockClient) GetVNNMap(context.Context) (*cluster.VNNMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	if m.vnnMap == nil {
		return &cluster.VNNMap{}, nil
	}
	return m.vnnMap.Clone(), nil
}

func (m *MockClient) GetDBMap(context.Context) (cluster.DBMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	return m.dbMap.Clone(), nil
}

func (m *MockClient) GetDBName(_ context.Context, dbid uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return "", err
	}
	db, ok := m.dbMap[dbid]
	if !ok {
		return "", cos.NewErrNotFound("db %d", dbid)
	}
	return db.Name, nil
}

func (m *MockClient) GetPublicIPs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	return append([]string(nil), m.publicIPs...), nil
}

func (m *MockClient) GetRecMaster(context.Context) (cluster.PNN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recMaster, m.down()
}

func (m *MockClient) GetRecMode(context.Context) (cluster.RecoveryMode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recMode, m.down()
}

func (m *MockClient) GetMaxRSN(_ context.Context, dbid uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return 0, err
	}
	return m.maxRSN[dbid], nil
}

func (m *MockClient) GetAllTunables(context.Context) (Tunables, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tunables, m.down()
}

func (m *MockClient) SetRecMaster(_ context.Context, pnn cluster.PNN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	m.recMaster = pnn
	return nil
}

func (m *MockClient) SetRecMode(_ context.Context, mode cluster.RecoveryMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	m.recMode = mode
	return nil
}

func (m *MockClient) SetDMaster(_ context.Context, dbid uint32, pnn cluster.PNN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	db := m.dbMap[dbid]
	db.DBID = dbid
	m.dbMap[dbid] = db
	_ = pnn // mock tracks only existence; dmaster routing is out of scope here
	return nil
}

func (m *MockClient) ModFlags(_ context.Context, setMask, clearMask cluster.Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if i := m.nodeMap.IndexOf(m.pnn); i >= 0 {
		m.nodeMap[i].Flags = m.nodeMap[i].Flags.Set(setMask).Clear(clearMask)
	}
	return nil
}

func (m *MockClient) CreateDB(_ context.Context, name string, persistent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	id := uint32(len(m.dbMap) + 1)
	m.dbMap[id] = cluster.DB{DBID: id, Name: name, Persistent: persistent}
	return nil
}

func (m *MockClient) Freeze(context.Context) error { m.mu.Lock(); defer m.mu.Unlock(); return m.down() }
func (m *MockClient) Thaw(context.Context) error   { m.mu.Lock(); defer m.mu.Unlock(); return m.down() }

func (m *MockClient) CopyDB(_ context.Context, _, _ cluster.PNN, _ uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.down()
}

func (m *MockClient) SetRSNNonEmpty(_ context.Context, dbid uint32, rsn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if rsn > m.maxRSN[dbid] {
		m.maxRSN[dbid] = rsn
	}
	return nil
}

func (m *MockClient) DeleteLowRSN(_ context.Context, _ uint32, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.down()
}

func (m *MockClient) SendMessage(_ context.Context, srvid transport.Srvid, from cluster.PNN, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	m.messages = append(m.messages, transport.Envelope{Srvid: srvid, From: int32(from), Payload: payload})
	return nil
}

var _ Client = (*MockClient)(nil)

// MockRegistry is a Registry backed by MockClients, used to wire up
// multi-node scenario tests.
type MockRegistry struct {
	mu      sync.RWMutex
	self    cluster.PNN
	clients map[cluster.PNN]Client
}

func NewMockRegistry(self cluster.PNN) *MockRegistry {
	return &MockRegistry{self: self, clients: make(map[cluster.PNN]Client)}
}

func (r *MockRegistry) Self() cluster.PNN { return r.self }

func (r *MockRegistry) Add(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.PNN()] = c
}

func (r *MockRegistry) Remove(pnn cluster.PNN) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, pnn)
}

func (r *MockRegistry) Client(pnn cluster.PNN) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[pnn]
	return c, ok
}

var _ Registry = (*MockRegistry)(nil)
