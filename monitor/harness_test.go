package monitor_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/xu354cjo1008/ctdb/ban"
	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/coordinator"
	"github.com/xu354cjo1008/ctdb/election"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/reclock"
	"github.com/xu354cjo1008/ctdb/stats"
	"github.com/xu354cjo1008/ctdb/store"
)

// harness builds a 3-node cluster as seen from one node's coordinator: Local
// is that node's own MockClient, Registry holds the other two as peers —
// mirroring the teacher's mock cluster member pattern extended to a
// multi-node view instead of a single target.
type harness struct {
	self    cluster.PNN
	nodes   map[cluster.PNN]*peer.MockClient
	coord   *coordinator.Coordinator
	lockDir string
}

func newHarness(self cluster.PNN, pnns []cluster.PNN) *harness {
	nm := make(cluster.NodeMap, 0, len(pnns))
	for _, p := range pnns {
		nm = append(nm, cluster.Node{PNN: p})
	}

	// every node starts on one shared vnnmap generation, as a healthy cluster does
	vnn := cluster.NewFromActive(nm)
	nodes := make(map[cluster.PNN]*peer.MockClient, len(pnns))
	for _, p := range pnns {
		c := peer.NewMockClient(p)
		c.SetNodeMap(nm)
		c.SetVNNMap(context.Background(), vnn)
		c.SetRecMasterDirect(pnns[0])
		nodes[p] = c
	}

	registry := peer.NewMockRegistry(self)
	for _, p := range pnns {
		if p != self {
			registry.Add(nodes[p])
		}
	}

	lockDir, _ := os.MkdirTemp("", "ctdb-reclock-*")
	lock := reclock.New(filepath.Join(lockDir, "recovery.lock"))

	electionEngine := election.New(self, registry, nil, nil, lock)
	flagSetter := &ban.PeerFlagSetter{Registry: registry, Timeout: time.Second}
	banRegistry := ban.New(self, flagSetter, electionEngine, nil)
	electionEngine.SetBanRegistry(banRegistry)
	culprits := coordinator.NewCulpritTracker(time.Minute)
	electionEngine.SetCulpritTracker(culprits)
	electionEngine.SetRecMaster(pnns[0])

	st, err := store.Open("")
	if err != nil {
		panic(err)
	}

	coord := &coordinator.Coordinator{
		Self:     self,
		Local:    nodes[self],
		Registry: registry,
		Bans:     banRegistry,
		Election: electionEngine,
		Culprits: culprits,
		Lock:     lock,
		Store:    st,
		Stats:    stats.New(nil),
		Tunables: coordinator.StaticSource{T: coordinator.Tunables{
			RecoverInterval:     time.Millisecond,
			RecoverTimeout:      time.Second,
			ElectionTimeout:     20 * time.Millisecond,
			RecoveryGracePeriod: time.Minute,
			RecoveryBanPeriod:   time.Minute,
			RerecoveryTimeout:   time.Millisecond,
			EnableBans:          true,
		}},
	}

	return &harness{self: self, nodes: nodes, coord: coord, lockDir: lockDir}
}

func (h *harness) close() { os.RemoveAll(h.lockDir) }
