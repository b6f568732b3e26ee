package recovery_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xu354cjo1008/ctdb/ban"
	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/coordinator"
	"github.com/xu354cjo1008/ctdb/election"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/reclock"
	"github.com/xu354cjo1008/ctdb/recovery"
	"github.com/xu354cjo1008/ctdb/stats"
	"github.com/xu354cjo1008/ctdb/store"
)

func TestRunHappyPath(t *testing.T) {
	nm := cluster.NodeMap{{PNN: 0}, {PNN: 1}, {PNN: 2}}

	self := peer.NewMockClient(0)
	self.SetNodeMap(nm)
	self.SetRecMasterDirect(0)
	peer1 := peer.NewMockClient(1)
	peer1.SetNodeMap(nm)
	peer2 := peer.NewMockClient(2)
	peer2.SetNodeMap(nm)

	registry := peer.NewMockRegistry(0)
	registry.Add(peer1)
	registry.Add(peer2)

	lock := reclock.New(filepath.Join(t.TempDir(), "recovery.lock"))
	electionEngine := election.New(0, registry, nil, nil, lock)
	flagSetter := &ban.PeerFlagSetter{Registry: registry, Timeout: time.Second}
	banRegistry := ban.New(0, flagSetter, electionEngine, nil)
	electionEngine.SetBanRegistry(banRegistry)
	culprits := coordinator.NewCulpritTracker(time.Minute)
	electionEngine.SetCulpritTracker(culprits)

	st, err := store.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	coord := &coordinator.Coordinator{
		Self:     0,
		Local:    self,
		Registry: registry,
		Bans:     banRegistry,
		Election: electionEngine,
		Culprits: culprits,
		Lock:     lock,
		Store:    st,
		Stats:    stats.New(nil),
		Tunables: coordinator.StaticSource{T: coordinator.Tunables{
			RecoverTimeout:    time.Second,
			RerecoveryTimeout: time.Millisecond,
			RecoveryBanPeriod: time.Minute,
		}},
	}

	if err := recovery.Run(context.Background(), coord, 2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if coord.NeedRecovery() {
		t.Error("NeedRecovery should be cleared on a successful run")
	}
	if !lock.Held() {
		t.Error("recovery should leave the lock held afterward (stage 13 only thaws, never releases)")
	}

	localVNN, err := self.GetVNNMap(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	peer1VNN, err := peer1.GetVNNMap(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !localVNN.Equal(peer1VNN) {
		t.Errorf("stage 7 should push a single agreed vnnmap: local=%v peer1=%v", localVNN, peer1VNN)
	}

	mode, err := peer1.GetRecMode(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if mode != cluster.Normal {
		t.Errorf("stage 13 should thaw peers back to NORMAL, got %v", mode)
	}

	rm, err := peer1.GetRecMaster(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rm != 0 {
		t.Errorf("stage 8 should set recmaster=self (0) on every peer, got %d", rm)
	}
}

func TestRunAutoBansCulpritOverThreshold(t *testing.T) {
	nm := cluster.NodeMap{{PNN: 0}, {PNN: 1}, {PNN: 2}}

	self := peer.NewMockClient(0)
	self.SetNodeMap(nm)
	peer1 := peer.NewMockClient(1)
	peer1.SetNodeMap(nm)
	peer2 := peer.NewMockClient(2)
	peer2.SetNodeMap(nm)

	registry := peer.NewMockRegistry(0)
	registry.Add(peer1)
	registry.Add(peer2)

	lock := reclock.New(filepath.Join(t.TempDir(), "recovery.lock"))
	electionEngine := election.New(0, registry, nil, nil, lock)
	flagSetter := &ban.PeerFlagSetter{Registry: registry, Timeout: time.Second}
	banRegistry := ban.New(0, flagSetter, electionEngine, nil)
	banRegistry.EnableBans = true
	electionEngine.SetBanRegistry(banRegistry)
	culprits := coordinator.NewCulpritTracker(time.Minute)
	electionEngine.SetCulpritTracker(culprits)

	st, err := store.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	coord := &coordinator.Coordinator{
		Self:     0,
		Local:    self,
		Registry: registry,
		Bans:     banRegistry,
		Election: electionEngine,
		Culprits: culprits,
		Lock:     lock,
		Store:    st,
		Stats:    stats.New(nil),
		Tunables: coordinator.StaticSource{T: coordinator.Tunables{
			RecoverTimeout:    time.Second,
			RerecoveryTimeout: time.Millisecond,
			RecoveryBanPeriod: time.Minute,
			EnableBans:        true,
		}},
	}

	// 7 recoveries with the same culprit (2) in a 3-node cluster cross the
	// 2*num_nodes=6 threshold on the 7th.
	for i := 0; i < 7; i++ {
		lock.Release()
		if err := recovery.Run(context.Background(), coord, 2); err != nil {
			t.Fatalf("Run iteration %d: %v", i, err)
		}
	}

	if !banRegistry.IsBanned(2) {
		t.Error("expected pnn 2 to be auto-banned after crossing the culprit threshold")
	}
}
