package ban_test

import (
	"context"
	"testing"
	"time"

	"github.com/xu354cjo1008/ctdb/ban"
	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/hk"
)

type fakeFlagSetter struct {
	calls []struct {
		targets           []cluster.PNN
		setMask, clearMask cluster.Flags
	}
}

func (f *fakeFlagSetter) BroadcastModFlags(_ context.Context, targets []cluster.PNN, setMask, clearMask cluster.Flags) error {
	f.calls = append(f.calls, struct {
		targets            []cluster.PNN
		setMask, clearMask cluster.Flags
	}{targets, setMask, clearMask})
	return nil
}

type fakePrio struct{ lowered bool }

func (f *fakePrio) LowerOwnPriority() { f.lowered = true }

func TestBanRefusedWhenDisabled(t *testing.T) {
	hk.TestInit()
	flags := &fakeFlagSetter{}
	r := ban.New(1, flags, &fakePrio{}, hk.DefaultHK)
	r.EnableBans = false

	if err := r.Ban(context.Background(), []cluster.PNN{1, 2}, 2, 0); err != nil {
		t.Fatalf("Ban returned error: %v", err)
	}
	if len(flags.calls) != 0 {
		t.Errorf("expected no mod_flags broadcast when bans disabled, got %d calls", len(flags.calls))
	}
	if r.IsBanned(2) {
		t.Error("pnn 2 should not be recorded as banned when enable_bans=0")
	}
}

func TestBanSelfLowersPriority(t *testing.T) {
	hk.TestInit()
	flags := &fakeFlagSetter{}
	prio := &fakePrio{}
	r := ban.New(1, flags, prio, hk.DefaultHK)

	if err := r.Ban(context.Background(), []cluster.PNN{1, 2}, 1, 0); err != nil {
		t.Fatalf("Ban returned error: %v", err)
	}
	if !prio.lowered {
		t.Error("banning self must lower local election priority")
	}
	if !r.IsBanned(1) {
		t.Error("self should be recorded as banned")
	}
}

func TestUnbanClearsEntry(t *testing.T) {
	hk.TestInit()
	flags := &fakeFlagSetter{}
	r := ban.New(1, flags, &fakePrio{}, hk.DefaultHK)

	if err := r.Ban(context.Background(), []cluster.PNN{1, 2}, 2, 0); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if err := r.Unban(context.Background(), []cluster.PNN{1, 2}, 2); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if r.IsBanned(2) {
		t.Error("pnn 2 should no longer be banned after Unban")
	}
	if len(flags.calls) != 2 {
		t.Fatalf("expected 2 broadcasts (ban + unban), got %d", len(flags.calls))
	}
	last := flags.calls[1]
	if last.clearMask != cluster.Banned || last.setMask != 0 {
		t.Errorf("unban broadcast should clear BANNED, got set=%v clear=%v", last.setMask, last.clearMask)
	}
}

func TestUnbanAllSkipsDisconnectedPeers(t *testing.T) {
	hk.TestInit()
	flags := &fakeFlagSetter{}
	r := ban.New(1, flags, &fakePrio{}, hk.DefaultHK)
	ctx := context.Background()

	if err := r.Ban(ctx, []cluster.PNN{1, 2, 3}, 2, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.Ban(ctx, []cluster.PNN{1, 2, 3}, 3, 0); err != nil {
		t.Fatal(err)
	}

	nodeMap := cluster.NodeMap{
		{PNN: 1},
		{PNN: 2, Flags: cluster.Disconnected}, // disconnected: must stay banned
		{PNN: 3},
	}
	if err := r.UnbanAll(ctx, nodeMap); err != nil {
		t.Fatalf("UnbanAll: %v", err)
	}
	if !r.IsBanned(2) {
		t.Error("disconnected peer's ban should survive unban_all")
	}
	if r.IsBanned(3) {
		t.Error("connected peer's ban should be cleared by unban_all")
	}
}

func TestReconstructLocalViewAppliesRegistryBans(t *testing.T) {
	hk.TestInit()
	flags := &fakeFlagSetter{}
	r := ban.New(1, flags, &fakePrio{}, hk.DefaultHK)
	if err := r.Ban(context.Background(), []cluster.PNN{1, 2}, 2, 0); err != nil {
		t.Fatal(err)
	}

	in := cluster.NodeMap{{PNN: 1}, {PNN: 2}}
	out := r.ReconstructLocalView(in)
	if !out[1].Flags.Has(cluster.Banned) {
		t.Error("reconstructed view should set BANNED for registry entries")
	}
	if out[0].Flags.Has(cluster.Banned) {
		t.Error("unbanned peer should remain unbanned in reconstructed view")
	}
}

func TestBanSchedulesExpiryTimer(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	defer hk.DefaultHK.Stop()

	flags := &fakeFlagSetter{}
	r := ban.New(1, flags, &fakePrio{}, hk.DefaultHK)

	if err := r.Ban(context.Background(), []cluster.PNN{1, 2}, 2, 1); err != nil {
		t.Fatal(err)
	}
	if !r.IsBanned(2) {
		t.Fatal("expected pnn 2 banned immediately")
	}

	deadline := time.After(2 * time.Second)
	for r.IsBanned(2) {
		select {
		case <-deadline:
			t.Fatal("ban did not expire within its scheduled duration")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
