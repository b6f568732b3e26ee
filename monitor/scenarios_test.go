// Scenario tests covering the seed cases of the monitor loop: steady state,
// master disconnect/election, generation divergence, admin ban, culprit
// auto-ban, and public IP mismatch. Grounded on the teacher's ginkgo
// integration style (mirror_test, hk_test) of exercising a real loop body
// against mocked collaborators rather than asserting on internal fields.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package monitor_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/monitor"
)

var _ = Describe("monitor loop", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("steady state", func() {
		It("runs clean ticks with no elections or recoveries", func() {
			h := newHarness(0, []cluster.PNN{0, 1, 2})
			defer h.close()

			Expect(h.coord.Lock.Acquire(true)).To(Succeed())

			for i := 0; i < 10; i++ {
				monitor.Tick(ctx, h.coord)
			}

			Expect(h.coord.Election.RecMaster()).To(Equal(cluster.PNN(0)))
			Expect(h.coord.NeedRecovery()).To(BeFalse())
			// every recovery run notes a culprit, so a zero counter means none ran
			_, _, noted := h.coord.Culprits.Snapshot()
			Expect(noted).To(BeZero())
		})
	})

	Describe("master disconnect", func() {
		It("elects exactly one new master once the old one is unreachable", func() {
			h := newHarness(1, []cluster.PNN{0, 1, 2})
			defer h.close()

			// pnn 0 was master; mark it unreachable to simulate the
			// disconnect, and update the local nodemap to match.
			h.nodes[0].Unreachable = true
			for _, c := range h.nodes {
				nm := cluster.NodeMap{
					{PNN: 0, Flags: cluster.Disconnected},
					{PNN: 1},
					{PNN: 2},
				}
				c.SetNodeMap(nm)
			}

			monitor.Tick(ctx, h.coord)

			Expect(h.coord.Election.RecMaster()).To(Equal(cluster.PNN(1)))
		})
	})

	Describe("generation divergence", func() {
		It("runs recovery naming the divergent peer as culprit", func() {
			h := newHarness(0, []cluster.PNN{0, 1, 2})
			defer h.close()

			// the master holds the lock, so the tick gets past step 15 to
			// step 16's consistency check.
			Expect(h.coord.Lock.Acquire(true)).To(Succeed())

			base := cluster.NewFromActive(cluster.NodeMap{{PNN: 0}, {PNN: 1}, {PNN: 2}})
			for _, c := range h.nodes {
				Expect(c.SetVNNMap(ctx, base)).To(Succeed())
			}
			// peer 2 diverges to a different generation.
			diverged := base.Clone()
			diverged.Generation = base.Generation + 1
			Expect(h.nodes[2].SetVNNMap(ctx, diverged)).To(Succeed())

			monitor.Tick(ctx, h.coord)

			culprit, _, _ := h.coord.Culprits.Snapshot()
			Expect(culprit).To(Equal(cluster.PNN(2)))

			// recovery stage 7 republishes a single agreed vnnmap from the
			// master's own active view; the divergent peer converges.
			got, err := h.nodes[2].GetVNNMap(ctx)
			Expect(err).NotTo(HaveOccurred())
			local, err := h.coord.Local.GetVNNMap(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Generation).To(Equal(local.Generation))
		})
	})

	Describe("admin ban auto-expiry", func() {
		It("lets a timed ban lapse on its own once its scheduled duration elapses", func() {
			// Master-gating of BAN_NODE/UNBAN_NODE is covered by
			// dispatch.Dispatcher tests; this scenario only exercises the
			// ban registry's own timer-driven expiry.
			h := newHarness(1, []cluster.PNN{0, 1, 2}) // self=1, not master (master=0)
			defer h.close()

			Expect(h.coord.Bans.Ban(ctx, []cluster.PNN{0, 1, 2}, 3, 5)).To(Succeed())
			Expect(h.coord.Bans.IsBanned(3)).To(BeTrue())

			h.coord.Bans.EnableBans = true
			deadline := time.After(6 * time.Second)
			for h.coord.Bans.IsBanned(3) {
				select {
				case <-deadline:
					Fail("ban did not auto-expire within its scheduled duration")
				case <-time.After(20 * time.Millisecond):
				}
			}
		})
	})

	Describe("culprit threshold", func() {
		It("auto-bans the repeat culprit once the threshold is exceeded", func() {
			h := newHarness(0, []cluster.PNN{0, 1, 2})
			defer h.close()

			var banned bool
			for i := 0; i < 7; i++ {
				n := h.coord.Culprits.Note(2)
				if pnn, ok := h.coord.Culprits.ShouldAutoBan(3); ok {
					Expect(pnn).To(Equal(cluster.PNN(2)))
					banned = true
				}
				_ = n
			}
			Expect(banned).To(BeTrue(), "7th recovery with the same culprit in a 3-node cluster must cross the 2*num_nodes threshold")
		})
	})

	Describe("public IP mismatch", func() {
		It("freezes self and requests active recmode on mismatch", func() {
			h := newHarness(1, []cluster.PNN{0, 1, 2})
			defer h.close()
			h.coord.PublicIPs = fakeIPChecker{should: []string{"10.0.0.1"}, bound: []string{"10.0.0.2"}}

			monitor.Tick(ctx, h.coord)

			mode, err := h.coord.Local.GetRecMode(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(mode).To(Equal(cluster.Active))
		})
	})
})

type fakeIPChecker struct{ should, bound []string }

func (f fakeIPChecker) ShouldServe() ([]string, error) { return f.should, nil }
func (f fakeIPChecker) Bound() ([]string, error)       { return f.bound, nil }
