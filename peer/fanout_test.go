package peer_test

import (
	"context"
	"testing"
	"time"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/peer"
)

func TestResultWorse(t *testing.T) {
	tests := []struct {
		a, b, want peer.Result
	}{
		{peer.OK, peer.OK, peer.OK},
		{peer.OK, peer.Failed, peer.Failed},
		{peer.Failed, peer.ElectionNeeded, peer.ElectionNeeded},
		{peer.ElectionNeeded, peer.RecoveryNeeded, peer.RecoveryNeeded},
		{peer.RecoveryNeeded, peer.ElectionNeeded, peer.RecoveryNeeded}, // RECOVERY_NEEDED dominates regardless of argument order
		{peer.RecoveryNeeded, peer.OK, peer.RecoveryNeeded},
	}
	for _, tt := range tests {
		if got := tt.a.Worse(tt.b); got != tt.want {
			t.Errorf("%s.Worse(%s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFanOutAggregatesWorstResult(t *testing.T) {
	reg := peer.NewMockRegistry(0)
	ok := peer.NewMockClient(1)
	reg.Add(ok)
	failing := peer.NewMockClient(2)
	failing.Unreachable = true
	reg.Add(failing)
	recoveryNeeded := peer.NewMockClient(3)
	reg.Add(recoveryNeeded)

	status, errs := peer.FanOut(context.Background(), reg, []cluster.PNN{1, 2, 3}, time.Second, 0,
		func(ctx context.Context, c peer.Client) (peer.Result, error) {
			if c.PNN() == 3 {
				return peer.RecoveryNeeded, nil
			}
			if _, err := c.GetPNN(ctx); err != nil {
				return peer.Failed, err
			}
			return peer.OK, nil
		})

	if status != peer.RecoveryNeeded {
		t.Errorf("aggregate status = %s, want RECOVERY_NEEDED", status)
	}
	if len(errs) != 1 {
		t.Errorf("expected exactly one per-peer error, got %d: %v", len(errs), errs)
	}
	if _, ok := errs[2]; !ok {
		t.Errorf("expected error recorded for pnn 2, got %v", errs)
	}
}

func TestFanOutUnknownPeerCountsAsFailed(t *testing.T) {
	reg := peer.NewMockRegistry(0)
	status, errs := peer.FanOut(context.Background(), reg, []cluster.PNN{42}, time.Second, 0,
		func(ctx context.Context, c peer.Client) (peer.Result, error) { return peer.OK, nil })
	if status != peer.Failed {
		t.Errorf("status = %s, want FAILED", status)
	}
	if len(errs) != 1 {
		t.Errorf("expected one error for unknown peer, got %d", len(errs))
	}
}

func TestFanOutEmptyTargetsIsOK(t *testing.T) {
	reg := peer.NewMockRegistry(0)
	status, errs := peer.FanOut(context.Background(), reg, nil, time.Second, 0,
		func(ctx context.Context, c peer.Client) (peer.Result, error) { return peer.RecoveryNeeded, nil })
	if status != peer.OK {
		t.Errorf("status = %s, want OK for empty target set", status)
	}
	if errs != nil {
		t.Errorf("expected nil errs, got %v", errs)
	}
}
