// Async fan-out: §4.1's "caller supplies the peer set and per-peer request;
// each in-flight request carries a completion callback with (state, status)"
// and §9's design note that each fan-out is "a strongly-typed aggregator
// {pending: int, status: monitor_result}; each per-peer callback is a
// closure over that aggregator." Implemented on golang.org/x/sync/errgroup,
// the Go-native analogue of the teacher's own bounded concurrent broadcast
// (ais/prxtxn.go bcast / ais/earlystart.go bcastMaxVer).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package peer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xu354cjo1008/ctdb/cluster"
)

// Result is the per-peer (and, aggregated, whole-fan-out) verdict — the
// monitor_result lattice of spec.md §4.1/§4.4.
type Result int

const (
	OK Result = iota
	Failed
	ElectionNeeded
	RecoveryNeeded
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Failed:
		return "FAILED"
	case ElectionNeeded:
		return "ELECTION_NEEDED"
	case RecoveryNeeded:
		return "RECOVERY_NEEDED"
	default:
		return "UNKNOWN"
	}
}

// rank implements spec.md §4.4's explicit dominance rule — "a single
// RECOVERY_NEEDED makes the whole result RECOVERY_NEEDED" — which takes
// precedence over §4.1's looser enumeration order for the purposes of
// fan-out aggregation (see DESIGN.md for this reconciliation).
func (r Result) rank() int { return int(r) }

// Worse returns the more severe of the two results under the dominance
// order RECOVERY_NEEDED > ELECTION_NEEDED > FAILED > OK.
func (r Result) Worse(other Result) Result {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// aggregator is the typed, closure-captured state each per-peer callback
// updates — spec.md §9's "untyped async callback payloads" design note,
// expressed here as a concrete Go type instead of a void* payload.
type aggregator struct {
	mu      sync.Mutex
	pending int
	status  Result
	errs    map[cluster.PNN]error
}

func newAggregator(n int) *aggregator {
	return &aggregator{pending: n, status: OK, errs: make(map[cluster.PNN]error, n)}
}

func (a *aggregator) complete(pnn cluster.PNN, status Result, err error) {
	a.mu.Lock()
	a.status = a.status.Worse(status)
	if err != nil {
		a.errs[pnn] = err
	}
	a.pending--
	a.mu.Unlock()
}

// Call is one peer's unit of work within a fan-out: given its Client, it
// returns the per-peer Result and, on failure, the error that drove it.
type Call func(ctx context.Context, c Client) (Result, error)

// FanOut runs `call` against every target concurrently, bounded by
// `maxInFlight` simultaneous RPCs, and aggregates the worst-of result.
// Individual failures never cancel siblings (spec.md §4.1): a failing call
// still lets every other goroutine run to completion or timeout.
func FanOut(
	ctx context.Context,
	registry Registry,
	targets []cluster.PNN,
	timeout time.Duration,
	maxInFlight int,
	call Call,
) (Result, map[cluster.PNN]error) {
	if len(targets) == 0 {
		return OK, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	agg := newAggregator(len(targets))
	grp := new(errgroup.Group)
	if maxInFlight > 0 {
		grp.SetLimit(maxInFlight)
	}

	for _, pnn := range targets {
		pnn := pnn
		grp.Go(func() error {
			c, ok := registry.Client(pnn)
			if !ok {
				agg.complete(pnn, Failed, errPeerUnknown(pnn))
				return nil
			}
			status, err := call(ctx, c)
			agg.complete(pnn, status, err)
			return nil // a per-peer failure never aborts the group (spec.md §4.1)
		})
	}
	_ = grp.Wait() // Call never returns a non-nil error; Wait only blocks for completion

	return agg.status, agg.errs
}

type errPeerUnknownT struct{ pnn cluster.PNN }

func (e errPeerUnknownT) Error() string { return "peer client: unknown pnn" }
func errPeerUnknown(pnn cluster.PNN) error { return errPeerUnknownT{pnn: pnn} }
