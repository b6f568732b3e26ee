package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/xu354cjo1008/ctdb/ban"
	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/election"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/reclock"
	"github.com/xu354cjo1008/ctdb/stats"
	"github.com/xu354cjo1008/ctdb/store"
)

// PublicIPChecker is the external collaborator for spec.md §4.4 step 7's
// "public IP sanity" check: which addresses should this node serve, and
// which of those are actually bound.
type PublicIPChecker interface {
	ShouldServe() ([]string, error)
	Bound() ([]string, error)
}

// IPTakeover is the external collaborator for recovery stage 12 / monitor
// step 17: move public addresses onto/off this node.
type IPTakeover interface {
	Run() error
}

// Coordinator is the single instance threaded through the monitor loop,
// election engine, recovery procedure, and dispatcher (spec.md §9).
type Coordinator struct {
	Self cluster.PNN

	// Local is this node's own control surface: monitor step 2 reads local
	// pnn/vnnmap/nodemap/recmode through it exactly like any other Client,
	// rather than hand-rolling a separate "local" code path.
	Local    peer.Client
	Registry peer.Registry

	Bans      *ban.Registry
	Election  *election.Engine
	Culprits  *CulpritTracker
	Lock      *reclock.Lock
	Store     *store.Store
	Stats     *stats.Stats
	Tunables  TunableSource
	PublicIPs PublicIPChecker
	Takeover  IPTakeover

	mu              sync.Mutex
	needRecovery    bool
	needTakeoverRun atomic.Bool
}

func (c *Coordinator) NeedRecovery() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needRecovery
}

func (c *Coordinator) SetNeedRecovery(v bool) {
	c.mu.Lock()
	c.needRecovery = v
	c.mu.Unlock()
}

func (c *Coordinator) SetNeedTakeoverRun(v bool) { c.needTakeoverRun.Store(v) }
func (c *Coordinator) NeedTakeoverRun() bool      { return c.needTakeoverRun.Load() }

// IsMaster reports whether this node currently believes itself to be
// recovery master.
func (c *Coordinator) IsMaster() bool { return c.Election.RecMaster() == c.Self }
