// Package cluster holds the coordinator's view of cluster-wide state: node
// identity and flags, the node map, the vnn routing map, and the database
// map — spec.md §3 DATA MODEL, adapted from the teacher's core/meta (cluster
// membership/bucket-metadata) package to this domain's node/vnn/db triad.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import "fmt"

// PNN is a stable, configuration-time node identity (spec.md §3).
type PNN int32

const Unknown PNN = -1

// Flags is the per-peer bitset (spec.md §3).
type Flags uint32

const (
	Disconnected Flags = 1 << iota
	Banned
	Disabled
	Unhealthy
	PermanentlyDisabled
)

// Inactive is the aggregate of every disabling bit.
const Inactive = Disconnected | Banned | Disabled | Unhealthy | PermanentlyDisabled

func (f Flags) Has(bit Flags) bool    { return f&bit != 0 }
func (f Flags) IsInactive() bool      { return f&Inactive != 0 }
func (f Flags) Set(bit Flags) Flags   { return f | bit }
func (f Flags) Clear(bit Flags) Flags { return f &^ bit }

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	s := ""
	add := func(bit Flags, name string) {
		if f.Has(bit) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(Disconnected, "DISCONNECTED")
	add(Banned, "BANNED")
	add(Disabled, "DISABLED")
	add(Unhealthy, "UNHEALTHY")
	add(PermanentlyDisabled, "PERMANENTLY_DISABLED")
	return s
}

// Node is one entry of the node map.
type Node struct {
	PNN   PNN
	Flags Flags
	Addr  string
}

func (n Node) String() string { return fmt.Sprintf("node[%d]@%s(%s)", n.PNN, n.Addr, n.Flags) }

// NodeMap is the ordered sequence of {pnn, flags, address}; every active
// node holds an identical length and per-index pnn assignment (I2).
type NodeMap []Node

func (nm NodeMap) IndexOf(pnn PNN) int {
	for i := range nm {
		if nm[i].PNN == pnn {
			return i
		}
	}
	return -1
}

func (nm NodeMap) Get(pnn PNN) (Node, bool) {
	if i := nm.IndexOf(pnn); i >= 0 {
		return nm[i], true
	}
	return Node{}, false
}

// NumActive counts entries without any INACTIVE bit set.
func (nm NodeMap) NumActive() int {
	n := 0
	for _, e := range nm {
		if !e.Flags.IsInactive() {
			n++
		}
	}
	return n
}

// NumConnected counts entries without DISCONNECTED set — used by the
// election engine's `beats` (spec.md §4.3), distinct from NumActive because
// a banned-but-connected peer still counts here.
func (nm NodeMap) NumConnected() int {
	n := 0
	for _, e := range nm {
		if !e.Flags.Has(Disconnected) {
			n++
		}
	}
	return n
}

func (nm NodeMap) ActivePNNs() []PNN {
	out := make([]PNN, 0, len(nm))
	for _, e := range nm {
		if !e.Flags.IsInactive() {
			out = append(out, e.PNN)
		}
	}
	return out
}

// ConnectedPNNs returns every pnn without DISCONNECTED set, mirroring
// NumConnected's looser filter: a banned or disabled peer that is still
// connected is included here even though ActivePNNs excludes it.
func (nm NodeMap) ConnectedPNNs() []PNN {
	out := make([]PNN, 0, len(nm))
	for _, e := range nm {
		if !e.Flags.Has(Disconnected) {
			out = append(out, e.PNN)
		}
	}
	return out
}

func (nm NodeMap) Clone() NodeMap {
	out := make(NodeMap, len(nm))
	copy(out, nm)
	return out
}

// SameShape reports whether two node maps agree on length and per-index pnn
// (I2), independent of flags.
func (nm NodeMap) SameShape(other NodeMap) bool {
	if len(nm) != len(other) {
		return false
	}
	for i := range nm {
		if nm[i].PNN != other[i].PNN {
			return false
		}
	}
	return true
}

// SameInactive reports whether, given SameShape, every index agrees on the
// INACTIVE bit (part of I2's per-tick consistency check, spec.md §4.4 step 16).
func (nm NodeMap) SameInactive(other NodeMap) bool {
	if !nm.SameShape(other) {
		return false
	}
	for i := range nm {
		if nm[i].Flags.IsInactive() != other[i].Flags.IsInactive() {
			return false
		}
	}
	return true
}

// WithLocalDisconnected reconstructs `other`'s DISCONNECTED bits from `nm`
// (the local, authoritative view) while keeping every other bit and field
// from `other` — invariant I1: a peer's report of a third party's
// DISCONNECTED never overrides the local value.
func (nm NodeMap) WithLocalDisconnected(other NodeMap) NodeMap {
	out := other.Clone()
	for i := range out {
		local, ok := nm.Get(out[i].PNN)
		if !ok {
			continue
		}
		if local.Flags.Has(Disconnected) {
			out[i].Flags = out[i].Flags.Set(Disconnected)
		} else {
			out[i].Flags = out[i].Flags.Clear(Disconnected)
		}
	}
	return out
}
