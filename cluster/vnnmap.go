// VNN map — the routing table from hash-bucket index to the pnn of the
// bucket's owner (spec.md §3, GLOSSARY).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"fmt"
	"math/rand"
)

// InvalidGeneration is reserved; a valid vnn map's Generation is never 0.
const InvalidGeneration uint32 = 0

type VNNMap struct {
	Generation uint32
	Size       uint32
	Map        []PNN
}

// NewGeneration returns a random, non-zero generation stamp (spec.md §3, I5).
func NewGeneration() uint32 {
	for {
		if g := rand.Uint32(); g != InvalidGeneration {
			return g
		}
	}
}

func (vm *VNNMap) String() string {
	if vm == nil {
		return "vnnmap(nil)"
	}
	return fmt.Sprintf("vnnmap(gen=%d,size=%d,map=%v)", vm.Generation, vm.Size, vm.Map)
}

func (vm *VNNMap) Clone() *VNNMap {
	out := &VNNMap{Generation: vm.Generation, Size: vm.Size}
	out.Map = make([]PNN, len(vm.Map))
	copy(out.Map, vm.Map)
	return out
}

func (vm *VNNMap) Contains(pnn PNN) bool {
	for _, p := range vm.Map {
		if p == pnn {
			return true
		}
	}
	return false
}

// Valid checks the size invariant against a node map (I3): Size == NumActive
// and every active, unbanned node appears in Map.
func (vm *VNNMap) Valid(nm NodeMap) error {
	if vm.Generation == InvalidGeneration {
		return fmt.Errorf("vnnmap: invalid (zero) generation")
	}
	active := nm.NumActive()
	if int(vm.Size) != active {
		return fmt.Errorf("vnnmap: size %d != num_active %d", vm.Size, active)
	}
	for _, e := range nm {
		if e.Flags.IsInactive() {
			continue
		}
		if !vm.Contains(e.PNN) {
			return fmt.Errorf("vnnmap: active pnn %d missing from map", e.PNN)
		}
	}
	return nil
}

// Equal compares generation and the full ordered map — used by the monitor
// loop's cross-peer consistency check (spec.md §4.4 step 16).
func (vm *VNNMap) Equal(other *VNNMap) bool {
	if vm.Generation != other.Generation || vm.Size != other.Size || len(vm.Map) != len(other.Map) {
		return false
	}
	for i := range vm.Map {
		if vm.Map[i] != other.Map[i] {
			return false
		}
	}
	return true
}

// NewFromActive builds a fresh vnn map: a new generation, size == num_active,
// map == all active pnns in node-map order (spec.md §4.5 stage 7).
func NewFromActive(nm NodeMap) *VNNMap {
	active := nm.ActivePNNs()
	return &VNNMap{
		Generation: NewGeneration(),
		Size:       uint32(len(active)),
		Map:        active,
	}
}
