// Database map: the set of replicated databases, identical across all
// active nodes (spec.md §3, I4).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

type DB struct {
	DBID       uint32
	Name       string
	Persistent bool
}

// DBMap is keyed by dbid, set-equal comparisons ignore Name/Persistent
// beyond consistency: spec.md only requires dbid-set equality across
// peers (I4); Name/Persistent are carried for display and create_db calls.
type DBMap map[uint32]DB

func (m DBMap) Clone() DBMap {
	out := make(DBMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Missing returns the entries of `other` whose dbid is absent from m.
func (m DBMap) Missing(other DBMap) []DB {
	var out []DB
	for id, db := range other {
		if _, ok := m[id]; !ok {
			out = append(out, db)
		}
	}
	return out
}

// SetEqual reports dbid-set equality, per I4.
func (m DBMap) SetEqual(other DBMap) bool {
	if len(m) != len(other) {
		return false
	}
	for id := range m {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}

// RecoveryMode is either NORMAL (mutations flow) or ACTIVE (frozen for
// recovery), spec.md §3.
type RecoveryMode int

const (
	Normal RecoveryMode = iota
	Active
)

func (m RecoveryMode) String() string {
	if m == Active {
		return "ACTIVE"
	}
	return "NORMAL"
}
