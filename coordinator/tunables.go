// Package coordinator wires C1-C6 and the supporting packages into the
// single instance threaded through the monitor loop, election engine,
// recovery procedure, and dispatcher — spec.md §9's "explicit coordinator
// instance constructed at startup." Grounded on the teacher's own daemon
// struct (ais/earlystart.go's bootstrapped `p *proxy`/`t *target`) that
// every control-plane handler closes over instead of relying on globals.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package coordinator

import "time"

// Tunables mirrors spec.md §6's consumed tunables, refreshed once per
// monitor tick (step 2) via a TunableSource.
type Tunables struct {
	RecoverInterval     time.Duration
	RecoverTimeout      time.Duration
	ElectionTimeout     time.Duration
	RecoveryGracePeriod time.Duration
	RecoveryBanPeriod   time.Duration
	RerecoveryTimeout   time.Duration
	EnableBans          bool
}

// Default mirrors ctdb's own stock defaults (recover_interval=1s,
// recover_timeout=20s, election_timeout=3s, recovery_grace_period=120s,
// recovery_ban_period=300s, rerecovery_timeout=10s), used when no
// TunableSource is configured (e.g. in unit tests).
func Default() Tunables {
	return Tunables{
		RecoverInterval:     time.Second,
		RecoverTimeout:      20 * time.Second,
		ElectionTimeout:     3 * time.Second,
		RecoveryGracePeriod: 120 * time.Second,
		RecoveryBanPeriod:   300 * time.Second,
		RerecoveryTimeout:   10 * time.Second,
		EnableBans:          true,
	}
}

// TunableSource is the external collaborator the monitor loop pulls fresh
// tunables from every tick (spec.md §5.3); the concrete source (config
// file, cluster config db, CLI flags) is out of scope here.
type TunableSource interface {
	Tunables() Tunables
}

// StaticSource is a TunableSource that never changes — useful for tests and
// as the degenerate case of a config file read once at startup.
type StaticSource struct{ T Tunables }

func (s StaticSource) Tunables() Tunables { return s.T }

var _ TunableSource = StaticSource{}
