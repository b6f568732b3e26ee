// Package stats exposes the coordinator's Prometheus metrics, the way the
// teacher's stats.Trunner/Prunner expose counters/gauges for its own
// control-plane (ais/stats), scaled down to this coordinator's much smaller
// surface: tick count, recoveries, elections, active bans, current recmaster.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is the coordinator's metric set. One instance per process,
// registered against a caller-supplied registry; cmd/recoverd creates that
// registry but does not serve it over HTTP.
type Stats struct {
	MonitorTicks   prometheus.Counter
	Recoveries     prometheus.Counter
	Elections      prometheus.Counter
	ForcedElections prometheus.Counter
	ActiveBans     prometheus.Gauge
	RecMaster      prometheus.Gauge
	RecoveryMode   prometheus.Gauge // 0 == NORMAL, 1 == ACTIVE
}

func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctdb_recoverd",
			Name:      "monitor_ticks_total",
			Help:      "Number of monitor loop iterations completed.",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctdb_recoverd",
			Name:      "recoveries_total",
			Help:      "Number of recovery procedures run by this node, matching ctdb_status's own recovery counter.",
		}),
		Elections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctdb_recoverd",
			Name:      "elections_total",
			Help:      "Number of elections sent by this node.",
		}),
		ForcedElections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ctdb_recoverd",
			Name:      "forced_elections_total",
			Help:      "Number of elections forced by the monitor loop.",
		}),
		ActiveBans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctdb_recoverd",
			Name:      "active_bans",
			Help:      "Number of peers currently in the local ban registry.",
		}),
		RecMaster: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctdb_recoverd",
			Name:      "recovery_master_pnn",
			Help:      "PNN of the node this coordinator currently believes is recovery master.",
		}),
		RecoveryMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctdb_recoverd",
			Name:      "recovery_mode",
			Help:      "Current recovery mode: 0=NORMAL, 1=ACTIVE.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.MonitorTicks, s.Recoveries, s.Elections, s.ForcedElections,
			s.ActiveBans, s.RecMaster, s.RecoveryMode)
	}
	return s
}
