// Command recoverd is the coordinator process entrypoint: it wires C1-C6
// and the supporting packages into one coordinator.Coordinator and runs the
// monitor loop, an HTTP control listener for incoming peer RPCs and
// broadcasts, and a parent-death watchdog. Grounded on the teacher's own
// daemon main (cmd/aisnode-style flag parsing + background run loop),
// scaled to this coordinator's much smaller process model (spec.md §5:
// "runs as a child of the main service daemon... monitors its parent via a
// pipe: parent death triggers immediate _exit").
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/xu354cjo1008/ctdb/ban"
	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/cos"
	"github.com/xu354cjo1008/ctdb/cmn/nlog"
	"github.com/xu354cjo1008/ctdb/coordinator"
	"github.com/xu354cjo1008/ctdb/dispatch"
	"github.com/xu354cjo1008/ctdb/election"
	"github.com/xu354cjo1008/ctdb/hk"
	"github.com/xu354cjo1008/ctdb/monitor"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/reclock"
	"github.com/xu354cjo1008/ctdb/server"
	"github.com/xu354cjo1008/ctdb/stats"
	"github.com/xu354cjo1008/ctdb/store"
)

func main() {
	var (
		self       = flag.Int("pnn", -1, "this node's stable PNN")
		listenAddr = flag.String("listen", "127.0.0.1:4379", "this node's control endpoint")
		peersFlag  = flag.String("peers", "", "comma-separated pnn=addr pairs for the initial node map")
		lockPath   = flag.String("recovery-lock", "/var/run/ctdb/recovery.lock", "recovery-master lock file path")
		storePath  = flag.String("store", "/var/lib/ctdb/recoverd.db", "ban/culprit persistence file")
		parentFD   = flag.Int("parent-fd", -1, "read end of the parent-death pipe, -1 to disable")
	)
	flag.Parse()

	nlog.InitFlags()
	nlog.SetTitle("recoverd")

	if *self < 0 {
		cos.ExitLogf("missing -pnn")
	}
	selfPNN := cluster.PNN(*self)

	reg := prometheus.NewRegistry()
	st := stats.New(reg)

	s, err := store.Open(*storePath)
	if err != nil {
		cos.ExitLogf("open store: %v", err)
	}
	defer s.Close()

	registry := peer.NewStaticRegistry(selfPNN)
	nm := parseInitialNodeMap(selfPNN, *listenAddr, *peersFlag)
	registry.Update(nm)

	local := peer.NewLocalState(selfPNN, nm, peer.Tunables{})

	lock := reclock.New(*lockPath)

	flagSetter := &ban.PeerFlagSetter{Registry: registry, Timeout: 10 * time.Second}

	bansStore, err := s.LoadBans()
	if err != nil {
		nlog.Errorf("load persisted bans: %v", err)
	}

	electionEngine := election.New(selfPNN, registry, nil, nil, lock)
	banRegistry := ban.New(selfPNN, flagSetter, electionEngine, nil)
	banRegistry.Restore(bansStore)
	go hk.DefaultHK.Run() // fires the ban-expiry timers

	culprits := coordinator.NewCulpritTracker(coordinator.Default().RecoveryGracePeriod)
	if persisted, ok, err := s.LoadCulprit(); err != nil {
		nlog.Errorf("load persisted culprit state: %v", err)
	} else if ok {
		culprits.Restore(cluster.PNN(persisted.LastCulprit), time.Unix(0, persisted.FirstTimeNs), persisted.Counter)
		nlog.Infof("restored culprit state: last=%d counter=%d", persisted.LastCulprit, persisted.Counter)
	}

	electionEngine.SetBanRegistry(banRegistry)
	electionEngine.SetCulpritTracker(culprits)

	coord := &coordinator.Coordinator{
		Self:     selfPNN,
		Local:    local,
		Registry: registry,
		Bans:     banRegistry,
		Election: electionEngine,
		Culprits: culprits,
		Lock:     lock,
		Store:    s,
		Stats:    st,
		Tunables: coordinator.StaticSource{T: coordinator.Default()},
	}

	dispatcher := dispatch.New(coord)
	local.Dispatch = dispatcher.Dispatch

	ctrl := server.New(local)
	go func() {
		if err := ctrl.ListenAndServe(*listenAddr); err != nil {
			nlog.Errorf("recoverd: control listener: %v", err)
		}
	}()
	defer ctrl.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infoln("recoverd: received shutdown signal")
		cancel()
	}()

	if *parentFD >= 0 {
		go watchParent(*parentFD, cancel)
	}

	nlog.Infof("recoverd: starting, pnn=%d listen=%s", selfPNN, *listenAddr)
	monitor.Run(ctx, coord)
	nlog.Infoln("recoverd: monitor loop exited")
}

// watchParent reads the parent-death pipe in a loop, ignoring any bytes
// read and retrying on EINTR; EOF (parent exit) or any other read error
// means the parent is gone, so this process exits immediately rather than
// leaving an orphaned recovery coordinator running (spec.md §5 process model).
func watchParent(fd int, cancel context.CancelFunc) {
	buf := make([]byte, 1)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil && err != unix.EINTR {
			nlog.Errorf("recoverd: parent pipe read: %v", err)
			cancel()
			cos.ExitLogf("parent process gone (pipe error): %v", err)
			return
		}
		if n == 0 {
			cancel()
			cos.ExitLogf("parent process gone (pipe EOF)")
			return
		}
	}
}

// parseInitialNodeMap parses "pnn=addr,pnn=addr,..." plus this node's own
// entry into a starting cluster.NodeMap; a real deployment would instead
// read this from the cluster's shared nodes file, out of scope here.
func parseInitialNodeMap(self cluster.PNN, selfAddr, peers string) cluster.NodeMap {
	nm := cluster.NodeMap{{PNN: self, Addr: selfAddr}}
	if peers == "" {
		return nm
	}
	for _, pair := range strings.Split(peers, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		pnnInt, err := strconv.Atoi(kv[0])
		if err != nil {
			continue
		}
		pnn := cluster.PNN(pnnInt)
		if pnn == self {
			continue
		}
		nm = append(nm, cluster.Node{PNN: pnn, Addr: kv[1]})
	}
	return nm
}
