// Package server is the HTTP control listener side of C1: it answers the
// same "/v1/ctl" {op, args} requests peer.HTTPClient sends, delegating each
// op to a peer.LocalState. Grounded on the teacher's own fasthttp-based
// control-plane listener (the counterpart of peer.HTTPClient's fasthttp
// client), kept to a single small request multiplexer instead of the
// teacher's full REST router since this domain's control surface is a
// closed, fixed set of ops (spec.md §6).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/valyala/fasthttp"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/nlog"
	"github.com/xu354cjo1008/ctdb/peer"
	"github.com/xu354cjo1008/ctdb/transport"
)

type wireReq struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireResp struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Server answers inbound peer control RPCs against one LocalState.
type Server struct {
	local *peer.LocalState
	srv   *fasthttp.Server
}

func New(local *peer.LocalState) *Server {
	s := &Server{local: local}
	s.srv = &fasthttp.Server{
		Handler: s.handle,
		Name:    "ctdb-recoverd",
	}
	return s
}

// ListenAndServe blocks serving on addr until the listener errors or is
// closed via Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	return s.srv.ListenAndServe(addr)
}

// Serve runs the control listener over an already-established net.Listener
// — used directly by production callers that want to manage the listener
// themselves, and by tests against fasthttputil.InmemoryListener.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown() error { return s.srv.Shutdown() }

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/v1/ctl" || !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	var req wireReq
	if err := transport.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeErr(ctx, fmt.Errorf("decode request: %w", err))
		return
	}

	data, err := s.dispatch(context.Background(), req)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	body, err := transport.Marshal(wireResp{Data: data})
	if err != nil {
		writeErr(ctx, err)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

func writeErr(ctx *fasthttp.RequestCtx, err error) {
	nlog.Warningf("server: request failed: %v", err)
	body, _ := transport.Marshal(wireResp{Status: 1, Error: err.Error()})
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

func (s *Server) dispatch(ctx context.Context, req wireReq) (any, error) {
	l := s.local
	switch req.Op {
	case "get_pnn":
		return l.GetPNN(ctx)
	case "get_nodemap":
		return l.GetNodeMap(ctx)
	case "get_vnnmap":
		return l.GetVNNMap(ctx)
	case "get_dbmap":
		return l.GetDBMap(ctx)
	case "get_dbname":
		var dbid uint32
		if err := json.Unmarshal(req.Args, &dbid); err != nil {
			return nil, err
		}
		return l.GetDBName(ctx, dbid)
	case "get_public_ips":
		return l.GetPublicIPs(ctx)
	case "get_recmaster":
		return l.GetRecMaster(ctx)
	case "get_recmode":
		return l.GetRecMode(ctx)
	case "get_max_rsn":
		var dbid uint32
		if err := json.Unmarshal(req.Args, &dbid); err != nil {
			return nil, err
		}
		return l.GetMaxRSN(ctx, dbid)
	case "get_all_tunables":
		return l.GetAllTunables(ctx)
	case "set_recmaster":
		var pnn int32
		if err := json.Unmarshal(req.Args, &pnn); err != nil {
			return nil, err
		}
		return nil, l.SetRecMaster(ctx, cluster.PNN(pnn))
	case "set_recmode":
		var mode int
		if err := json.Unmarshal(req.Args, &mode); err != nil {
			return nil, err
		}
		return nil, l.SetRecMode(ctx, cluster.RecoveryMode(mode))
	case "set_vnnmap":
		var vm cluster.VNNMap
		if err := json.Unmarshal(req.Args, &vm); err != nil {
			return nil, err
		}
		return nil, l.SetVNNMap(ctx, &vm)
	case "set_dmaster":
		var args struct {
			DBID uint32      `json:"dbid"`
			PNN  cluster.PNN `json:"pnn"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, l.SetDMaster(ctx, args.DBID, args.PNN)
	case "mod_flags":
		var args struct {
			Set   cluster.Flags `json:"set"`
			Clear cluster.Flags `json:"clear"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, l.ModFlags(ctx, args.Set, args.Clear)
	case "create_db":
		var args struct {
			Name       string `json:"name"`
			Persistent bool   `json:"persistent"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, l.CreateDB(ctx, args.Name, args.Persistent)
	case "freeze":
		return nil, l.Freeze(ctx)
	case "thaw":
		return nil, l.Thaw(ctx)
	case "copy_db":
		var args struct {
			Src  cluster.PNN `json:"src"`
			Dst  cluster.PNN `json:"dst"`
			DBID uint32      `json:"dbid"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, l.CopyDB(ctx, args.Src, args.Dst, args.DBID)
	case "set_rsn_nonempty":
		var args struct {
			DBID uint32 `json:"dbid"`
			RSN  uint64 `json:"rsn"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, l.SetRSNNonEmpty(ctx, args.DBID, args.RSN)
	case "delete_low_rsn":
		var args struct {
			DBID uint32 `json:"dbid"`
			RSN  uint64 `json:"rsn"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, l.DeleteLowRSN(ctx, args.DBID, args.RSN)
	case "send_message":
		var args struct {
			Srvid   transport.Srvid `json:"srvid"`
			From    cluster.PNN     `json:"from"`
			Payload []byte          `json:"payload"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, l.SendMessage(ctx, args.Srvid, args.From, args.Payload)
	default:
		return nil, fmt.Errorf("unknown op %q", req.Op)
	}
}
