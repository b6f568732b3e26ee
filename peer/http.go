// HTTP implementation of Client over fasthttp — the teacher's own transport
// for intra-cluster control calls (valyala/fasthttp), reused here for our
// much smaller request/reply control surface instead of its streaming
// object transport (which this domain has no use for).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/cmn/cos"
	"github.com/xu354cjo1008/ctdb/transport"
)

// maxRPCRate bounds outbound control-RPC QPS to any single peer: a peer
// mid-recovery or mid-election should not also be hammered by a tight
// client-side retry loop.
const maxRPCRate = 50

// wireReq/wireResp are the request/reply bodies for the control RPC surface;
// status != 0 or a transport error are both treated as failure (spec.md §6).
type wireReq struct {
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

type wireResp struct {
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// HTTPClient is a peer.Client backed by one fasthttp connection pool.
type HTTPClient struct {
	pnn     cluster.PNN
	baseURL string
	hc      *fasthttp.Client
	limiter *rate.Limiter
}

func NewHTTPClient(pnn cluster.PNN, baseURL string, hc *fasthttp.Client) *HTTPClient {
	if hc == nil {
		hc = &fasthttp.Client{Name: "ctdb-recoverd"}
	}
	return &HTTPClient{
		pnn:     pnn,
		baseURL: baseURL,
		hc:      hc,
		limiter: rate.NewLimiter(rate.Limit(maxRPCRate), maxRPCRate),
	}
}

func (c *HTTPClient) PNN() cluster.PNN { return c.pnn }

func (c *HTTPClient) call(ctx context.Context, op string, args, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return cos.NewKindError(cos.KindTransientRPC, errors.Wrapf(err, "pnn %d: %s: rate limit wait", c.pnn, op))
	}

	body, err := transport.Marshal(wireReq{Op: op, Args: args})
	if err != nil {
		return cos.NewKindError(cos.KindFatalInternal, errors.Wrap(err, "marshal request"))
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/v1/ctl")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			timeout = d
		}
	}

	if err := c.hc.DoTimeout(req, resp, timeout); err != nil {
		return cos.NewKindError(cos.KindTransientRPC,
			errors.Wrapf(err, "pnn %d: %s", c.pnn, op))
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return cos.NewKindError(cos.KindTransientRPC,
			fmt.Errorf("pnn %d: %s: http status %d", c.pnn, op, resp.StatusCode()))
	}

	var wr wireResp
	wr.Data = out
	if err := transport.Unmarshal(resp.Body(), &wr); err != nil {
		return cos.NewKindError(cos.KindTransientRPC, errors.Wrapf(err, "pnn %d: %s: decode", c.pnn, op))
	}
	if wr.Status != 0 {
		return cos.NewKindError(cos.KindDisagreement,
			fmt.Errorf("pnn %d: %s: remote status %d: %s", c.pnn, op, wr.Status, wr.Error))
	}
	return nil
}

func (c *HTTPClient) GetPNN(ctx context.Context) (cluster.PNN, error) {
	var pnn int32
	err := c.call(ctx, "get_pnn", nil, &pnn)
	return cluster.PNN(pnn), err
}

func (c *HTTPClient) GetNodeMap(ctx context.Context) (cluster.NodeMap, error) {
	var nm cluster.NodeMap
	err := c.call(ctx, "get_nodemap", nil, &nm)
	return nm, err
}

func (c *HTTPClient) GetVNNMap(ctx context.Context) (*cluster.VNNMap, error) {
	var vm cluster.VNNMap
	err := c.call(ctx, "get_vnnmap", nil, &vm)
	return &vm, err
}

func (c *HTTPClient) GetDBMap(ctx context.Context) (cluster.DBMap, error) {
	var dm cluster.DBMap
	err := c.call(ctx, "get_dbmap", nil, &dm)
	return dm, err
}

func (c *HTTPClient) GetDBName(ctx context.Context, dbid uint32) (string, error) {
	var name string
	err := c.call(ctx, "get_dbname", dbid, &name)
	return name, err
}

func (c *HTTPClient) GetPublicIPs(ctx context.Context) ([]string, error) {
	var ips []string
	err := c.call(ctx, "get_public_ips", nil, &ips)
	return ips, err
}

func (c *HTTPClient) GetRecMaster(ctx context.Context) (cluster.PNN, error) {
	var pnn int32
	err := c.call(ctx, "get_recmaster", nil, &pnn)
	return cluster.PNN(pnn), err
}

func (c *HTTPClient) GetRecMode(ctx context.Context) (cluster.RecoveryMode, error) {
	var mode int
	err := c.call(ctx, "get_recmode", nil, &mode)
	return cluster.RecoveryMode(mode), err
}

func (c *HTTPClient) GetMaxRSN(ctx context.Context, dbid uint32) (uint64, error) {
	var rsn uint64
	err := c.call(ctx, "get_max_rsn", dbid, &rsn)
	return rsn, err
}

func (c *HTTPClient) GetAllTunables(ctx context.Context) (Tunables, error) {
	var t Tunables
	err := c.call(ctx, "get_all_tunables", nil, &t)
	return t, err
}

func (c *HTTPClient) SetRecMaster(ctx context.Context, pnn cluster.PNN) error {
	return c.call(ctx, "set_recmaster", int32(pnn), nil)
}

func (c *HTTPClient) SetRecMode(ctx context.Context, mode cluster.RecoveryMode) error {
	return c.call(ctx, "set_recmode", int(mode), nil)
}

func (c *HTTPClient) SetVNNMap(ctx context.Context, vm *cluster.VNNMap) error {
	if vm.Generation == cluster.InvalidGeneration {
		return cos.NewKindError(cos.KindInvariantViolation, fmt.Errorf("refusing to set invalid generation"))
	}
	return c.call(ctx, "set_vnnmap", vm, nil)
}

func (c *HTTPClient) SetDMaster(ctx context.Context, dbid uint32, pnn cluster.PNN) error {
	return c.call(ctx, "set_dmaster", struct {
		DBID uint32      `json:"dbid"`
		PNN  cluster.PNN `json:"pnn"`
	}{dbid, pnn}, nil)
}

func (c *HTTPClient) ModFlags(ctx context.Context, setMask, clearMask cluster.Flags) error {
	return c.call(ctx, "mod_flags", struct {
		Set   cluster.Flags `json:"set"`
		Clear cluster.Flags `json:"clear"`
	}{setMask, clearMask}, nil)
}

func (c *HTTPClient) CreateDB(ctx context.Context, name string, persistent bool) error {
	return c.call(ctx, "create_db", struct {
		Name       string `json:"name"`
		Persistent bool   `json:"persistent"`
	}{name, persistent}, nil)
}

func (c *HTTPClient) Freeze(ctx context.Context) error { return c.call(ctx, "freeze", nil, nil) }
func (c *HTTPClient) Thaw(ctx context.Context) error   { return c.call(ctx, "thaw", nil, nil) }

func (c *HTTPClient) CopyDB(ctx context.Context, srcPNN, dstPNN cluster.PNN, dbid uint32) error {
	return c.call(ctx, "copy_db", struct {
		Src  cluster.PNN `json:"src"`
		Dst  cluster.PNN `json:"dst"`
		DBID uint32      `json:"dbid"`
	}{srcPNN, dstPNN, dbid}, nil)
}

func (c *HTTPClient) SetRSNNonEmpty(ctx context.Context, dbid uint32, rsn uint64) error {
	return c.call(ctx, "set_rsn_nonempty", struct {
		DBID uint32 `json:"dbid"`
		RSN  uint64 `json:"rsn"`
	}{dbid, rsn}, nil)
}

func (c *HTTPClient) DeleteLowRSN(ctx context.Context, dbid uint32, rsn uint64) error {
	return c.call(ctx, "delete_low_rsn", struct {
		DBID uint32 `json:"dbid"`
		RSN  uint64 `json:"rsn"`
	}{dbid, rsn}, nil)
}

func (c *HTTPClient) SendMessage(ctx context.Context, srvid transport.Srvid, from cluster.PNN, payload []byte) error {
	return c.call(ctx, "send_message", struct {
		Srvid   transport.Srvid `json:"srvid"`
		From    cluster.PNN     `json:"from"`
		Payload []byte          `json:"payload"`
	}{srvid, from, payload}, nil)
}

// interface guard
var _ Client = (*HTTPClient)(nil)
