// Package shaping is the Shaping Driver (C3): applies and reads back the
// full 5-tuple (loss, delay, bandwidth, burst, buffer) on one link
// direction by driving the kernel traffic-shaping CLI (tc) inside the
// src container, against the egress interface toward dst.
package shaping

import (
	"context"
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/cmn/cos"
	"github.com/ais-netlab/chaos/topo"
)

// Driver applies and reads shaping tuples. Safe for concurrent use
// across different links; callers serialize same-direction access via
// linklock's "modify" lock.
type Driver struct {
	gw    cgw.Gateway
	model *topo.Model

	ifaceMu    sync.Mutex
	ifaceCache map[string]string // "src\x00dst" -> egress iface
}

func New(gw cgw.Gateway, model *topo.Model) *Driver {
	return &Driver{gw: gw, model: model, ifaceCache: make(map[string]string)}
}

// EgressIface resolves the interface src would use to reach dst, by
// asking src's routing table about dst's IP. May be cached per
// (src, dst); caching is not required by the contract but avoids one
// round trip per mutation on a stable topology. Shared with the Routing
// Driver so a directive that names an interface (e.g. an OSPF cost
// change) targets the same interface tc shaping would.
func (d *Driver) EgressIface(ctx context.Context, link topo.Link) (string, error) {
	key := link.Src + "\x00" + link.Dst
	d.ifaceMu.Lock()
	if iface, ok := d.ifaceCache[key]; ok {
		d.ifaceMu.Unlock()
		return iface, nil
	}
	d.ifaceMu.Unlock()

	dstNode, ok := d.model.Node(link.Dst)
	if !ok {
		return "", cos.NewErrUnknownNode(link.Dst)
	}

	res, err := d.gw.Exec(ctx, link.Src, "ip", "route", "get", dstNode.IP)
	if err != nil {
		return "", &cos.ErrContainerUnavailable{Container: link.Src, Cause: err}
	}
	if res.Exit != 0 {
		return "", &cos.ErrShapingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	iface := parseRouteDev(res.Stdout)
	if iface == "" {
		return "", errors.Errorf("shaping: could not resolve egress interface for %s->%s", link.Src, link.Dst)
	}

	d.ifaceMu.Lock()
	d.ifaceCache[key] = iface
	d.ifaceMu.Unlock()
	return iface, nil
}

var devRe = regexp.MustCompile(`\bdev\s+(\S+)`)

func parseRouteDev(out string) string {
	m := devRe.FindStringSubmatch(out)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// Read parses the live shaping configuration on link; missing fields
// fall back to link.Baseline, per §4.2.
func (d *Driver) Read(ctx context.Context, link topo.Link) (topo.ShapingTuple, error) {
	iface, err := d.EgressIface(ctx, link)
	if err != nil {
		return topo.ShapingTuple{}, err
	}

	res, err := d.gw.Exec(ctx, link.Src, "tc", "qdisc", "show", "dev", iface)
	if err != nil {
		return topo.ShapingTuple{}, &cos.ErrContainerUnavailable{Container: link.Src, Cause: err}
	}
	if res.Exit != 0 {
		return topo.ShapingTuple{}, &cos.ErrShapingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	return parseQdisc(res.Stdout, link.Baseline), nil
}

var (
	lossRe  = regexp.MustCompile(`loss\s+(\S+%)`)
	delayRe = regexp.MustCompile(`delay\s+(\S+)`)
	rateRe  = regexp.MustCompile(`rate\s+(\S+)`)
	burstRe = regexp.MustCompile(`burst\s+(\S+)`)
	lateRe  = regexp.MustCompile(`latency\s+(\S+)`)
)

func parseQdisc(out string, baseline topo.ShapingTuple) topo.ShapingTuple {
	t := baseline
	if m := lossRe.FindStringSubmatch(out); len(m) == 2 {
		t.Loss = m[1]
	}
	if m := delayRe.FindStringSubmatch(out); len(m) == 2 {
		t.Delay = m[1]
	}
	if m := rateRe.FindStringSubmatch(out); len(m) == 2 {
		t.Bandwidth = m[1]
	}
	if m := burstRe.FindStringSubmatch(out); len(m) == 2 {
		t.Burst = m[1]
	}
	if m := lateRe.FindStringSubmatch(out); len(m) == 2 {
		t.Buffer = m[1]
	}
	return t
}

// Write atomically replaces the shaping configuration with tuple:
// delete-root, add netem (loss+delay), add tbf (rate+burst+latency) as
// a child of netem. If the delete fails because no root qdisc exists
// yet, the write still proceeds (§4.2 implementation note).
func (d *Driver) Write(ctx context.Context, link topo.Link, tuple topo.ShapingTuple) (cgw.Result, error) {
	iface, err := d.EgressIface(ctx, link)
	if err != nil {
		return cgw.Result{}, err
	}

	// delete root; ignore "no such qdisc" failures and proceed
	_, _ = d.gw.Exec(ctx, link.Src, "tc", "qdisc", "del", "dev", iface, "root")

	netemArgs := []string{
		"tc", "qdisc", "add", "dev", iface, "root", "handle", "1:", "netem",
		"loss", tuple.Loss, "delay", tuple.Delay,
	}
	res, err := d.gw.Exec(ctx, link.Src, netemArgs...)
	if err != nil {
		return cgw.Result{}, &cos.ErrContainerUnavailable{Container: link.Src, Cause: err}
	}
	if res.Exit != 0 {
		return res, &cos.ErrShapingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}

	tbfArgs := []string{
		"tc", "qdisc", "add", "dev", iface, "parent", "1:", "handle", "10:", "tbf",
		"rate", tuple.Bandwidth, "burst", tuple.Burst, "latency", tuple.Buffer,
	}
	res, err = d.gw.Exec(ctx, link.Src, tbfArgs...)
	if err != nil {
		return cgw.Result{}, &cos.ErrContainerUnavailable{Container: link.Src, Cause: err}
	}
	if res.Exit != 0 {
		return res, &cos.ErrShapingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	return res, nil
}

// Reset replaces the shaping configuration with link's baseline tuple.
func (d *Driver) Reset(ctx context.Context, link topo.Link) (cgw.Result, error) {
	return d.Write(ctx, link, link.Baseline)
}
