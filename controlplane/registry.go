// Package controlplane is the Event Registry & API (C7): the HTTP
// surface built on the Shaping Driver, Routing Driver, Snapshot Store,
// Link Mutex Table, and Port Pool (C3-C6, C8).
package controlplane

import (
	"context"
	"fmt"

	"github.com/teris-io/shortid"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/cmn/cos"
	"github.com/ais-netlab/chaos/cmn/debug"
	"github.com/ais-netlab/chaos/linklock"
	"github.com/ais-netlab/chaos/portpool"
	"github.com/ais-netlab/chaos/routing"
	"github.com/ais-netlab/chaos/shaping"
	"github.com/ais-netlab/chaos/snapshot"
	"github.com/ais-netlab/chaos/topo"
)

// Outcome is the common {output, exit_code} success payload (§6).
type Outcome struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// Registry wires the control-plane operations onto the drivers they
// share. All mutators that touch a link's shaping tuple go through
// Locks to preserve the per-direction modify/in_use contract (§4.1).
type Registry struct {
	Model    *topo.Model
	Shaping  *shaping.Driver
	Routing  *routing.Driver
	Snapshot *snapshot.Store
	Locks    *linklock.Table
	Ports    *portpool.Pool
	Gateway  cgw.Gateway
}

func (r *Registry) resolveLink(src, dst string) (topo.Link, error) {
	link, ok := r.Model.Link(src, dst)
	if !ok {
		return topo.Link{}, cos.NewErrUnknownLink(src, dst)
	}
	return link, nil
}

// setField runs a read-modify-write over link's shaping tuple under the
// modify lock, applying mutate to the freshly read-back tuple before
// writing it, so the four non-target fields are preserved exactly as
// read immediately before the write (§3 Shaping Tuple invariant).
func (r *Registry) setField(ctx context.Context, link topo.Link, mutate func(*topo.ShapingTuple)) (Outcome, error) {
	var out Outcome
	err := r.Locks.WithModify(link.ID, func() error {
		cur, err := r.Shaping.Read(ctx, link)
		if err != nil {
			return err
		}
		before := cur
		mutate(&cur)
		debug.Assert(changedFields(before, cur) <= 1, "setField touched more than one field", link.ID)
		res, err := r.Shaping.Write(ctx, link, cur)
		out = Outcome{Output: res.Stdout, ExitCode: res.Exit}
		return err
	})
	return out, err
}

// changedFields counts how many of the five tuple fields differ between
// before and after; setField's callers each mutate exactly one, so this
// guards the read-modify-write preserving the rest untouched.
func changedFields(before, after topo.ShapingTuple) int {
	n := 0
	if before.Loss != after.Loss {
		n++
	}
	if before.Delay != after.Delay {
		n++
	}
	if before.Bandwidth != after.Bandwidth {
		n++
	}
	if before.Burst != after.Burst {
		n++
	}
	if before.Buffer != after.Buffer {
		n++
	}
	return n
}

// AddLoss sets the link's loss percentage, preserving delay, bandwidth,
// burst, and buffer.
func (r *Registry) AddLoss(ctx context.Context, src, dst string, lossPct float64) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Loss = cos.FormatPercent(lossPct) })
}

// AddDelay sets the link's delay in ms, preserving the other fields.
func (r *Registry) AddDelay(ctx context.Context, src, dst string, delayMs int) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Delay = cos.FormatMillis(delayMs) })
}

// SetBandwidth sets the link's bandwidth in mbit.
func (r *Registry) SetBandwidth(ctx context.Context, src, dst string, mbit float64) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Bandwidth = cos.FormatMbit(int(mbit * 1000)) })
}

// SetBuffer sets the link's buffer (latency) in ms.
func (r *Registry) SetBuffer(ctx context.Context, src, dst string, ms int) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Buffer = cos.FormatMillis(ms) })
}

// SetBurst sets the link's burst size in bits.
func (r *Registry) SetBurst(ctx context.Context, src, dst string, bits int64) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Burst = cos.FormatBits(bits) })
}

// ResetBandwidth, ResetBurst, ResetBuffer each replace only the named
// field with its baseline value, preserving the other four (§4.9).
func (r *Registry) ResetBandwidth(ctx context.Context, src, dst string) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Bandwidth = link.Baseline.Bandwidth })
}

func (r *Registry) ResetBurst(ctx context.Context, src, dst string) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Burst = link.Baseline.Burst })
}

func (r *Registry) ResetBuffer(ctx context.Context, src, dst string) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	return r.setField(ctx, link, func(t *topo.ShapingTuple) { t.Buffer = link.Baseline.Buffer })
}

// ResetLink restores all five fields to baseline in one write; calling
// it twice in a row is a no-op after the first call.
func (r *Registry) ResetLink(ctx context.Context, src, dst string) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	var out Outcome
	err = r.Locks.WithModify(link.ID, func() error {
		res, err := r.Shaping.Reset(ctx, link)
		out = Outcome{Output: res.Stdout, ExitCode: res.Exit}
		return err
	})
	return out, err
}

// LinkState reads the live shaping tuple of a link.
func (r *Registry) LinkState(ctx context.Context, src, dst string) (topo.ShapingTuple, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return topo.ShapingTuple{}, err
	}
	return r.Shaping.Read(ctx, link)
}

// ChangeOspfCost applies an OSPF cost directive to a link's egress
// interface on src (no read-modify-write needed - routing directives are
// not a 5-tuple). The interface is resolved the same way the Shaping
// Driver resolves it for tc, so both drivers always agree on which
// interface a link direction refers to.
func (r *Registry) ChangeOspfCost(ctx context.Context, src, dst string, cost int) (Outcome, error) {
	link, err := r.resolveLink(src, dst)
	if err != nil {
		return Outcome{}, err
	}
	iface, err := r.Shaping.EgressIface(ctx, link)
	if err != nil {
		return Outcome{}, err
	}
	lines := []string{fmt.Sprintf("interface %s", iface), fmt.Sprintf("ip ospf cost %d", cost)}
	stdout, exit, err := r.Routing.ApplyDirectives(ctx, src, lines)
	return Outcome{Output: stdout, ExitCode: exit}, err
}

// AddStaticRoute installs a static route at node toward destination via
// nextHop.
func (r *Registry) AddStaticRoute(ctx context.Context, node, destination, nextHop string) (Outcome, error) {
	lines := []string{fmt.Sprintf("ip route %s %s", destination, nextHop)}
	stdout, exit, err := r.Routing.ApplyDirectives(ctx, node, lines)
	return Outcome{Output: stdout, ExitCode: exit}, err
}

// RmStaticRoute removes a previously installed static route.
func (r *Registry) RmStaticRoute(ctx context.Context, node, destination, nextHop string) (Outcome, error) {
	lines := []string{fmt.Sprintf("no ip route %s %s", destination, nextHop)}
	stdout, exit, err := r.Routing.ApplyDirectives(ctx, node, lines)
	return Outcome{Output: stdout, ExitCode: exit}, err
}

// ChangeFrrConfig applies generic routing-engine directives verbatim.
func (r *Registry) ChangeFrrConfig(ctx context.Context, node string, lines []string) (Outcome, error) {
	stdout, exit, err := r.Routing.ApplyDirectives(ctx, node, lines)
	return Outcome{Output: stdout, ExitCode: exit}, err
}

// DisconnectRouter inserts a DROP rule at the head of the INPUT chain in
// node's container, so packets addressed to the container are dropped.
// The FORWARD and OUTPUT chains are not touched: traffic the router
// forwards or originates is not blocked.
func (r *Registry) DisconnectRouter(ctx context.Context, node string) (status, name, id string, err error) {
	res, execErr := r.Gateway.Exec(ctx, node, "iptables", "-I", "INPUT", "-j", "DROP")
	if execErr != nil {
		return "", node, "", &cos.ErrContainerUnavailable{Container: node, Cause: execErr}
	}
	if res.Exit != 0 {
		return "", node, "", &cos.ErrRoutingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	genID, _ := shortid.Generate()
	return "disconnected", node, genID, nil
}

// ConnectRouter removes the INPUT-chain DROP rule.
func (r *Registry) ConnectRouter(ctx context.Context, node string) (status, name, id string, err error) {
	res, execErr := r.Gateway.Exec(ctx, node, "iptables", "-D", "INPUT", "-j", "DROP")
	if execErr != nil {
		return "", node, "", &cos.ErrContainerUnavailable{Container: node, Cause: execErr}
	}
	if res.Exit != 0 {
		return "", node, "", &cos.ErrRoutingFailed{Stderr: res.Stderr, Exit: res.Exit}
	}
	genID, _ := shortid.Generate()
	return "connected", node, genID, nil
}

// TakeSnapshot and ApplySnapshot delegate to the Snapshot Store (C5).
func (r *Registry) TakeSnapshot(ctx context.Context) (id string, err error) {
	snap, err := r.Snapshot.Take(ctx)
	if err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (r *Registry) ApplySnapshot(ctx context.Context, id string) error {
	return r.Snapshot.Apply(ctx, id)
}

// Execute runs a command inside a container and waits for it to exit,
// returning its stdout and exit code. The background traffic producer
// calls it from a goroutine of its own to launch the traffic generator
// detached from its loop.
func (r *Registry) Execute(ctx context.Context, container, command string, args []string) (Outcome, error) {
	full := append([]string{command}, args...)
	res, err := r.Gateway.Exec(ctx, container, full...)
	return Outcome{Output: res.Stdout, ExitCode: res.Exit}, err
}

// AvailableRouters, Links, RouterIPs, HostIPs back the read-only
// topology query endpoints.
func (r *Registry) AvailableRouters() []string { return r.Model.AvailableRouters() }

type LinkDetail struct {
	Src      string            `json:"src"`
	Dst      string            `json:"dst"`
	Baseline topo.ShapingTuple `json:"details"`
}

func (r *Registry) Links() []LinkDetail {
	all := r.Model.AllLinks()
	out := make([]LinkDetail, 0, len(all))
	for _, l := range all {
		out = append(out, LinkDetail{Src: l.Src, Dst: l.Dst, Baseline: l.Baseline})
	}
	return out
}

func (r *Registry) RouterIPs() map[string]string { return r.Model.RouterIPs() }
func (r *Registry) HostIPs() map[string]string   { return r.Model.HostIPs() }
