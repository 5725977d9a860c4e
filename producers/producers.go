// Package producers is the Event Producers (C10): independent
// Poisson-driven generators that mutate link and router state through
// the Event Registry, guarded by the Link Mutex Table, with reversible
// events enqueuing their inverse onto the Undo Scheduler.
package producers

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/ais-netlab/chaos/cmn/mono"
	"github.com/ais-netlab/chaos/controlplane"
	"github.com/ais-netlab/chaos/rlog"
	"github.com/ais-netlab/chaos/topo"
	"github.com/ais-netlab/chaos/undo"
)

// EventKind discriminates the event variants producers generate (§9
// "tagged variant EventKind plus dispatch table", replacing the source's
// class hierarchy with a plain lookup).
type EventKind string

const (
	BackgroundWeb    EventKind = "background_web"
	BackgroundVideo  EventKind = "background_video"
	ElementaryLoss   EventKind = "elementary_loss"
	ComplexLoss      EventKind = "complex_loss"
	DelaySpike       EventKind = "delay_spike"
	BogusStaticRoute EventKind = "bogus_static_route"
	OspfWeightChange EventKind = "ospf_weight_change"
	DelayIncrease    EventKind = "delay_increase"
	DisconnectLink   EventKind = "disconnect_link"
	DisconnectRouter EventKind = "disconnect_router"
	LossyLink        EventKind = "lossy_link"
	BandwidthChange  EventKind = "bandwidth_change"
)

// EventSpec pairs a kind's undo scheduling bounds with the function that
// runs one instance of it. MinDuration == MaxDuration == 0 means
// irreversible: no undo is ever enqueued for that kind.
type EventSpec struct {
	MinDuration, MaxDuration time.Duration
	Run                      func(ctx context.Context, w *World, rng *rand.Rand) error
}

// World bundles everything a producer needs: the registry its events
// mutate through, the scheduler its reversible events enqueue onto, and
// the logger every outbound mutation is recorded through (§9 "no
// process-wide mutable globals" - everything here is owned, not global).
type World struct {
	Reg *controlplane.Registry
	Undo *undo.Scheduler
	Log  rlog.Logger

	recentMu      sync.Mutex
	recentServers *cuckoo.Filter
}

func NewWorld(reg *controlplane.Registry, scheduler *undo.Scheduler, log rlog.Logger) *World {
	if log == nil {
		log = rlog.Discard()
	}
	return &World{Reg: reg, Undo: scheduler, Log: log, recentServers: cuckoo.NewFilter(1024)}
}

func (w *World) logMutation(producer, endpoint string, data any, err error) {
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	rlog.Mutation(w.Log, producer, endpoint, data, status, err)
}

// seenRecently reports whether key is already in the recent-pick filter
// (sized for 1024 keys), inserting it if not. Nothing ever deletes from
// the filter, so once a key is in it stays "seen" for the World's
// lifetime. The background traffic producer uses this to re-pick a
// server it has picked before, up to three times.
func (w *World) seenRecently(key string) bool {
	w.recentMu.Lock()
	defer w.recentMu.Unlock()
	b := []byte(key)
	if w.recentServers.Lookup(b) {
		return true
	}
	w.recentServers.InsertUnique(b)
	return false
}

// sleepInterruptible blocks for d, waking early if shutdown closes, and
// always rechecking shutdown at least once per second so every producer
// observes it within ≤1s (§5 "suspension points", §8 boundary 11).
func sleepInterruptible(d time.Duration, shutdown <-chan struct{}) bool {
	start := mono.NanoTime()
	for {
		remaining := d - mono.Since(start)
		if remaining <= 0 {
			return true
		}
		wait := remaining
		if wait > time.Second {
			wait = time.Second
		}
		select {
		case <-shutdown:
			return false
		case <-time.After(wait):
		}
	}
}

// Runner drives one producer's loop: sample an inter-arrival interval
// from Exponential(rate), sleep it interruptibly, then run one event
// (§4.6 steps 1-3).
type Runner struct {
	Name string
	Rate float64
	Rng  *rand.Rand
	Pick func(ctx context.Context, rng *rand.Rand)
}

// Loop runs until shutdown closes.
func (r *Runner) Loop(ctx context.Context, shutdown <-chan struct{}) {
	for {
		if r.Rate <= 0 {
			select {
			case <-shutdown:
				return
			case <-time.After(time.Second):
				continue
			}
		}
		interval := r.Rng.ExpFloat64() / r.Rate
		if !sleepInterruptible(time.Duration(interval*float64(time.Second)), shutdown) {
			return
		}
		select {
		case <-shutdown:
			return
		default:
		}
		r.Pick(ctx, r.Rng)
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

func pickLink(w *World, rng *rand.Rand) (topo.Link, bool) {
	links := w.Reg.Model.AllLinks()
	if len(links) == 0 {
		return topo.Link{}, false
	}
	return links[rng.Intn(len(links))], true
}

func pickNode(w *World, rng *rand.Rand, role topo.Role) (topo.Node, bool) {
	nodes := w.Reg.Model.NodesByRole(role)
	if len(nodes) == 0 {
		return topo.Node{}, false
	}
	return nodes[rng.Intn(len(nodes))], true
}

// pick3DistinctRouters picks target, destination, and next-hop nodes, no
// two the same, for BogusStaticRoute.
func pick3DistinctRouters(w *World, rng *rand.Rand) (target, dest, nextHop topo.Node, ok bool) {
	routers := w.Reg.Model.NodesByRole(topo.RoleRouter)
	if len(routers) < 3 {
		return topo.Node{}, topo.Node{}, topo.Node{}, false
	}
	idx := rng.Perm(len(routers))[:3]
	return routers[idx[0]], routers[idx[1]], routers[idx[2]], true
}

// subnetFor computes a mask-aligned CIDR from ip truncated to prefix
// bits, per §4.6 BogusStaticRoute.
func subnetFor(ip string, prefix int) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("producers: invalid ip %q", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return "", fmt.Errorf("producers: not an IPv4 address: %q", ip)
	}
	mask := net.CIDRMask(prefix, 32)
	network := v4.Mask(mask)
	return fmt.Sprintf("%s/%d", network.String(), prefix), nil
}
