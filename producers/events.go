package producers

import (
	"context"
	"math/rand"
	"time"

	"github.com/ais-netlab/chaos/cmn/cos"
	"github.com/ais-netlab/chaos/cmn/mono"
	"github.com/ais-netlab/chaos/topo"
)

// ElementaryLossOnLink fires a momentary loss pulse on link: write
// loss=100%, then immediately restore the captured current loss, both
// under one continuous hold of modify so no concurrent writer can
// observe or clobber the pulse (§4.6 ElementaryLoss, §8 invariant 3).
func ElementaryLossOnLink(ctx context.Context, w *World, link topo.Link) error {
	return w.Reg.Locks.WithModify(link.ID, func() error {
		cur, err := w.Reg.Shaping.Read(ctx, link)
		if err != nil {
			w.logMutation("loss", "elementary_loss", link, err)
			return err
		}
		pulse := cur
		pulse.Loss = "100%"
		if _, err := w.Reg.Shaping.Write(ctx, link, pulse); err != nil {
			w.logMutation("loss", "elementary_loss", link, err)
			return err
		}
		_, err = w.Reg.Shaping.Write(ctx, link, cur)
		w.logMutation("loss", "elementary_loss", link, err)
		return err
	})
}

// ComplexLossOnLink runs a bounded-duration burst of elementary losses on
// the same link direction, per §4.6 ComplexLoss. No in_use acquisition is
// needed: each elementary pulse is independently guarded by modify.
func ComplexLossOnLink(ctx context.Context, w *World, rng *rand.Rand, link topo.Link) {
	remaining := uniform(rng, 20, 50)
	for remaining > 0 {
		start := mono.NanoTime()
		if err := ElementaryLossOnLink(ctx, w, link); err != nil {
			return
		}
		sleep := rng.ExpFloat64() / (1.0 / 5.0)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(sleep * float64(time.Second))):
		}
		remaining -= mono.Since(start).Seconds()
	}
}

// LossDispatcher fires ComplexLoss with probability 0.1, ElementaryLoss
// otherwise (§4.6 Loss dispatcher; the source's buggy `< 0.1 == 0`
// condition is not reproduced - the fix follows the documented intent).
func LossDispatcher(ctx context.Context, w *World, rng *rand.Rand) {
	link, ok := pickLink(w, rng)
	if !ok {
		return
	}
	if rng.Float64() < 0.1 {
		ComplexLossOnLink(ctx, w, rng, link)
		return
	}
	_ = ElementaryLossOnLink(ctx, w, link)
}

// DelaySpikeOnLink applies a transient delay bump and restores the
// captured current delay, under one continuous modify hold (§4.6
// DelaySpike).
func DelaySpikeOnLink(ctx context.Context, w *World, rng *rand.Rand, link topo.Link) error {
	return w.Reg.Locks.WithModify(link.ID, func() error {
		cur, err := w.Reg.Shaping.Read(ctx, link)
		if err != nil {
			w.logMutation("delay", "delay_spike", link, err)
			return err
		}
		_, parseErr := cos.ParseMillis(cur.Delay)
		if parseErr != nil {
			cur.Delay = "5ms" // fallback on an unparsable current delay, per §4.6
		}
		spike := cur
		spike.Delay = cos.FormatMillis(int(uniform(rng, 30, 240)))
		if _, err := w.Reg.Shaping.Write(ctx, link, spike); err != nil {
			w.logMutation("delay", "delay_spike", link, err)
			return err
		}
		_, err = w.Reg.Shaping.Write(ctx, link, cur)
		w.logMutation("delay", "delay_spike", link, err)
		return err
	})
}

// BogusStaticRouteOnce picks three distinct routers and installs a
// static route from target toward a mask-aligned subnet of dest's IP,
// via nextHop's IP, scheduling its removal (§4.6 BogusStaticRoute).
func BogusStaticRouteOnce(ctx context.Context, w *World, rng *rand.Rand) {
	target, dest, nextHop, ok := pick3DistinctRouters(w, rng)
	if !ok {
		return
	}
	prefix := 24
	if rng.Intn(2) == 0 {
		prefix = 16
	}
	cidr, err := subnetFor(dest.IP, prefix)
	if err != nil {
		return
	}
	_, err = w.Reg.AddStaticRoute(ctx, target.Name, cidr, nextHop.IP)
	w.logMutation("chaos", "add_static_route", map[string]string{"node": target.Name, "destination": cidr, "next_hop": nextHop.IP}, err)
	if err != nil {
		return
	}
	deadline := time.Now().Add(time.Duration(uniform(rng, 30, 120) * float64(time.Second)))
	w.Undo.Enqueue(deadline, func(any) error {
		_, err := w.Reg.RmStaticRoute(context.Background(), target.Name, cidr, nextHop.IP)
		w.logMutation("undo", "rm_static_route", map[string]string{"node": target.Name, "destination": cidr, "next_hop": nextHop.IP}, err)
		return err
	}, nil)
}

// OspfWeightChangeOnce picks a random link and an OSPF cost in
// Uniform[1,100]; irreversible, no undo is enqueued (§4.6).
func OspfWeightChangeOnce(ctx context.Context, w *World, rng *rand.Rand) {
	link, ok := pickLink(w, rng)
	if !ok {
		return
	}
	cost := 1 + rng.Intn(100)
	_, err := w.Reg.ChangeOspfCost(ctx, link.Src, link.Dst, cost)
	w.logMutation("chaos", "change_ospf_cost", link, err)
}

// DelayIncreaseOnce picks a random link and a delay in Uniform[2,300]ms,
// applied as a read-modify-write; irreversible (§4.6).
func DelayIncreaseOnce(ctx context.Context, w *World, rng *rand.Rand) {
	link, ok := pickLink(w, rng)
	if !ok {
		return
	}
	delay := int(uniform(rng, 2, 300))
	_, err := w.Reg.AddDelay(ctx, link.Src, link.Dst, delay)
	w.logMutation("chaos", "add_delay", link, err)
}

// DisconnectLinkOnce tries in_use on a random link, cuts it to 100% loss,
// and schedules restoration of the exact pre-event loss + in_use release
// in Uniform[5,30]s (§4.6 DisconnectLink).
func DisconnectLinkOnce(ctx context.Context, w *World, rng *rand.Rand) {
	link, ok := pickLink(w, rng)
	if !ok {
		return
	}
	lossyOrDisconnect(ctx, w, rng, link, "100%", 5, 30)
}

// LossyLinkOnce is DisconnectLink with a random loss in Uniform[1,100]%
// and a shorter undo window Uniform[10,30]s (§4.6 LossyLink; the spec
// clamps to [1,100] to avoid the source's `randint(0,100)` 0%-is-a-no-op
// bug).
func LossyLinkOnce(ctx context.Context, w *World, rng *rand.Rand) {
	link, ok := pickLink(w, rng)
	if !ok {
		return
	}
	loss := cos.FormatPercent(uniform(rng, 1, 100))
	lossyOrDisconnect(ctx, w, rng, link, loss, 10, 30)
}

func lossyOrDisconnect(ctx context.Context, w *World, rng *rand.Rand, link topo.Link, loss string, undoLo, undoHi float64) {
	var captured topo.ShapingTuple
	acquired, err := w.Reg.Locks.WithInUse(link.ID, func() error {
		return w.Reg.Locks.WithModify(link.ID, func() error {
			cur, err := w.Reg.Shaping.Read(ctx, link)
			if err != nil {
				return err
			}
			captured = cur
			pulse := cur
			pulse.Loss = loss
			_, err = w.Reg.Shaping.Write(ctx, link, pulse)
			return err
		})
	})
	if !acquired {
		return // another long-running reversible event already holds in_use
	}
	w.logMutation("chaos", "disconnect_link", link, err)
	if err != nil {
		return // WithInUse already released in_use
	}
	deadline := time.Now().Add(time.Duration(uniform(rng, undoLo, undoHi) * float64(time.Second)))
	w.Undo.Enqueue(deadline, func(any) error {
		restoreErr := w.Reg.Locks.WithModify(link.ID, func() error {
			_, err := w.Reg.Shaping.Write(context.Background(), link, captured)
			return err
		})
		w.Reg.Locks.ReleaseInUse(link.ID)
		w.logMutation("undo", "disconnect_link_restore", link, restoreErr)
		return restoreErr
	}, nil)
}

// DisconnectRouterOnce picks a random router, blocks it, and schedules
// its reconnection in Uniform[60,300]s (§4.6 DisconnectRouter).
func DisconnectRouterOnce(ctx context.Context, w *World, rng *rand.Rand) {
	node, ok := pickNode(w, rng, topo.RoleRouter)
	if !ok {
		return
	}
	_, _, _, err := w.Reg.DisconnectRouter(ctx, node.Name)
	w.logMutation("chaos", "disconnect_router", node.Name, err)
	if err != nil {
		return
	}
	deadline := time.Now().Add(time.Duration(uniform(rng, 60, 300) * float64(time.Second)))
	w.Undo.Enqueue(deadline, func(any) error {
		_, _, _, err := w.Reg.ConnectRouter(context.Background(), node.Name)
		w.logMutation("undo", "connect_router", node.Name, err)
		return err
	}, nil)
}

// BandwidthChangeOnce picks a random link and a bandwidth in
// Uniform[100,10000]kbps; irreversible (§4.6).
func BandwidthChangeOnce(ctx context.Context, w *World, rng *rand.Rand) {
	link, ok := pickLink(w, rng)
	if !ok {
		return
	}
	kbps := uniform(rng, 100, 10000)
	_, err := w.Reg.SetBandwidth(ctx, link.Src, link.Dst, kbps/1000.0)
	w.logMutation("chaos", "set_bandwidth", link, err)
}
