package producers_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/controlplane"
	"github.com/ais-netlab/chaos/linklock"
	"github.com/ais-netlab/chaos/portpool"
	"github.com/ais-netlab/chaos/producers"
	"github.com/ais-netlab/chaos/routing"
	"github.com/ais-netlab/chaos/shaping"
	"github.com/ais-netlab/chaos/snapshot"
	"github.com/ais-netlab/chaos/topo"
	"github.com/ais-netlab/chaos/undo"
	"github.com/ais-netlab/chaos/xoshiro256"
)

func deterministicRand(seed uint64) *rand.Rand { return rand.New(xoshiro256.New(seed)) }

// fakeGateway is the same in-memory tc/vtysh/exec simulator used by
// controlplane's own tests, duplicated here to keep package tests
// self-contained.
type fakeGateway struct {
	state map[string]topo.ShapingTuple
}

func newFakeGateway() *fakeGateway { return &fakeGateway{state: make(map[string]topo.ShapingTuple)} }

func (g *fakeGateway) Exec(_ context.Context, container string, argv ...string) (cgw.Result, error) {
	switch argv[0] {
	case "ip":
		return cgw.Result{Stdout: "10.0.0.2 dev eth0 src 10.0.0.1", Exit: 0}, nil
	case "vtysh":
		return cgw.Result{Exit: 0}, nil
	case "traffic-gen":
		return cgw.Result{Exit: 0}, nil
	case "tc":
		switch {
		case argv[1] == "qdisc" && argv[2] == "del":
			return cgw.Result{Exit: 1, Stderr: "no root qdisc"}, nil
		case argv[1] == "qdisc" && argv[2] == "add":
			key := container + "\x00" + argv[4]
			tup := g.state[key]
			for i, a := range argv {
				switch a {
				case "loss":
					tup.Loss = argv[i+1]
				case "delay":
					tup.Delay = argv[i+1]
				case "rate":
					tup.Bandwidth = argv[i+1]
				case "burst":
					tup.Burst = argv[i+1]
				case "latency":
					tup.Buffer = argv[i+1]
				}
			}
			g.state[key] = tup
			return cgw.Result{Exit: 0}, nil
		case argv[1] == "qdisc" && argv[2] == "show":
			key := container + "\x00" + argv[4]
			tup, ok := g.state[key]
			if !ok {
				return cgw.Result{Exit: 0}, nil // nothing configured yet
			}
			return cgw.Result{Exit: 0, Stdout: "loss " + tup.Loss + " delay " + tup.Delay +
				" rate " + tup.Bandwidth + " burst " + tup.Burst + " latency " + tup.Buffer}, nil
		}
	}
	return cgw.Result{Exit: 1, Stderr: "unrecognized"}, nil
}

func (g *fakeGateway) PullFile(context.Context, string, string) ([]byte, error) { return nil, nil }
func (g *fakeGateway) PushFile(context.Context, string, string, []byte) error   { return nil }

func newTestWorld(t *testing.T) *producers.World {
	model := topo.NewModel()
	model.AddNode(topo.Node{Name: "r1", Role: topo.RoleRouter, IP: "10.0.0.1"})
	model.AddNode(topo.Node{Name: "r2", Role: topo.RoleRouter, IP: "10.0.0.2"})
	model.AddUndirectedLink("r1", "r2", topo.ShapingTuple{
		Loss: "0%", Delay: "10ms", Bandwidth: "10mbit", Burst: "125000", Buffer: "50ms",
	})
	model.AddNode(topo.Node{Name: "h1", Role: topo.RoleHost, IP: "10.0.1.1"})
	model.AddNode(topo.Node{Name: "h2", Role: topo.RoleHost, IP: "10.0.1.2"})

	gw := newFakeGateway()
	routingDriver := routing.New(gw)
	snapStore, err := snapshot.New(routingDriver, model)
	require.NoError(t, err)
	t.Cleanup(func() { _ = snapStore.Close() })

	reg := &controlplane.Registry{
		Model:    model,
		Shaping:  shaping.New(gw, model),
		Routing:  routingDriver,
		Snapshot: snapStore,
		Locks:    linklock.NewTable(),
		Ports:    portpool.New(20000, 20010),
		Gateway:  gw,
	}
	return producers.NewWorld(reg, undo.NewScheduler(), nil)
}

// TestElementaryLossPreservesOtherFields is S1: an elementary loss pulse
// must leave bandwidth/buffer/burst/delay exactly as they were before
// the pulse, once the pulse is done restoring.
func TestElementaryLossPreservesOtherFields(t *testing.T) {
	w := newTestWorld(t)
	link, ok := w.Reg.Model.Link("r1", "r2")
	require.True(t, ok)

	require.NoError(t, producers.ElementaryLossOnLink(context.Background(), w, link))

	tuple, err := w.Reg.Shaping.Read(context.Background(), link)
	require.NoError(t, err)
	require.Equal(t, "0%", tuple.Loss)
	require.Equal(t, "10ms", tuple.Delay)
	require.Equal(t, "10mbit", tuple.Bandwidth)
	require.Equal(t, "50ms", tuple.Buffer)
}

// TestDelaySpikeRestoresBaseline exercises the same continuous-modify-
// hold pattern for delay.
func TestDelaySpikeRestoresBaseline(t *testing.T) {
	w := newTestWorld(t)
	link, ok := w.Reg.Model.Link("r1", "r2")
	require.True(t, ok)

	rng := deterministicRand(1)
	require.NoError(t, producers.DelaySpikeOnLink(context.Background(), w, rng, link))

	tuple, err := w.Reg.Shaping.Read(context.Background(), link)
	require.NoError(t, err)
	require.Equal(t, "10ms", tuple.Delay)
}

// TestDisconnectLinkEnqueuesUndo checks that cutting a link enqueues
// exactly one undo action and holds in_use until it fires.
func TestDisconnectLinkEnqueuesUndo(t *testing.T) {
	w := newTestWorld(t)
	rng := deterministicRand(2)

	require.Equal(t, 0, w.Undo.Depth())
	producers.DisconnectLinkOnce(context.Background(), w, rng)
	require.Equal(t, 1, w.Undo.Depth())
}

// TestBackgroundTrafficSkipsWhenPortPoolDrained is a S4-style boundary
// check: with the port pool fully leased, the producer must skip the
// iteration rather than block or error.
func TestBackgroundTrafficSkipsWhenPortPoolDrained(t *testing.T) {
	w := newTestWorld(t)
	for {
		if _, ok := w.Reg.Ports.Lease(time.Minute); !ok {
			break
		}
	}
	rng := deterministicRand(3)
	producers.BackgroundTrafficOnce(context.Background(), w, rng, 1.0)
}

// TestBogusStaticRouteNeedsThreeRouters checks the guard fires cleanly
// on a too-small topology instead of panicking.
func TestBogusStaticRouteNeedsThreeRouters(t *testing.T) {
	w := newTestWorld(t)
	rng := deterministicRand(4)
	producers.BogusStaticRouteOnce(context.Background(), w, rng)
	require.Equal(t, 0, w.Undo.Depth())
}
