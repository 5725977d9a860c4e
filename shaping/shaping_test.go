package shaping_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/shaping"
	"github.com/ais-netlab/chaos/topo"
)

// fakeGateway is an in-memory stand-in for the Container Gateway driving
// a single simulated "tc" qdisc per (container, iface).
type fakeGateway struct {
	mu    sync.Mutex
	state map[string]topo.ShapingTuple // "container\x00iface" -> tuple
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{state: make(map[string]topo.ShapingTuple)}
}

func (g *fakeGateway) Exec(_ context.Context, container string, argv ...string) (cgw.Result, error) {
	switch {
	case argv[0] == "ip":
		return cgw.Result{Stdout: "10.0.0.2 dev eth0 src 10.0.0.1", Exit: 0}, nil
	case argv[0] == "tc" && argv[1] == "qdisc" && argv[2] == "del":
		return cgw.Result{Exit: 1, Stderr: "no root qdisc"}, nil
	case argv[0] == "tc" && argv[1] == "qdisc" && argv[2] == "add" && contains(argv, "netem"):
		iface := argv[4]
		key := container + "\x00" + iface
		g.mu.Lock()
		t := g.state[key]
		t.Loss = valueAfter(argv, "loss")
		t.Delay = valueAfter(argv, "delay")
		g.state[key] = t
		g.mu.Unlock()
		return cgw.Result{Exit: 0}, nil
	case argv[0] == "tc" && argv[1] == "qdisc" && argv[2] == "add" && contains(argv, "tbf"):
		iface := argv[4]
		key := container + "\x00" + iface
		g.mu.Lock()
		t := g.state[key]
		t.Bandwidth = valueAfter(argv, "rate")
		t.Burst = valueAfter(argv, "burst")
		t.Buffer = valueAfter(argv, "latency")
		g.state[key] = t
		g.mu.Unlock()
		return cgw.Result{Exit: 0}, nil
	case argv[0] == "tc" && argv[1] == "qdisc" && argv[2] == "show":
		iface := argv[4]
		key := container + "\x00" + iface
		g.mu.Lock()
		t := g.state[key]
		g.mu.Unlock()
		out := fmt.Sprintf("qdisc netem 1: root loss %s delay %s\nqdisc tbf 10: parent 1: rate %s burst %s latency %s",
			t.Loss, t.Delay, t.Bandwidth, t.Burst, t.Buffer)
		return cgw.Result{Stdout: out, Exit: 0}, nil
	}
	return cgw.Result{Exit: 1, Stderr: "unrecognized command"}, nil
}

func (g *fakeGateway) PullFile(context.Context, string, string) ([]byte, error) { return nil, nil }
func (g *fakeGateway) PushFile(context.Context, string, string, []byte) error   { return nil }

func contains(ss []string, needle string) bool {
	for _, s := range ss {
		if s == needle {
			return true
		}
	}
	return false
}

func valueAfter(ss []string, key string) string {
	for i, s := range ss {
		if s == key && i+1 < len(ss) {
			return ss[i+1]
		}
	}
	return ""
}

func testModel() *topo.Model {
	m := topo.NewModel()
	m.AddNode(topo.Node{Name: "r1", Role: topo.RoleRouter, IP: "10.0.0.1"})
	m.AddNode(topo.Node{Name: "r2", Role: topo.RoleRouter, IP: "10.0.0.2"})
	m.AddUndirectedLink("r1", "r2", topo.ShapingTuple{
		Loss: "0%", Delay: "10ms", Bandwidth: "10mbit", Burst: "125000", Buffer: "50ms",
	})
	return m
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	model := testModel()
	gw := newFakeGateway()
	d := shaping.New(gw, model)
	ctx := context.Background()

	link, ok := model.Link("r1", "r2")
	require.True(t, ok)

	want := topo.ShapingTuple{Loss: "5%", Delay: "20ms", Bandwidth: "5mbit", Burst: "60000", Buffer: "30ms"}
	_, err := d.Write(ctx, link, want)
	require.NoError(t, err)

	got, err := d.Read(ctx, link)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResetRestoresBaseline(t *testing.T) {
	model := testModel()
	gw := newFakeGateway()
	d := shaping.New(gw, model)
	ctx := context.Background()

	link, ok := model.Link("r1", "r2")
	require.True(t, ok)

	_, err := d.Write(ctx, link, topo.ShapingTuple{Loss: "100%", Delay: "1ms", Bandwidth: "1mbit", Burst: "1", Buffer: "1ms"})
	require.NoError(t, err)

	_, err = d.Reset(ctx, link)
	require.NoError(t, err)

	got, err := d.Read(ctx, link)
	require.NoError(t, err)
	require.Equal(t, link.Baseline, got)
}
