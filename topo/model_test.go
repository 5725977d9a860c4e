package topo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/cmn/cos"
	"github.com/ais-netlab/chaos/topo"
)

func TestAddUndirectedLinkCreatesTwoDirections(t *testing.T) {
	m := topo.NewModel()
	m.AddNode(topo.Node{Name: "r1", Role: topo.RoleRouter, IP: "10.0.0.1"})
	m.AddNode(topo.Node{Name: "r2", Role: topo.RoleRouter, IP: "10.0.0.2"})

	baseline := topo.ShapingTuple{Loss: "0%", Delay: "10ms", Bandwidth: "10mbit", Burst: "125000", Buffer: "50ms"}
	m.AddUndirectedLink("r1", "r2", baseline)

	fwd, ok := m.Link("r1", "r2")
	require.True(t, ok)
	rev, ok := m.Link("r2", "r1")
	require.True(t, ok)

	require.NotEqual(t, fwd.ID, rev.ID, "forward and reverse directions must have distinct ids")
	require.Equal(t, baseline, fwd.Baseline)
	require.Equal(t, baseline, rev.Baseline)
}

func TestLinkIDStable(t *testing.T) {
	require.Equal(t, topo.LinkID("a", "b"), topo.LinkID("a", "b"))
	require.NotEqual(t, topo.LinkID("a", "b"), topo.LinkID("b", "a"))
}

func TestValidateRejectsEmptyTopology(t *testing.T) {
	m := topo.NewModel()
	require.Error(t, m.Validate())
}

func TestDefaultBurstFromCos(t *testing.T) {
	// 10mbit: bps=10,000,000; 0.1*bps=1,000,000 > 10*MTU*8=120,000 -> bandwidth-derived wins
	require.Equal(t, int64(1000000), cos.DefaultBurst(10000))
	// 0.1mbit: bps=100,000; 0.1*bps=10,000 < 120,000 -> MTU floor wins
	require.Equal(t, int64(120000), cos.DefaultBurst(100))
}
