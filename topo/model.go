// Package topo is the Topology Model (C1): an immutable-after-load set
// of nodes, directed links, their baseline shaping tuples, and the IP
// map, keyed by stable integer link ids (§9 "represent links by stable
// integer ids").
package topo

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
)

type Role string

const (
	RoleRouter Role = "router"
	RoleHost   Role = "host"
)

// Node is a named routable container endpoint, immutable after load.
type Node struct {
	Name string
	Role Role
	IP   string
}

// ShapingTuple is the five shaping parameters applied to one link
// direction. Strings carry units exactly as the kernel shaping layer
// returns them; numeric operations parse on demand (cmn/cos).
type ShapingTuple struct {
	Loss      string `json:"loss"`
	Delay     string `json:"delay"`
	Bandwidth string `json:"bandwidth"`
	Burst     string `json:"burst"`
	Buffer    string `json:"buffer"`
}

// LinkID computes the stable integer id for a directed (src, dst) pair.
// Forward and reverse directions of the same undirected link get
// distinct ids because the byte strings differ.
func LinkID(src, dst string) uint64 {
	return xxhash.ChecksumString64(src + "\x00" + dst)
}

// Link is one direction of a loaded link. Current parameters are never
// cached on Link; they are always read back from the Shaping Driver.
type Link struct {
	ID       uint64
	Src, Dst string
	Baseline ShapingTuple
}

// Model is the immutable-after-load topology: nodes, directed links
// (each undirected link loaded as two independent directions), and the
// routable IP for every node.
type Model struct {
	nodes map[string]Node
	links map[uint64]Link
	// byPair lists, for a given undirected pair (ordered lexicographically
	// by name), both of its directions - used only by loaders that must
	// enumerate "the other direction" of a link.
	byPair map[string][2]uint64
}

func NewModel() *Model {
	return &Model{
		nodes:  make(map[string]Node),
		links:  make(map[uint64]Link),
		byPair: make(map[string][2]uint64),
	}
}

func (m *Model) AddNode(n Node) { m.nodes[n.Name] = n }

// AddUndirectedLink creates both directions of an undirected link with
// distinct ids and the same baseline tuple, per §4.7 step 2.
func (m *Model) AddUndirectedLink(a, b string, baseline ShapingTuple) {
	fwd := Link{ID: LinkID(a, b), Src: a, Dst: b, Baseline: baseline}
	rev := Link{ID: LinkID(b, a), Src: b, Dst: a, Baseline: baseline}
	m.links[fwd.ID] = fwd
	m.links[rev.ID] = rev
	m.byPair[pairKey(a, b)] = [2]uint64{fwd.ID, rev.ID}
}

func pairKey(a, b string) string {
	if a < b {
		return a + "\x00" + b
	}
	return b + "\x00" + a
}

func (m *Model) Node(name string) (Node, bool) {
	n, ok := m.nodes[name]
	return n, ok
}

func (m *Model) Link(src, dst string) (Link, bool) {
	l, ok := m.links[LinkID(src, dst)]
	return l, ok
}

func (m *Model) LinkByID(id uint64) (Link, bool) {
	l, ok := m.links[id]
	return l, ok
}

// AllLinks returns every loaded directed link; order is unspecified.
func (m *Model) AllLinks() []Link {
	out := make([]Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

// AllNodes returns every loaded node; order is unspecified.
func (m *Model) AllNodes() []Node {
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

func (m *Model) NodesByRole(role Role) []Node {
	out := []Node{}
	for _, n := range m.nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// RouterIPs and HostIPs back the /router_ips and /host_ips endpoints.
func (m *Model) RouterIPs() map[string]string { return ipsByRole(m, RoleRouter) }
func (m *Model) HostIPs() map[string]string   { return ipsByRole(m, RoleHost) }

func ipsByRole(m *Model, role Role) map[string]string {
	out := make(map[string]string)
	for _, n := range m.nodes {
		if n.Role == role {
			out[n.Name] = n.IP
		}
	}
	return out
}

func (m *Model) AvailableRouters() []string {
	out := []string{}
	for _, n := range m.NodesByRole(RoleRouter) {
		out = append(out, n.Name)
	}
	return out
}

// Validate asserts the non-empty-lists invariant from §4.7 step 1.
func (m *Model) Validate() error {
	if len(m.nodes) == 0 {
		return fmt.Errorf("topology: no nodes loaded")
	}
	if len(m.links) == 0 {
		return fmt.Errorf("topology: no links loaded")
	}
	if len(m.AvailableRouters()) == 0 {
		return fmt.Errorf("topology: no routers loaded")
	}
	return nil
}
