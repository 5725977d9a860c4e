package controlplane_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/controlplane"
	"github.com/ais-netlab/chaos/linklock"
	"github.com/ais-netlab/chaos/portpool"
	"github.com/ais-netlab/chaos/routing"
	"github.com/ais-netlab/chaos/shaping"
	"github.com/ais-netlab/chaos/snapshot"
	"github.com/ais-netlab/chaos/topo"
)

// fakeGateway mirrors shaping_test.go's in-memory tc simulator, plus a
// trivial vtysh stand-in so routing directives succeed unconditionally.
type fakeGateway struct {
	state map[string]topo.ShapingTuple
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{state: make(map[string]topo.ShapingTuple)}
}

func (g *fakeGateway) Exec(_ context.Context, container string, argv ...string) (cgw.Result, error) {
	switch argv[0] {
	case "ip":
		return cgw.Result{Stdout: "10.0.0.2 dev eth0 src 10.0.0.1", Exit: 0}, nil
	case "vtysh":
		return cgw.Result{Stdout: "", Exit: 0}, nil
	case "iptables":
		return cgw.Result{Exit: 0}, nil
	case "tc":
		switch {
		case argv[1] == "qdisc" && argv[2] == "del":
			return cgw.Result{Exit: 1, Stderr: "no root qdisc"}, nil
		case argv[1] == "qdisc" && argv[2] == "add":
			key := container + "\x00" + argv[4]
			t := g.state[key]
			for i, a := range argv {
				switch a {
				case "loss":
					t.Loss = argv[i+1]
				case "delay":
					t.Delay = argv[i+1]
				case "rate":
					t.Bandwidth = argv[i+1]
				case "burst":
					t.Burst = argv[i+1]
				case "latency":
					t.Buffer = argv[i+1]
				}
			}
			g.state[key] = t
			return cgw.Result{Exit: 0}, nil
		case argv[1] == "qdisc" && argv[2] == "show":
			key := container + "\x00" + argv[4]
			t, ok := g.state[key]
			if !ok {
				return cgw.Result{Exit: 0}, nil // nothing configured yet
			}
			return cgw.Result{Exit: 0, Stdout: "loss " + t.Loss + " delay " + t.Delay +
				" rate " + t.Bandwidth + " burst " + t.Burst + " latency " + t.Buffer}, nil
		}
	}
	return cgw.Result{Exit: 1, Stderr: "unrecognized"}, nil
}

func (g *fakeGateway) PullFile(context.Context, string, string) ([]byte, error) { return nil, nil }
func (g *fakeGateway) PushFile(context.Context, string, string, []byte) error   { return nil }

func newTestServer(t *testing.T) *controlplane.Server {
	model := topo.NewModel()
	model.AddNode(topo.Node{Name: "r1", Role: topo.RoleRouter, IP: "10.0.0.1"})
	model.AddNode(topo.Node{Name: "r2", Role: topo.RoleRouter, IP: "10.0.0.2"})
	model.AddUndirectedLink("r1", "r2", topo.ShapingTuple{
		Loss: "0%", Delay: "10ms", Bandwidth: "10mbit", Burst: "125000", Buffer: "50ms",
	})

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
	return controlplane.NewServer(reg)
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestAddLossThenLinkStateRoundTrips(t *testing.T) {
	mux := newTestServer(t).Mux()

	rr := doJSON(t, mux, http.MethodPost, "/add_loss", map[string]any{"src": "r1", "dst": "r2", "loss_rate": 12.0})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, mux, http.MethodGet, "/link_state?src=r1&dst=r2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var tuple topo.ShapingTuple
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tuple))
	require.Equal(t, "12%", tuple.Loss)
	require.Equal(t, "10ms", tuple.Delay, "non-target fields must be preserved")
}

func TestUnknownLinkReturns404(t *testing.T) {
	mux := newTestServer(t).Mux()

	rr := doJSON(t, mux, http.MethodPost, "/add_loss", map[string]any{"src": "r1", "dst": "ghost", "loss_rate": 1.0})
	require.Equal(t, http.StatusNotFound, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Contains(t, body, "detail")
}

func TestTakeThenApplySnapshot(t *testing.T) {
	mux := newTestServer(t).Mux()

	rr := doJSON(t, mux, http.MethodPost, "/take_snapshot", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var taken map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &taken))
	require.NotEmpty(t, taken["id"])

	rr = doJSON(t, mux, http.MethodPost, "/apply_snapshot", map[string]string{"snapshot_id": taken["id"]})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, mux, http.MethodPost, "/apply_snapshot", map[string]string{"snapshot_id": "does-not-exist"})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAvailableRoutersAndLinks(t *testing.T) {
	mux := newTestServer(t).Mux()

	rr := doJSON(t, mux, http.MethodGet, "/available_routers", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, mux, http.MethodGet, "/links", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string][]controlplane.LinkDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body["links"], 2, "one undirected link expands to two directions")
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	mux := newTestServer(t).Mux()
	rr := doJSON(t, mux, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "chaos_undo_queue_depth")
}
