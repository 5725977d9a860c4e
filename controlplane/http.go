package controlplane

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ais-netlab/chaos/cmn/cos"
	"github.com/ais-netlab/chaos/rlog"
	jsoniter "github.com/json-iterator/go"
)

var httpJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the HTTP surface over a Registry (§6).
type Server struct {
	reg     *Registry
	metrics *metrics
	log     rlog.Logger
}

type metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	undoDepth prometheus.Gauge
	portsUsed prometheus.Gauge
}

// newMetrics uses a private registry rather than the global default, so
// that constructing more than one Server in the same process (each test
// case, for instance) never panics on a duplicate metric registration.
func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaos_controlplane_requests_total",
			Help: "Outbound control-plane requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		undoDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chaos_undo_queue_depth",
			Help: "Pending undo entries in the scheduler.",
		}),
		portsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chaos_portpool_leased",
			Help: "Ports currently leased from the port pool.",
		}),
	}
	reg.MustRegister(m.requests, m.undoDepth, m.portsUsed)
	return m
}

func NewServer(reg *Registry) *Server {
	return &Server{reg: reg, metrics: newMetrics(), log: rlog.Discard()}
}

// SetLogger wires the C12 request logger; every mutation handled after
// this call is recorded through l.
func (s *Server) SetLogger(l rlog.Logger) { s.log = l }

// SetGauges lets the orchestrator publish live undo-queue depth and
// port-pool occupancy; the server samples neither itself, and this
// package does not import undo.
func (s *Server) SetGauges(undoDepth, portsLeased int) {
	s.metrics.undoDepth.Set(float64(undoDepth))
	s.metrics.portsUsed.Set(float64(portsLeased))
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add_loss", s.handleAddLoss)
	mux.HandleFunc("POST /add_delay", s.handleAddDelay)
	mux.HandleFunc("POST /set_bandwidth", s.handleSetBandwidth)
	mux.HandleFunc("POST /set_buffer", s.handleSetBuffer)
	mux.HandleFunc("POST /set_burst", s.handleSetBurst)
	mux.HandleFunc("POST /reset_bandwidth", s.handleResetBandwidth)
	mux.HandleFunc("POST /reset_burst", s.handleResetBurst)
	mux.HandleFunc("POST /reset_buffer", s.handleResetBuffer)
	mux.HandleFunc("POST /reset_link", s.handleResetLink)
	mux.HandleFunc("POST /change_ospf_cost", s.handleChangeOspfCost)
	mux.HandleFunc("POST /add_static_route", s.handleAddStaticRoute)
	mux.HandleFunc("POST /rm_static_route", s.handleRmStaticRoute)
	mux.HandleFunc("POST /change_frr_config", s.handleChangeFrrConfig)
	mux.HandleFunc("POST /disconnect_router", s.handleDisconnectRouter)
	mux.HandleFunc("POST /connect_router", s.handleConnectRouter)
	mux.HandleFunc("POST /take_snapshot", s.handleTakeSnapshot)
	mux.HandleFunc("POST /apply_snapshot", s.handleApplySnapshot)
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /link_state", s.handleLinkState)
	mux.HandleFunc("GET /available_routers", s.handleAvailableRouters)
	mux.HandleFunc("GET /links", s.handleLinks)
	mux.HandleFunc("GET /router_ips", s.handleRouterIPs)
	mux.HandleFunc("GET /host_ips", s.handleHostIPs)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

func decode(r *http.Request, v any) error {
	return httpJSON.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := httpJSON.Marshal(v)
	_, _ = w.Write(b)
}

func (s *Server) writeOutcome(w http.ResponseWriter, endpoint string, data any, out Outcome, err error) {
	s.writeErrOr(w, endpoint, data, err, func() { writeJSON(w, http.StatusOK, out) })
}

func (s *Server) writeErrOr(w http.ResponseWriter, endpoint string, data any, err error, onOK func()) {
	if err == nil {
		s.metrics.requests.WithLabelValues(endpoint, "ok").Inc()
		rlog.Mutation(s.log, "", endpoint, data, http.StatusOK, nil)
		onOK()
		return
	}
	s.metrics.requests.WithLabelValues(endpoint, "error").Inc()
	status := http.StatusInternalServerError
	if cos.IsErrUnknownNode(err) || cos.IsErrUnknownLink(err) {
		status = http.StatusNotFound
	}
	var snapMissing *cos.ErrSnapshotMissing
	if errors.As(err, &snapMissing) {
		status = http.StatusNotFound
	}
	rlog.Mutation(s.log, "", endpoint, data, status, err)
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

type linkReq struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (s *Server) handleAddLoss(w http.ResponseWriter, r *http.Request) {
	var req struct {
		linkReq
		LossRate float64 `json:"loss_rate"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.AddLoss(r.Context(), req.Src, req.Dst, req.LossRate)
	s.writeOutcome(w, "/add_loss", req, out, err)
}

func (s *Server) handleAddDelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		linkReq
		Delay int `json:"delay"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.AddDelay(r.Context(), req.Src, req.Dst, req.Delay)
	s.writeOutcome(w, "/add_delay", req, out, err)
}

func (s *Server) handleSetBandwidth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		linkReq
		Bandwidth float64 `json:"bandwidth"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.SetBandwidth(r.Context(), req.Src, req.Dst, req.Bandwidth)
	s.writeOutcome(w, "/set_bandwidth", req, out, err)
}

func (s *Server) handleSetBuffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		linkReq
		Buffer int `json:"buffer"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.SetBuffer(r.Context(), req.Src, req.Dst, req.Buffer)
	s.writeOutcome(w, "/set_buffer", req, out, err)
}

func (s *Server) handleSetBurst(w http.ResponseWriter, r *http.Request) {
	var req struct {
		linkReq
		Burst int64 `json:"burst"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.SetBurst(r.Context(), req.Src, req.Dst, req.Burst)
	s.writeOutcome(w, "/set_burst", req, out, err)
}

func (s *Server) handleResetBandwidth(w http.ResponseWriter, r *http.Request) {
	var req linkReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.ResetBandwidth(r.Context(), req.Src, req.Dst)
	s.writeOutcome(w, "/reset_bandwidth", req, out, err)
}

func (s *Server) handleResetBurst(w http.ResponseWriter, r *http.Request) {
	var req linkReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.ResetBurst(r.Context(), req.Src, req.Dst)
	s.writeOutcome(w, "/reset_burst", req, out, err)
}

func (s *Server) handleResetBuffer(w http.ResponseWriter, r *http.Request) {
	var req linkReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.ResetBuffer(r.Context(), req.Src, req.Dst)
	s.writeOutcome(w, "/reset_buffer", req, out, err)
}

func (s *Server) handleResetLink(w http.ResponseWriter, r *http.Request) {
	var req linkReq
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.ResetLink(r.Context(), req.Src, req.Dst)
	s.writeOutcome(w, "/reset_link", req, out, err)
}

func (s *Server) handleChangeOspfCost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		linkReq
		Cost int `json:"cost"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.ChangeOspfCost(r.Context(), req.Src, req.Dst, req.Cost)
	s.writeOutcome(w, "/change_ospf_cost", req, out, err)
}

func (s *Server) handleAddStaticRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Node        string `json:"node"`
		Destination string `json:"destination"`
		NextHop     string `json:"next_hop"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.AddStaticRoute(r.Context(), req.Node, req.Destination, req.NextHop)
	s.writeOutcome(w, "/add_static_route", req, out, err)
}

func (s *Server) handleRmStaticRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Node        string `json:"node"`
		Destination string `json:"destination"`
		NextHop     string `json:"next_hop"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.RmStaticRoute(r.Context(), req.Node, req.Destination, req.NextHop)
	s.writeOutcome(w, "/rm_static_route", req, out, err)
}

func (s *Server) handleChangeFrrConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Node  string   `json:"node"`
		Lines []string `json:"lines"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.ChangeFrrConfig(r.Context(), req.Node, req.Lines)
	s.writeOutcome(w, "/change_frr_config", req, out, err)
}

func (s *Server) handleDisconnectRouter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Node string `json:"node"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	status, name, id, err := s.reg.DisconnectRouter(r.Context(), req.Node)
	s.writeErrOr(w, "/disconnect_router", req, err, func() {
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "name": name, "id": id})
	})
}

func (s *Server) handleConnectRouter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Node string `json:"node"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	status, name, id, err := s.reg.ConnectRouter(r.Context(), req.Node)
	s.writeErrOr(w, "/connect_router", req, err, func() {
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "name": name, "id": id})
	})
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := s.reg.TakeSnapshot(r.Context())
	s.writeErrOr(w, "/take_snapshot", nil, err, func() {
		writeJSON(w, http.StatusOK, map[string]string{"output": "ok", "id": id})
	})
}

func (s *Server) handleApplySnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	err := s.reg.ApplySnapshot(r.Context(), req.SnapshotID)
	s.writeErrOr(w, "/apply_snapshot", req, err, func() { w.WriteHeader(http.StatusOK) })
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Container string   `json:"container"`
		Command   string   `json:"command"`
		Args      []string `json:"args"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	out, err := s.reg.Execute(r.Context(), req.Container, req.Command, req.Args)
	s.writeOutcome(w, "/execute", req, out, err)
}

func (s *Server) handleLinkState(w http.ResponseWriter, r *http.Request) {
	src, dst := r.URL.Query().Get("src"), r.URL.Query().Get("dst")
	t, err := s.reg.LinkState(r.Context(), src, dst)
	s.writeErrOr(w, "/link_state", map[string]string{"src": src, "dst": dst}, err, func() { writeJSON(w, http.StatusOK, t) })
}

func (s *Server) handleAvailableRouters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"routers": s.reg.AvailableRouters()})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"links": s.reg.Links()})
}

func (s *Server) handleRouterIPs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ips": s.reg.RouterIPs()})
}

func (s *Server) handleHostIPs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ips": s.reg.HostIPs()})
}
