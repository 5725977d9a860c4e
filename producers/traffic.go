package producers

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/ais-netlab/chaos/topo"
)

// trafficDurationSpreadFrac is the half-width of the background-traffic
// duration's Uniform window, as a fraction of 1/rate. The source leaves
// "spread" unspecified; 20% keeps durations clustered around the mean
// inter-arrival time, never below 80% or above 120% of it.
const trafficDurationSpreadFrac = 0.2

// BackgroundTrafficOnce flips a coin between web and video, picks a
// server and 1..N clients, leases a port, and launches a detached
// traffic-generator invocation via Execute in its own goroutine, so the
// producer loop does not wait for the session to end (§4.6 Background
// traffic producer).
func BackgroundTrafficOnce(ctx context.Context, w *World, rng *rand.Rand, rate float64) {
	kind := BackgroundWeb
	if rng.Intn(2) == 1 {
		kind = BackgroundVideo
	}

	hosts := w.Reg.Model.NodesByRole(topo.RoleHost)
	if len(hosts) < 2 {
		return
	}

	serverIdx := rng.Intn(len(hosts))
	server := hosts[serverIdx]
	for attempt := 0; attempt < 3 && w.seenRecently("server:"+server.Name); attempt++ {
		serverIdx = rng.Intn(len(hosts))
		server = hosts[serverIdx]
	}

	pool := make([]string, 0, len(hosts)-1)
	for i, h := range hosts {
		if i != serverIdx {
			pool = append(pool, h.IP)
		}
	}
	n := 1 + rng.Intn(len(pool))
	perm := rng.Perm(len(pool))[:n]
	clients := make([]string, n)
	for i, idx := range perm {
		clients[i] = pool[idx]
	}

	mean := 1.0 / rate
	spread := mean * trafficDurationSpreadFrac
	duration := uniform(rng, mean-spread, mean+spread)
	if duration < 1 {
		duration = 1
	}
	lease := time.Duration(duration*float64(time.Second)) + time.Second

	port, ok := w.Reg.Ports.Lease(lease)
	if !ok {
		return // port pool drained: skip the iteration, never block (§8 boundary 9)
	}

	seed := rng.Int63()
	cmd := trafficGenCommand(kind, server.IP, clients, int(duration), port, seed)
	go func() {
		_, err := w.Reg.Execute(ctx, server.Name, cmd[0], cmd[1:])
		w.logMutation("traffic", "execute", map[string]any{
			"kind": kind, "server": server.IP, "clients": clients, "duration": duration, "port": port,
		}, err)
	}()
}

// trafficGenCommand builds the argv for the external traffic-generator
// binary. The binary itself is an out-of-scope external collaborator
// (§1); this just shapes its invocation from the sampled parameters.
func trafficGenCommand(kind EventKind, serverIP string, clientIPs []string, durationSec, port int, seed int64) []string {
	mode := "web"
	if kind == BackgroundVideo {
		mode = "video"
	}
	return []string{
		"traffic-gen",
		"--mode", mode,
		"--server", serverIP,
		"--clients", strings.Join(clientIPs, ","),
		"--duration", strconv.Itoa(durationSec),
		"--port", strconv.Itoa(port),
		"--seed", fmt.Sprintf("%d", seed),
	}
}
