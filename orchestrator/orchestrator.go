// Package orchestrator is the Orchestrator Runtime (C11): it loads the
// topology, wires the control-plane drivers into a Registry, takes the
// baseline snapshot, spawns the named producer and undo-scheduler
// tasks, and on shutdown drains and restores that baseline (§4.7).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/controlplane"
	"github.com/ais-netlab/chaos/linklock"
	"github.com/ais-netlab/chaos/portpool"
	"github.com/ais-netlab/chaos/producers"
	"github.com/ais-netlab/chaos/rlog"
	"github.com/ais-netlab/chaos/routing"
	"github.com/ais-netlab/chaos/shaping"
	"github.com/ais-netlab/chaos/snapshot"
	"github.com/ais-netlab/chaos/topo"
	"github.com/ais-netlab/chaos/undo"
)

// Rates bundles the per-producer arrival rates taken from CLI flags;
// the chaos producer's rate is derived, not configured (§4.6 "Chaos
// producer driving rate").
type Rates struct {
	Traffic float64
	Loss    float64
	Delay   float64
}

// Config is everything Startup needs besides the topology itself.
type Config struct {
	LabDir       string
	ContainerBin string
	Seed         uint64
	Rates        Rates
	Log          rlog.Logger
	PortRangeLo  int
	PortRangeHi  int
}

// joinTimeout bounds how long Shutdown waits for the task group before
// giving up and proceeding with baseline restoration anyway. It is one
// bound for the whole group, not a separate 60s per task.
const joinTimeout = 60 * time.Second

// State is the running orchestrator: no process-wide globals hold any
// of this (§9 "Module-level state").
type State struct {
	Reg        *controlplane.Registry
	Server     *controlplane.Server
	World      *producers.World
	baselineID string
	log        rlog.Logger
	totalPorts int

	shutdown chan struct{}
	group    *errgroup.Group
	groupCtx context.Context
}

// gaugeInterval is how often the gauge-refresh task that Startup spawns
// samples the undo queue depth and port-pool occupancy.
const gaugeInterval = time.Second

// Startup performs §4.7's five startup steps and spawns the four named
// producer tasks plus the Undo Scheduler.
func Startup(ctx context.Context, cfg Config) (*State, error) {
	model, err := topo.LoadLab(cfg.LabDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading topology: %w", err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	gw := cgw.New(cfg.ContainerBin)
	routingDriver := routing.New(gw)
	snapStore, err := snapshot.New(routingDriver, model)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening snapshot store: %w", err)
	}

	reg := &controlplane.Registry{
		Model:    model,
		Shaping:  shaping.New(gw, model),
		Routing:  routingDriver,
		Snapshot: snapStore,
		Locks:    linklock.NewTable(),
		Ports:    portpool.New(cfg.PortRangeLo, cfg.PortRangeHi),
		Gateway:  gw,
	}

	log := cfg.Log
	if log == nil {
		log = rlog.Discard()
	}

	baseline, err := reg.Snapshot.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: taking baseline snapshot: %w", err)
	}

	server := controlplane.NewServer(reg)
	server.SetLogger(log)

	scheduler := undo.NewScheduler()
	world := producers.NewWorld(reg, scheduler, log)

	group, groupCtx := errgroup.WithContext(ctx)
	shutdown := make(chan struct{})

	runners := []*producers.Runner{
		producers.NewBackgroundTrafficRunner(world, cfg.Rates.Traffic, cfg.Seed),
		producers.NewLossRunner(world, cfg.Rates.Loss, cfg.Seed),
		producers.NewDelayRunner(world, cfg.Rates.Delay, cfg.Seed),
		producers.NewChaosRunner(world, cfg.Seed),
	}
	for _, runner := range runners {
		runner := runner
		group.Go(func() error {
			runner.Loop(groupCtx, shutdown)
			return nil
		})
	}
	group.Go(func() error {
		scheduler.Run(shutdown)
		return nil
	})

	totalPorts := cfg.PortRangeHi - cfg.PortRangeLo + 1
	state := &State{
		Reg:        reg,
		Server:     server,
		World:      world,
		baselineID: baseline.ID,
		log:        log,
		totalPorts: totalPorts,
		shutdown:   shutdown,
		group:      group,
		groupCtx:   groupCtx,
	}
	group.Go(func() error {
		state.runGauges(shutdown)
		return nil
	})
	return state, nil
}

// runGauges keeps the server's Prometheus gauges current until shutdown
// closes, per the metrics section of the DOMAIN STACK.
func (s *State) runGauges(shutdown <-chan struct{}) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			leased := s.totalPorts - s.Reg.Ports.Available()
			s.Server.SetGauges(s.World.Undo.Depth(), leased)
		}
	}
}

// Shutdown performs §4.7's six shutdown steps: raise the flag, bound-
// join every task, drain is implicit in the Undo Scheduler's own
// shutdown handling (already joined above), apply the baseline, reset
// every link, return.
func (s *State) Shutdown(ctx context.Context) error {
	close(s.shutdown)

	joined := make(chan error, 1)
	go func() { joined <- s.group.Wait() }()
	select {
	case err := <-joined:
		if err != nil {
			s.log.Warn("orchestrator: task group returned error", "error", err.Error())
		}
	case <-time.After(joinTimeout):
		s.log.Warn("orchestrator: task group join timed out, proceeding with shutdown")
	}

	if err := s.Reg.Snapshot.Apply(ctx, s.baselineID); err != nil {
		s.log.Error("orchestrator: applying baseline snapshot failed", "error", err.Error())
	}

	var resetErr error
	for _, link := range s.Reg.Model.AllLinks() {
		if _, err := s.Reg.ResetLink(ctx, link.Src, link.Dst); err != nil {
			s.log.Error("orchestrator: resetting link failed", "link", link.Src+"->"+link.Dst, "error", err.Error())
			resetErr = err
		}
	}
	return resetErr
}
