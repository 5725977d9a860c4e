// Package main is the control-plane API server entrypoint: it exposes
// the Event Registry & API (C7) over HTTP without running any event
// producers, for manual chaos scripting or for driving the control
// plane from tooling other than chaosd.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ais-netlab/chaos/cgw"
	"github.com/ais-netlab/chaos/cmn/nlog"
	"github.com/ais-netlab/chaos/controlplane"
	"github.com/ais-netlab/chaos/env"
	"github.com/ais-netlab/chaos/linklock"
	"github.com/ais-netlab/chaos/portpool"
	"github.com/ais-netlab/chaos/rlog"
	"github.com/ais-netlab/chaos/routing"
	"github.com/ais-netlab/chaos/shaping"
	"github.com/ais-netlab/chaos/snapshot"
	"github.com/ais-netlab/chaos/topo"
)

// defaultPortRangeLo/Hi bound this binary's Port Pool (C8); chaosapi
// takes no override for them. In the orchestrator binary, chaosd's
// --port_pool_lo/--port_pool_hi or a chaos.yaml overlay set the range.
const (
	defaultPortRangeLo = 20000
	defaultPortRangeHi = 21000
)

func main() {
	cfg := env.Load(env.Config{
		Port:      "8080",
		LabsDir:   "/labs",
		LogsDir:   "/var/log/chaos",
		LabPrefix: "lab",
	})

	labDir, err := topo.FindLabDir(cfg.LabsDir, cfg.LabPrefix, cfg.CurrLab)
	if err != nil {
		nlog.Errorf("chaosapi: %v", err)
		os.Exit(1)
	}
	model, err := topo.LoadLab(labDir)
	if err != nil {
		nlog.Errorf("chaosapi: %v", err)
		os.Exit(1)
	}

	gw := cgw.New("")
	routingDriver := routing.New(gw)
	snapStore, err := snapshot.New(routingDriver, model)
	if err != nil {
		nlog.Errorf("chaosapi: opening snapshot store: %v", err)
		os.Exit(1)
	}
	defer snapStore.Close()

	reg := &controlplane.Registry{
		Model:    model,
		Shaping:  shaping.New(gw, model),
		Routing:  routingDriver,
		Snapshot: snapStore,
		Locks:    linklock.NewTable(),
		Ports:    portpool.New(defaultPortRangeLo, defaultPortRangeHi),
		Gateway:  gw,
	}

	log, logFile, err := rlog.NewFile(cfg.LogsDir + "/mutations.log")
	if err != nil {
		nlog.Warningf("chaosapi: could not open mutation log, discarding: %v", err)
		log = rlog.Discard()
	} else {
		defer logFile.Close()
	}

	server := controlplane.NewServer(reg)
	server.SetLogger(log)

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: server.Mux()}

	idleClosed := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		nlog.Infof("chaosapi: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			nlog.Errorf("chaosapi: shutdown: %v", err)
		}
		close(idleClosed)
	}()

	nlog.Infof("chaosapi: listening on %s (lab %s)", httpSrv.Addr, labDir)
	if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		nlog.Errorf("chaosapi: %v", err)
		os.Exit(1)
	}
	<-idleClosed
}
