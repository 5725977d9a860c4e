// Package main is the chaos orchestrator CLI entrypoint: it loads the
// topology, spawns the four named event producers plus the Undo
// Scheduler (C9-C11), and exposes the same Event Registry & API (C7)
// its own producers call, so the running system stays introspectable
// over HTTP (/metrics, /link_state, ...) while chaos runs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"github.com/ais-netlab/chaos/cmn/nlog"
	"github.com/ais-netlab/chaos/env"
	"github.com/ais-netlab/chaos/orchestrator"
	"github.com/ais-netlab/chaos/rlog"
	"github.com/ais-netlab/chaos/topo"
)

// overlay is the optional chaos.yaml shape: rate overrides and
// port-pool bounds, per the AMBIENT STACK configuration section.
type overlay struct {
	LossRate    *float64 `yaml:"loss_rate"`
	DelayRate   *float64 `yaml:"delay_rate"`
	TrafficRate *float64 `yaml:"traffic_rate"`
	PortPoolLo  *int     `yaml:"port_pool_lo"`
	PortPoolHi  *int     `yaml:"port_pool_hi"`
}

func loadOverlay(path string) (overlay, error) {
	var ov overlay
	if path == "" {
		return ov, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ov, err
	}
	err = yaml.Unmarshal(data, &ov)
	return ov, err
}

func main() {
	app := cli.NewApp()
	app.Name = "chaosd"
	app.Usage = "drive a mini-internet lab with stochastic link and router chaos"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen", Value: ":8090", Usage: "address chaosd's own control-plane API listens on"},
		cli.StringFlag{Name: "config", Usage: "optional chaos.yaml overlay (rate/port-pool overrides)"},
		cli.Uint64Flag{Name: "seed", Value: 1, Usage: "shared RNG seed for every producer"},
		cli.Float64Flag{Name: "loss_rate", Value: 0.05, Usage: "loss producer arrival rate (events/sec)"},
		cli.Float64Flag{Name: "delay_rate", Value: 0.02, Usage: "delay-spike producer arrival rate (events/sec)"},
		cli.Float64Flag{Name: "traffic_rate", Value: 0.2, Usage: "background traffic producer arrival rate (events/sec)"},
		cli.IntFlag{Name: "port_pool_lo", Value: 20000, Usage: "first port in the leasable range"},
		cli.IntFlag{Name: "port_pool_hi", Value: 21000, Usage: "last port in the leasable range"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("chaosd: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := env.Load(env.Config{
		LabsDir:   "/labs",
		LogsDir:   "/var/log/chaos",
		LabPrefix: "lab",
	})

	labDir, err := topo.FindLabDir(cfg.LabsDir, cfg.LabPrefix, cfg.CurrLab)
	if err != nil {
		return err
	}

	ov, err := loadOverlay(c.String("config"))
	if err != nil {
		return err
	}

	lossRate := c.Float64("loss_rate")
	if ov.LossRate != nil {
		lossRate = *ov.LossRate
	}
	delayRate := c.Float64("delay_rate")
	if ov.DelayRate != nil {
		delayRate = *ov.DelayRate
	}
	trafficRate := c.Float64("traffic_rate")
	if ov.TrafficRate != nil {
		trafficRate = *ov.TrafficRate
	}
	portLo := c.Int("port_pool_lo")
	if ov.PortPoolLo != nil {
		portLo = *ov.PortPoolLo
	}
	portHi := c.Int("port_pool_hi")
	if ov.PortPoolHi != nil {
		portHi = *ov.PortPoolHi
	}

	log, logFile, err := rlog.NewFile(cfg.LogsDir + "/mutations.log")
	if err != nil {
		nlog.Warningf("chaosd: could not open mutation log, discarding: %v", err)
		log = rlog.Discard()
	} else {
		defer logFile.Close()
	}

	state, err := orchestrator.Startup(context.Background(), orchestrator.Config{
		LabDir:      labDir,
		Seed:        c.Uint64("seed"),
		Rates:       orchestrator.Rates{Traffic: trafficRate, Loss: lossRate, Delay: delayRate},
		Log:         log,
		PortRangeLo: portLo,
		PortRangeHi: portHi,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{Addr: c.String("listen"), Handler: state.Server.Mux()}
	serveErr := make(chan error, 1)
	go func() {
		nlog.Infof("chaosd: listening on %s (lab %s)", httpSrv.Addr, labDir)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		nlog.Infof("chaosd: signal received, shutting down")
	case err := <-serveErr:
		if err != nil {
			nlog.Errorf("chaosd: http server: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	_ = httpSrv.Shutdown(httpCtx)

	return state.Shutdown(ctx)
}
