// cprobed keeps the host heartbeats that placement and optimization rely on.
// It pings the hypervisor agent of every registered host and renews the
// heartbeat of each host that answers.
package main

import (
	"os"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/daemon"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/deferer"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

func main() {
	d := deferer.NewDeferer(nil)
	defer d.Run()

	cfg, err := daemon.Setup("cprobed", os.Args[1:])
	if err != nil {
		log.WithField("error", err).Fatal("invalid configuration")
	}
	if cfg.HeartbeatTTL < cfg.ProbeEvery {
		log.WithFields(log.Fields{
			"ttl":   cfg.HeartbeatTTL,
			"every": cfg.ProbeEvery,
		}).Fatal("heartbeat ttl must be greater than the probe period")
	}

	ctx, err := daemon.Connect(cfg)
	if err != nil {
		d.FatalWithFields(log.Fields{"addr": cfg.KV}, err, "unable to connect to kv")
	}

	m, err := metrics.New("cprobed")
	if err != nil {
		d.Fatal(err, "unable to set up metrics")
	}

	agents := daemon.Agents(cfg)
	d.Defer(func() { _ = agents.Close() })

	sigctx, cancel := daemon.SignalContext()
	d.Defer(cancel)

	p := &prober{
		ctx:    ctx,
		agents: agents,
		every:  cfg.ProbeEvery,
		ttl:    cfg.HeartbeatTTL,
		m:      m.Metrics,
	}

	t, tctx := tomb.WithContext(sigctx)
	t.Go(func() error { return p.Run(t) })
	t.Go(func() error { return daemon.Serve(tctx, daemon.MetricsServer(cfg.HTTP, m)) })
	t.Go(func() error { return daemon.Watchdog(t.Dying()) })

	daemon.Ready()
	log.WithField("every", cfg.ProbeEvery).Info("prober started")

	if err := t.Wait(); err != nil && err != sigctx.Err() {
		d.Fatal(err, "prober stopped")
	}
}
