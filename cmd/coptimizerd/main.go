// coptimizerd runs the optimization programs of the deployed slices. Passes
// run on a period, when hosts join or leave, when a slice finishes deploying
// and when an optimize job is queued.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/daemon"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/deferer"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/watcher"
	log "github.com/sirupsen/logrus"
)

func main() {
	d := deferer.NewDeferer(nil)
	defer d.Run()

	cfg, err := daemon.Setup("coptimizerd", os.Args[1:])
	if err != nil {
		log.WithField("error", err).Fatal("invalid configuration")
	}

	ctx, err := daemon.Connect(cfg)
	if err != nil {
		d.FatalWithFields(log.Fields{"addr": cfg.KV}, err, "unable to connect to kv")
	}

	log.WithField("address", cfg.Beanstalk).Info("connection to beanstalk")
	jobQueue, err := jobqueue.NewClient(cfg.Beanstalk, ctx.KV())
	if err != nil {
		d.FatalWithFields(log.Fields{"address": cfg.Beanstalk}, err, "failed to create jobQueue client")
	}
	d.Defer(func() { _ = jobQueue.Close() })

	m, err := metrics.New("coptimizerd")
	if err != nil {
		d.Fatal(err, "unable to set up metrics")
	}

	o, err := daemon.Orchestrator(cfg, ctx, m)
	if err != nil {
		d.Fatal(err, "unable to create orchestrator")
	}
	d.Defer(func() { _ = o.Close() })

	w, err := watcher.New(ctx.KV())
	if err != nil {
		d.Fatal(err, "unable to create watcher")
	}

	sigctx, cancel := daemon.SignalContext()
	d.Defer(cancel)

	s := newScheduler(sigctx, o, cfg.OptimizeEvery, m.Metrics)
	s.Start()
	s.Go(func() error { return watch(s, w) })
	s.Go(func() error { return consume(s, jobQueue) })
	s.Go(func() error { return daemon.Serve(s.ctx, daemon.MetricsServer(cfg.HTTP, m)) })
	s.Go(func() error { return daemon.Watchdog(s.Dying()) })

	daemon.Ready()
	log.WithField("every", cfg.OptimizeEvery).Info("optimizer started")

	if err := s.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		d.Fatal(err, "optimizer stopped")
	}
}
