// cslicerd serves the slice API. Requests that act on hypervisors or the
// network are queued as jobs for cworkerd and coptimizerd.
package main

import (
	"os"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/daemon"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/deferer"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	log "github.com/sirupsen/logrus"
)

func main() {
	d := deferer.NewDeferer(nil)
	defer d.Run()

	cfg, err := daemon.Setup("cslicerd", os.Args[1:])
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

	m, err := metrics.New("cslicerd")
	if err != nil {
		d.Fatal(err, "unable to set up metrics")
	}

	sigctx, cancel := daemon.SignalContext()
	d.Defer(cancel)

	if err := daemon.Serve(sigctx, NewServer(cfg.HTTP, ctx, jobQueue, m)); err != nil {
		d.Fatal(err, "server error")
	}
}
