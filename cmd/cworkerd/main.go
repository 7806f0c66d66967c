// cworkerd consumes the work queue: slice deployments and deletions, link
// resyncs and virtual machine lifecycle actions.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/daemon"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/deferer"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	log "github.com/sirupsen/logrus"
)

func main() {
	d := deferer.NewDeferer(nil)
	defer d.Run()

	cfg, err := daemon.Setup("cworkerd", os.Args[1:])
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

	m, err := metrics.New("cworkerd")
	if err != nil {
		d.Fatal(err, "unable to set up metrics")
	}

	o, err := daemon.Orchestrator(cfg, ctx, m)
	if err != nil {
		d.Fatal(err, "unable to create orchestrator")
	}
	d.Defer(func() { _ = o.Close() })

	sigctx, cancel := daemon.SignalContext()
	d.Defer(cancel)

	go func() {
		if err := daemon.Serve(sigctx, daemon.MetricsServer(cfg.HTTP, m)); err != nil {
			log.WithField("error", err).Error("metrics server")
		}
	}()

	w := &worker{ctx: ctx, o: o, m: m.Metrics, timeout: cfg.Timeouts.Job}
	consume(sigctx, jobQueue, w)
}

// consume reserves and handles work tasks one at a time until ctx is done
func consume(ctx context.Context, jobQueue *jobqueue.Client, w *worker) {
	for {
		task, err := jobQueue.NextWorkTask(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if task == nil {
				// You have failed me for the last time
				log.WithField("error", err).Fatal("unable to reserve task")
			}

			log.WithFields(log.Fields{
				"task":  task.ID,
				"job":   task.JobID,
				"error": err,
			}).Error("invalid task")
			if err := task.Delete(); err != nil {
				log.WithFields(log.Fields{
					"task":  task.ID,
					"error": err,
				}).Error("unable to delete")
			}
			continue
		}

		stop := keepAlive(task)
		w.handle(ctx, task.Job)
		close(stop)

		log.WithField("task", task.ID).Info("removing task")
		if err := task.Delete(); err != nil {
			log.WithFields(log.Fields{
				"task":  task.ID,
				"error": err,
			}).Error("unable to delete")
		}
	}
}

// keepAlive touches task until the returned channel is closed
func keepAlive(task *jobqueue.Task) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(jobqueue.TouchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := task.Touch(); err != nil {
					log.WithFields(log.Fields{
						"task":  task.ID,
						"error": err,
					}).Warn("unable to touch task")
				}
			}
		}
	}()
	return stop
}
