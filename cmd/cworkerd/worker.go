package main

import (
	"context"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/orchestrator"
	"github.com/armon/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidAction is recorded on jobs whose action the worker does not run
var ErrInvalidAction = errors.New("invalid action")

type worker struct {
	ctx     *aurora.Context
	o       *orchestrator.Orchestrator
	m       *metrics.Metrics
	timeout time.Duration
}

// handle runs a job and records its outcome. Jobs that already finished,
// such as a task delivered twice, are left alone.
func (w *worker) handle(ctx context.Context, job *jobqueue.Job) {
	logFields := log.Fields{
		"job":    job.ID,
		"action": job.Action,
	}
	if job.Status == jobqueue.JobStatusDone || job.Status == jobqueue.JobStatusError {
		log.WithFields(logFields).Info("job already finished")
		return
	}

	if err := job.Start(); err != nil {
		log.WithFields(logFields).WithField("error", err).Error("unable to start job")
		return
	}
	log.WithFields(logFields).Info("job started")

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	err := w.run(ctx, job)
	if err != nil {
		log.WithFields(logFields).WithField("error", err).Error("job failed")
	}
	if ferr := job.Finish(err); ferr != nil {
		log.WithFields(logFields).WithField("error", ferr).Error("unable to save job")
	}
	log.WithFields(logFields).WithField("status", job.Status).Info("job status info")

	w.updateMetrics(job)
}

func (w *worker) run(ctx context.Context, job *jobqueue.Job) error {
	switch job.Action {
	case jobqueue.ActionDeploy:
		s, err := w.ctx.Slice(job.Slice)
		if err != nil {
			return errors.Wrap(err, "slice")
		}
		report, err := w.o.Deploy(ctx, s)
		if report != nil {
			fields := log.Fields{
				"job":     job.ID,
				"slice":   s.ID,
				"program": report.Program,
				"total":   report.Total,
			}
			if report.LinkErrors != nil {
				log.WithFields(fields).WithField("error", report.LinkErrors).Warn("links not established")
			}
			log.WithFields(fields).Info("slice deployed")
		}
		return err
	case jobqueue.ActionDelete:
		s, err := w.ctx.Slice(job.Slice)
		if err != nil {
			return errors.Wrap(err, "slice")
		}
		return w.o.Delete(ctx, s)
	case jobqueue.ActionResync:
		return w.o.Provisioner().Resync(ctx)
	case jobqueue.ActionOptimize:
		_, err := w.o.Optimize(ctx)
		return err
	}

	if !jobqueue.VMActions[job.Action] {
		return ErrInvalidAction
	}
	vm, err := w.ctx.VirtualMachine(job.VM)
	if err != nil {
		return errors.Wrap(err, "virtual machine")
	}
	return w.o.Action(ctx, vm, job.Action)
}

func (w *worker) updateMetrics(job *jobqueue.Job) {
	if w.m == nil {
		return
	}
	w.m.MeasureSince([]string{"action", job.Action, "time"}, job.StartedAt)
	w.m.MeasureSince([]string{"action", "time"}, job.StartedAt)
	w.m.IncrCounter([]string{"action", job.Action, "count"}, 1)
	w.m.IncrCounter([]string{"action", "count"}, 1)
	if job.Error != "" {
		w.m.IncrCounter([]string{"action", job.Action, "error"}, 1)
		w.m.IncrCounter([]string{"action", "error"}, 1)
	}
}
