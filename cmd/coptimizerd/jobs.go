package main

import (
	"context"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// taskQueue is the part of the job queue the optimizer consumes
type taskQueue interface {
	NextOptimizeTask(ctx context.Context) (*jobqueue.Task, error)
}

// consume runs a pass for every queued optimize job until the scheduler
// dies
func consume(s *scheduler, q taskQueue) error {
	for {
		task, err := q.NextOptimizeTask(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if task == nil {
				return errors.Wrap(err, "reserve optimize task")
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

		handleJob(s, task.Job)

		log.WithField("task", task.ID).Info("removing task")
		if err := task.Delete(); err != nil {
			log.WithFields(log.Fields{
				"task":  task.ID,
				"error": err,
			}).Error("unable to delete")
		}
	}
}

// handleJob runs the pass an optimize job asks for and records the outcome
func handleJob(s *scheduler, job *jobqueue.Job) {
	logFields := log.Fields{"job": job.ID}
	if job.Status == jobqueue.JobStatusDone || job.Status == jobqueue.JobStatusError {
		log.WithFields(logFields).Info("job already finished")
		return
	}
	if job.Action != jobqueue.ActionOptimize {
		_ = job.Finish(errors.Errorf("unexpected action %q", job.Action))
		return
	}
	if err := job.Start(); err != nil {
		log.WithFields(logFields).WithField("error", err).Error("unable to start job")
		return
	}

	_, err := s.Run("job")
	if ferr := job.Finish(err); ferr != nil {
		log.WithFields(logFields).WithField("error", ferr).Error("unable to save job")
	}
	log.WithFields(logFields).WithField("status", job.Status).Info("job status info")
}
