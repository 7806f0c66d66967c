package main

import (
	"net/http"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/cli"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// RegisterJobRoutes registers the job routes and handlers
func RegisterJobRoutes(prefix string, router *mux.Router, m *metrics.Metrics) {
	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{jobID}", instrument(m, "job", GetJob)).Methods("GET")

	router.Handle("/optimize", instrument(m, "optimize", Optimize)).Methods("POST")
	router.Handle("/resync", instrument(m, "resync", Resync)).Methods("POST")
}

// GetJob gets a job status
func GetJob(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	id := mux.Vars(r)["jobID"]
	if !validID(hr, id) {
		return
	}
	job, err := GetJobQueue(r).Job(id)
	if err != nil {
		notFound(hr, GetContext(r), "job", err)
		return
	}
	hr.JSON(http.StatusOK, job)
}

// Optimize queues an optimization pass over every deployed slice
func Optimize(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	job, ok := queueJob(hr, r, jobqueue.ActionOptimize, "", "")
	if !ok {
		return
	}
	hr.JSON(http.StatusAccepted, job)
}

// Resync queues a rebuild of every established link's flows
func Resync(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	job, ok := queueJob(hr, r, jobqueue.ActionResync, "", "")
	if !ok {
		return
	}
	hr.JSON(http.StatusAccepted, job)
}

// queueJob saves a new job and puts it on the queue. The job id is set in
// the response headers.
func queueJob(hr HTTPResponse, r *http.Request, action, sliceID, vmID string) (*jobqueue.Job, bool) {
	jobQueue := GetJobQueue(r)

	job := jobQueue.NewJob()
	job.Action = action
	job.Slice = sliceID
	job.VM = vmID

	if err := job.Validate(); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return nil, false
	}
	if err := job.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return nil, false
	}
	if _, err := jobQueue.AddTask(job); err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"job":   job.ID,
		}).Error("failed to queue job")
		_ = job.Finish(err)
		hr.JSONError(http.StatusInternalServerError, err)
		return nil, false
	}

	hr.Header().Set(cli.JobHeader, job.ID)
	return job, true
}
