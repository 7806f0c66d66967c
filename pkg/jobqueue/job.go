package jobqueue

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	"github.com/pborman/uuid"
)

var (
	// JobPath is the path in the config store
	JobPath = "aurora/jobs/"
)

// Job Status
const (
	JobStatusNew     = "new"
	JobStatusWorking = "working"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

// Job actions
const (
	ActionDeploy   = "deploy"
	ActionDelete   = "delete"
	ActionOptimize = "optimize"
	ActionResync   = "resync"
)

// VMActions are the machine lifecycle actions a job may carry
var VMActions = map[string]bool{
	"start":    true,
	"stop":     true,
	"shutdown": true,
	"resume":   true,
	"suspend":  true,
}

type (
	// Jobs persists job records in the kv
	Jobs struct {
		kv kv.KV
	}

	// Job is a single request against a slice or one of its machines, such
	// as deploy, delete or start
	Job struct {
		ID            string    `json:"id"`
		Action        string    `json:"action"`
		Slice         string    `json:"slice,omitempty"`
		VM            string    `json:"vm,omitempty"`
		Error         string    `json:"error,omitempty"`
		Status        string    `json:"status,omitempty"`
		StartedAt     time.Time `json:"started_at,omitempty"`
		FinishedAt    time.Time `json:"finished_at,omitempty"`
		modifiedIndex uint64
		jobs          *Jobs
	}
)

// NewJobs creates a job store over store
func NewJobs(store kv.KV) *Jobs {
	return &Jobs{kv: store}
}

// NewJob creates a new job.
func (js *Jobs) NewJob() *Job {
	return &Job{
		ID:     uuid.New(),
		jobs:   js,
		Status: JobStatusNew,
	}
}

// Job retrieves a single job from the data store.
func (js *Jobs) Job(id string) (*Job, error) {
	j := &Job{
		ID:   id,
		jobs: js,
	}

	if err := j.Refresh(); err != nil {
		return nil, err
	}

	return j, nil
}

// Validate ensures required fields are populated.
func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.New("ID is required")
	}

	switch {
	case j.Action == "":
		return errors.New("Action is required")
	case VMActions[j.Action]:
		if j.VM == "" {
			return errors.New("VM is required")
		}
	case j.Action == ActionDeploy, j.Action == ActionDelete:
		if j.Slice == "" {
			return errors.New("Slice is required")
		}
	case j.Action == ActionOptimize, j.Action == ActionResync:
	default:
		return errors.New("invalid action")
	}

	if j.Status == "" {
		return errors.New("Status is required")
	}

	return nil
}

// key is a helper to generate the config store key.
func (j *Job) key() string {
	return filepath.Join(JobPath, j.ID)
}

// Save persists a job.
func (j *Job) Save() error {
	if err := j.Validate(); err != nil {
		return err
	}

	v, err := json.Marshal(j)
	if err != nil {
		return err
	}

	index, err := j.jobs.kv.Update(j.key(), kv.Value{Data: v, Index: j.modifiedIndex})
	if err != nil {
		return err
	}

	j.modifiedIndex = index
	return nil
}

// Refresh reloads a Job from the data store.
func (j *Job) Refresh() error {
	value, err := j.jobs.kv.Get(j.key())
	if err != nil {
		return err
	}

	if err := json.Unmarshal(value.Data, &j); err != nil {
		return err
	}
	j.modifiedIndex = value.Index

	return nil
}

// Finish records the outcome of the job and saves it
func (j *Job) Finish(e error) error {
	j.Status = JobStatusDone
	if e != nil {
		j.Status = JobStatusError
		j.Error = e.Error()
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now()
	}
	j.FinishedAt = time.Now()
	return j.Save()
}

// Start marks the job as being worked on and saves it
func (j *Job) Start() error {
	j.Status = JobStatusWorking
	j.StartedAt = time.Now()
	return j.Save()
}
