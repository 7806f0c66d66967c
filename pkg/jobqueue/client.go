// Package jobqueue queues slice jobs in beanstalkd. The job records live in
// the kv and the queue only carries their IDs.
package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	"github.com/beanstalkd/go-beanstalk"
)

// Beanstalk parameters
const (
	priority       = uint32(0)
	delay          = 0
	releaseDelay   = 5 * time.Second
	ttr            = 10 * time.Minute
	reserveTimeout = 5 * time.Second
	reserveDelay   = 5 * time.Second
)

// TouchInterval is how often a worker should touch a task it is still
// working on so beanstalkd does not hand it to another worker
const TouchInterval = ttr / 2

// Client is for interacting with the job queue
type Client struct {
	*Jobs
	conn  *beanstalk.Conn
	tubes *tubes

	mu sync.Mutex // serializes puts from concurrent handlers
}

// NewClient creates a new Client and initializes the beanstalk connection + tubes
func NewClient(bstalk string, store kv.KV) (*Client, error) {
	if bstalk == "" {
		return nil, errors.New("missing beanstalk address")
	}
	if store == nil {
		return nil, errors.New("missing kv")
	}

	conn, err := beanstalk.Dial("tcp", bstalk)
	if err != nil {
		return nil, err
	}

	client := &Client{
		Jobs:  NewJobs(store),
		conn:  conn,
		tubes: newTubes(conn),
	}
	return client, nil
}

// Close closes the beanstalk connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// AddTask creates a new task in the appropriate beanstalk queue
func (c *Client) AddTask(j *Job) (uint64, error) {
	if j == nil {
		return 0, errors.New("missing job")
	}
	ts := c.tubes.work
	if j.Action == ActionOptimize {
		ts = c.tubes.optimize
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return ts.Put(j.ID)
}

// DeleteTask removes a task from beanstalk by id
func (c *Client) DeleteTask(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Delete(id)
}

// NextWorkTask returns the next task from the work tube
func (c *Client) NextWorkTask(ctx context.Context) (*Task, error) {
	return c.nextTask(ctx, c.tubes.work)
}

// NextOptimizeTask returns the next task from the optimize tube
func (c *Client) NextOptimizeTask(ctx context.Context) (*Task, error) {
	return c.nextTask(ctx, c.tubes.optimize)
}

// nextTask returns the next task from a tubeSet and loads the Job
func (c *Client) nextTask(ctx context.Context, ts *tubeSet) (*Task, error) {
	id, body, err := ts.Reserve(ctx)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:     id,
		JobID:  body,
		client: c,
	}

	if err := task.RefreshJob(); err != nil {
		return task, err
	}
	return task, nil
}
