package jobqueue

import (
	"context"
	"time"

	"github.com/beanstalkd/go-beanstalk"
	log "github.com/sirupsen/logrus"
)

// Beanstalk tube names
const (
	// workTube carries deploy, delete, resync and machine action jobs
	workTube = "work"
	// optimizeTube carries on-demand optimization jobs
	optimizeTube = "optimize"
)

type (
	// tubeSet holds a tube for publishing and tubeset for consuming a queue
	tubeSet struct {
		publish *beanstalk.Tube
		consume *beanstalk.TubeSet
	}

	// tubes holds the work and optimize tubeSets
	tubes struct {
		work     *tubeSet
		optimize *tubeSet
	}
)

// newTubeSet creates a new tubeSet for a tube name
func newTubeSet(conn *beanstalk.Conn, name string) *tubeSet {
	return &tubeSet{
		consume: beanstalk.NewTubeSet(conn, name),
		publish: beanstalk.NewTube(conn, name),
	}
}

// Put puts a job into the publish tube.
func (ts *tubeSet) Put(jobID string) (uint64, error) {
	return ts.publish.Put([]byte(jobID), priority, delay, ttr)
}

// Reserve reserves and returns an item from the consume tubeset. It waits
// until an item is available or ctx is done.
func (ts *tubeSet) Reserve(ctx context.Context) (uint64, string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
		id, body, err := ts.consume.Reserve(reserveTimeout)
		if cerr, ok := err.(beanstalk.ConnError); ok {
			switch cerr.Err {
			case beanstalk.ErrTimeout:
				// Empty queue, continue waiting
				continue
			case beanstalk.ErrDeadline:
				log.Debug("beanstalk.ErrDeadline")
				time.Sleep(reserveDelay)
				continue
			}
		}
		return id, string(body), err
	}
}

// newTubes creates a new tubes
func newTubes(conn *beanstalk.Conn) *tubes {
	return &tubes{
		work:     newTubeSet(conn, workTube),
		optimize: newTubeSet(conn, optimizeTube),
	}
}
