package main

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/lock"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/optimizer"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/watcher"
	"github.com/armon/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// Optimizer runs one optimization pass over every deployed slice
type Optimizer interface {
	Optimize(ctx context.Context) ([]*optimizer.Report, error)
}

// scheduler runs optimization passes on a timer and on demand, one at a
// time. Every goroutine of the daemon is tracked by its tomb.
type scheduler struct {
	o       Optimizer
	every   time.Duration
	m       *metrics.Metrics
	trigger chan struct{}
	mu      sync.Mutex // serializes passes

	t   *tomb.Tomb
	ctx context.Context
}

func newScheduler(ctx context.Context, o Optimizer, every time.Duration, m *metrics.Metrics) *scheduler {
	t, tctx := tomb.WithContext(ctx)
	return &scheduler{
		o:       o,
		every:   every,
		m:       m,
		trigger: make(chan struct{}, 1),
		t:       t,
		ctx:     tctx,
	}
}

// Start begins the timed passes
func (s *scheduler) Start() {
	s.t.Go(s.loop)
}

// Go runs f alongside the scheduler. An error from f stops everything.
func (s *scheduler) Go(f func() error) {
	s.t.Go(f)
}

// Dying is closed once the scheduler is stopping
func (s *scheduler) Dying() <-chan struct{} {
	return s.t.Dying()
}

// Stop ends the scheduler and waits for its goroutines
func (s *scheduler) Stop() error {
	s.t.Kill(nil)
	return s.t.Wait()
}

// Wait blocks until the scheduler dies and returns the reason
func (s *scheduler) Wait() error {
	return s.t.Wait()
}

// Trigger asks for a pass as soon as possible. Requests made while one is
// pending are merged.
func (s *scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *scheduler) loop() error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-s.t.Dying():
			return nil
		case <-ticker.C:
			_, _ = s.Run("schedule")
		case <-s.trigger:
			_, _ = s.Run("trigger")
		}
	}
}

// Run does a pass now. reason labels the logs and metrics.
func (s *scheduler) Run(reason string) ([]*optimizer.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	reports, err := s.o.Optimize(s.ctx)

	moves := 0
	for _, r := range reports {
		moves += len(r.Moves)
	}
	fields := log.Fields{
		"reason":     reason,
		"slices":     len(reports),
		"migrations": moves,
		"elapsed":    time.Since(start),
	}

	if s.m != nil {
		s.m.IncrCounter([]string{"pass", reason, "count"}, 1)
		s.m.IncrCounter([]string{"pass", "migrations"}, float32(moves))
		s.m.MeasureSince([]string{"pass", "time"}, start)
	}

	switch {
	case err == nil:
		log.WithFields(fields).Info("optimization pass done")
	case errors.Cause(err) == lock.ErrLockHeld:
		log.WithFields(fields).Info("optimizer busy elsewhere")
	default:
		if s.m != nil {
			s.m.IncrCounter([]string{"pass", "error"}, 1)
		}
		log.WithFields(fields).WithField("error", err).Error("optimization pass failed")
	}

	// changes made by this pass must not schedule another one
	select {
	case <-s.trigger:
	default:
	}
	return reports, err
}

// triggerFilter picks the kv changes that call for a pass: a host coming
// up or going away, and a slice reaching the deployed state other than by
// finishing an optimization.
type triggerFilter struct {
	states map[string]string
}

func newTriggerFilter() *triggerFilter {
	return &triggerFilter{states: map[string]string{}}
}

func (f *triggerFilter) wants(event kv.Event) bool {
	key := kv.Clean(event.Key)
	switch {
	case strings.HasPrefix(key, kv.Clean(aurora.HostPath)+"/") && path.Base(key) == "heartbeat":
		return event.Type == kv.Create || event.Type == kv.Delete
	case strings.HasPrefix(key, kv.Clean(aurora.SlicePath)+"/") && path.Base(key) == "metadata":
		id := path.Base(path.Dir(key))
		if event.Type == kv.Delete {
			delete(f.states, id)
			return false
		}
		var s struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(event.Data, &s); err != nil {
			return false
		}
		prev := f.states[id]
		f.states[id] = s.State
		return s.State == aurora.SliceDeployed && prev != aurora.SliceDeployed && prev != aurora.SliceOptimizing
	}
	return false
}

// watch triggers passes from host and slice changes until the scheduler
// dies
func watch(s *scheduler, w *watcher.Watcher) error {
	for _, prefix := range []string{aurora.HostPath, aurora.SlicePath} {
		if err := w.Add(prefix); err != nil {
			return errors.Wrap(err, "watch "+prefix)
		}
	}
	s.Go(func() error {
		<-s.Dying()
		return w.Close()
	})

	f := newTriggerFilter()
	for w.Next() {
		event := w.Event()
		if f.wants(event) {
			log.WithFields(log.Fields{
				"key":  event.Key,
				"type": event.Type.String(),
			}).Debug("change triggers optimization")
			s.Trigger()
		}
	}
	return w.Err()
}
