package main

import (
	"context"
	"sync"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/armon/go-metrics"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// prober pings the agent of every host and keeps the heartbeat of those
// that answer. A host that misses probes for longer than ttl goes offline.
type prober struct {
	ctx    *aurora.Context
	agents *aurora.AgentPool
	every  time.Duration
	ttl    time.Duration
	m      *metrics.Metrics
}

// Run probes every period until t starts dying
func (p *prober) Run(t *tomb.Tomb) error {
	ctx := t.Context(nil)
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()
	for {
		if _, err := p.ProbeAll(ctx); err != nil {
			log.WithField("error", err).Error("probe failed")
		}
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
		}
	}
}

// ProbeAll probes the hosts concurrently and returns how many answered
func (p *prober) ProbeAll(ctx context.Context) (int, error) {
	start := time.Now()
	hosts, err := p.ctx.Hosts()
	if err != nil && !p.ctx.IsKeyNotFound(err) {
		return 0, err
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		alive int
	)
	for _, h := range hosts {
		wg.Add(1)
		go func(h *aurora.Host) {
			defer wg.Done()
			if p.probe(ctx, h) {
				mu.Lock()
				alive++
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()

	if p.m != nil {
		p.m.SetGauge([]string{"hosts", "alive"}, float32(alive))
		p.m.SetGauge([]string{"hosts", "total"}, float32(len(hosts)))
		p.m.MeasureSince([]string{"probe", "time"}, start)
	}
	log.WithFields(log.Fields{
		"hosts": len(hosts),
		"alive": alive,
	}).Debug("hosts probed")
	return alive, nil
}

// probe pings one host's agent and renews its heartbeat on success. The
// agent of a failed host is dropped so the next probe reconnects.
func (p *prober) probe(ctx context.Context, h *aurora.Host) bool {
	logFields := log.Fields{
		"host": h.ID,
		"name": h.Name,
	}

	timeout := p.every / 2
	if timeout <= 0 {
		timeout = p.every
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	agent, err := p.agents.Get(h)
	if err == nil {
		err = agent.Ping(ctx)
	}
	if err != nil {
		if ferr := p.agents.Forget(h); ferr != nil {
			log.WithFields(logFields).WithField("error", ferr).Debug("unable to close agent")
		}
		if p.m != nil {
			p.m.IncrCounter([]string{"probe", "error"}, 1)
		}
		log.WithFields(logFields).WithField("error", err).Warn("host did not answer")
		return false
	}

	if err := h.Heartbeat(p.ttl); err != nil {
		log.WithFields(logFields).WithField("error", err).Error("failed to beat heart")
		return false
	}
	return true
}
