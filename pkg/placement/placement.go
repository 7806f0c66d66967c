// Package placement decides which host runs each device of a slice. Hosts
// are filtered by a chain of candidate functions, scored on their free
// capacity, and penalized by their hop distance to an already placed peer.
package placement

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
	log "github.com/sirupsen/logrus"
)

type (
	// CandidateFunction is used to select hosts that can run the given device
	CandidateFunction func(aurora.VirtualDevice, aurora.Hosts) (aurora.Hosts, error)

	// Candidate is a scored host
	Candidate struct {
		Host     *aurora.Host
		Residual aurora.Residual
		Hops     int
		Score    float64
	}

	// Candidates is an alias to a slice of Candidate
	Candidates []Candidate

	// Engine places devices on hosts
	Engine struct {
		inventory  *aurora.Inventory
		candidates []CandidateFunction

		mu   sync.Mutex
		rand *rand.Rand
	}
)

// CandidateIsAlive returns hosts that are "alive" based on heartbeat
func CandidateIsAlive(d aurora.VirtualDevice, hs aurora.Hosts) (aurora.Hosts, error) {
	var hosts aurora.Hosts
	for _, h := range hs {
		if h.IsAlive() {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

// CandidateHasResources returns a CandidateFunction keeping hosts whose
// residual capacity fits the device's request
func CandidateHasResources(inv *aurora.Inventory) CandidateFunction {
	return func(d aurora.VirtualDevice, hs aurora.Hosts) (aurora.Hosts, error) {
		residuals, err := inv.Residuals(hs)
		if err != nil {
			return nil, err
		}
		var hosts aurora.Hosts
		for _, h := range hs {
			if residuals[h.ID].Fits(d.Request()) {
				hosts = append(hosts, h)
			}
		}
		return hosts, nil
	}
}

// CandidateExclude returns a CandidateFunction that drops one host
func CandidateExclude(hostID string) CandidateFunction {
	return func(d aurora.VirtualDevice, hs aurora.Hosts) (aurora.Hosts, error) {
		var hosts aurora.Hosts
		for _, h := range hs {
			if h.ID != hostID {
				hosts = append(hosts, h)
			}
		}
		return hosts, nil
	}
}

// DefaultCandidateFunctions is the filter chain for general use
func DefaultCandidateFunctions(inv *aurora.Inventory) []CandidateFunction {
	return []CandidateFunction{
		CandidateIsAlive,
		CandidateHasResources(inv),
	}
}

// New creates an engine. A nil rng is seeded from the clock; no candidate
// functions means DefaultCandidateFunctions.
func New(inv *aurora.Inventory, rng *rand.Rand, fs ...CandidateFunction) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if len(fs) == 0 {
		fs = DefaultCandidateFunctions(inv)
	}
	return &Engine{
		inventory:  inv,
		candidates: fs,
		rand:       rng,
	}
}

// Filter runs the candidate chain
func (e *Engine) Filter(d aurora.VirtualDevice, hosts aurora.Hosts, extra ...CandidateFunction) (aurora.Hosts, error) {
	noCapacity := &aurora.NoCapacityError{Device: aurora.DeviceLabel(d), Request: d.Request()}
	if len(hosts) == 0 {
		return nil, noCapacity
	}
	for _, fn := range append(append([]CandidateFunction{}, e.candidates...), extra...) {
		hs, err := fn(d, hosts)
		if err != nil {
			return nil, err
		}
		hosts = hs
		if len(hosts) == 0 {
			return nil, noCapacity
		}
	}
	return hosts, nil
}

// Score rates hosts for the device. With a pivot host the coefficient is
// divided by the hop distance from the pivot plus one.
func (e *Engine) Score(d aurora.VirtualDevice, hosts aurora.Hosts, pivot *aurora.Host, dist topology.Distancer) (Candidates, error) {
	residuals, err := e.inventory.Residuals(hosts)
	if err != nil {
		return nil, err
	}
	candidates := make(Candidates, 0, len(hosts))
	for _, h := range hosts {
		c := Candidate{
			Host:     h,
			Residual: residuals[h.ID],
		}
		c.Score = c.Residual.Coefficient()
		if pivot != nil && dist != nil {
			hops, err := dist.HopDistance(pivot.ID, h.ID)
			if err != nil {
				log.WithFields(log.Fields{
					"error": err,
					"pivot": pivot.Name,
					"host":  h.Name,
				}).Warn("scoring unreachable host")
				hops = topology.Unreachable
			}
			c.Hops = hops
			c.Score /= float64(hops) + 1
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// Best returns the candidates sharing the highest score
func (cs Candidates) Best() Candidates {
	best := -1.0
	var ties Candidates
	for _, c := range cs {
		switch {
		case c.Score > best:
			best = c.Score
			ties = Candidates{c}
		case c.Score == best:
			ties = append(ties, c)
		}
	}
	return ties
}

func (e *Engine) pick(ties Candidates) Candidate {
	if len(ties) == 1 {
		return ties[0]
	}
	// the order of hosts from the store is not meaningful, pick from a
	// stable order so a seeded rng is reproducible
	sort.Slice(ties, func(i, j int) bool { return ties[i].Host.ID < ties[j].Host.ID })
	e.mu.Lock()
	defer e.mu.Unlock()
	return ties[e.rand.Intn(len(ties))]
}

// Place chooses a host for the device without reserving it. It returns a
// *aurora.NoCapacityError when no host qualifies.
func (e *Engine) Place(ctx context.Context, d aurora.VirtualDevice, hosts aurora.Hosts, pivot *aurora.Host, dist topology.Distancer, extra ...CandidateFunction) (*aurora.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hosts, err := e.Filter(d, hosts, extra...)
	if err != nil {
		return nil, err
	}
	candidates, err := e.Score(d, hosts, pivot, dist)
	if err != nil {
		return nil, err
	}
	chosen := e.pick(candidates.Best())

	log.WithFields(log.Fields{
		"device": aurora.DeviceLabel(d),
		"host":   chosen.Host.Name,
		"score":  chosen.Score,
		"hops":   chosen.Hops,
	}).Debug("placed")
	return chosen.Host, nil
}

// Assign places the device and reserves the chosen host. When a concurrent
// reservation fills the host first the choice is made again without it.
func (e *Engine) Assign(ctx context.Context, d aurora.VirtualDevice, hosts aurora.Hosts, pivot *aurora.Host, dist topology.Distancer) (*aurora.Host, error) {
	var extra []CandidateFunction
	for attempt := 0; attempt < len(hosts); attempt++ {
		h, err := e.Place(ctx, d, hosts, pivot, dist, extra...)
		if err != nil {
			return nil, err
		}
		err = e.inventory.Reserve(ctx, h, d)
		if err == nil {
			return h, nil
		}
		if _, ok := err.(*aurora.NoCapacityError); !ok {
			return nil, err
		}
		log.WithFields(log.Fields{
			"device": aurora.DeviceLabel(d),
			"host":   h.Name,
		}).Info("host filled concurrently, placing again")
		extra = append(extra, CandidateExclude(h.ID))
	}
	return nil, &aurora.NoCapacityError{Device: aurora.DeviceLabel(d), Request: d.Request()}
}
