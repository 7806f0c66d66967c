// Package orchestrator sequences slice deployment, deletion and optimization
// over the placement engine, the hypervisor agents, the host fabric and the
// link provisioner.
package orchestrator

import (
	"context"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/fabric"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/lock"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/optimizer"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/placement"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/provision"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
	"github.com/armon/go-metrics"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// SliceLockPath is the path in the config store of per-slice locks
	SliceLockPath = "aurora/locks/slices/"
	// OptimizerLockKey is the config store key of the global optimizer lock
	OptimizerLockKey = "aurora/locks/optimizer"
)

// DefaultLockTTL bounds how long a crashed orchestrator can hold a lock
const DefaultLockTTL = 5 * time.Minute

// teardownTimeout bounds cleanup that runs after the caller's context is done
const teardownTimeout = 30 * time.Second

type (
	// Config wires an Orchestrator
	Config struct {
		Store      *aurora.Context
		Inventory  *aurora.Inventory
		Agents     *aurora.AgentPool
		Controller sdn.Controller
		Fabric     fabric.Fabric
		// Metrics receives stage timings; a blackhole sink is used when nil
		Metrics *metrics.Metrics
		// Rand breaks placement ties; seeded from the clock when nil
		Rand    *rand.Rand
		LockTTL time.Duration
		// DefaultDeployment is used for slices that name no program
		DefaultDeployment string
		// DefaultOptimization is used for slices that name no program
		DefaultOptimization []string
	}

	// Orchestrator deploys, deletes and optimizes slices
	Orchestrator struct {
		store       *aurora.Context
		inventory   *aurora.Inventory
		agents      *aurora.AgentPool
		controller  sdn.Controller
		fabric      fabric.Fabric
		metrics     *metrics.Metrics
		engine      *placement.Engine
		provisioner *provision.Provisioner
		lockTTL     time.Duration

		defaultDeployment   string
		defaultOptimization []string
	}
)

// New creates an Orchestrator. It owns the agent pool from then on.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Agents == nil || cfg.Fabric == nil {
		return nil, errors.New("store, agents and fabric are required")
	}
	if cfg.Inventory == nil {
		inv, err := cfg.Store.NewInventory(0, 0)
		if err != nil {
			return nil, err
		}
		cfg.Inventory = inv
	}
	if cfg.Metrics == nil {
		m, err := metrics.New(metrics.DefaultConfig("aurora"), &metrics.BlackholeSink{})
		if err != nil {
			return nil, err
		}
		cfg.Metrics = m
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.DefaultDeployment == "" {
		cfg.DefaultDeployment = defaultDeploy
	}
	if len(cfg.DefaultOptimization) == 0 {
		cfg.DefaultOptimization = []string{defaultOptimizer}
	}

	return &Orchestrator{
		store:               cfg.Store,
		inventory:           cfg.Inventory,
		agents:              cfg.Agents,
		controller:          cfg.Controller,
		fabric:              cfg.Fabric,
		metrics:             cfg.Metrics,
		engine:              placement.New(cfg.Inventory, cfg.Rand, placement.DefaultCandidateFunctions(cfg.Inventory)...),
		provisioner:         provision.New(cfg.Store, cfg.Controller, cfg.Fabric),
		lockTTL:             cfg.LockTTL,
		defaultDeployment:   cfg.DefaultDeployment,
		defaultOptimization: cfg.DefaultOptimization,
	}, nil
}

// Provisioner returns the link provisioner
func (o *Orchestrator) Provisioner() *provision.Provisioner {
	return o.provisioner
}

// Migrator returns a live migrator sharing the orchestrator's resources
func (o *Orchestrator) Migrator() optimizer.Migrator {
	return &optimizer.LiveMigrator{
		Store:       o.store,
		Inventory:   o.inventory,
		Agents:      o.agents,
		Provisioner: o.provisioner,
	}
}

// Close releases the hypervisor connections
func (o *Orchestrator) Close() error {
	return o.agents.Close()
}

func (o *Orchestrator) lock(ctx context.Context, key string, blocking bool) (*lock.Lock, error) {
	return lock.Acquire(ctx, o.store.KV(), key, uuid.New(), o.lockTTL, blocking)
}

func (o *Orchestrator) lockSlice(ctx context.Context, s *aurora.Slice, blocking bool) (*lock.Lock, error) {
	return o.lock(ctx, filepath.Join(SliceLockPath, s.ID), blocking)
}

func release(l *lock.Lock) {
	if err := l.Release(); err != nil {
		log.WithField("error", err).Warn("failed to release lock")
	}
}

// aliveHosts is the pool a pass may use
func (o *Orchestrator) aliveHosts() (aurora.Hosts, error) {
	hosts, err := o.store.Hosts()
	if err != nil {
		return nil, err
	}
	var alive aurora.Hosts
	for _, h := range hosts {
		if h.IsAlive() {
			alive = append(alive, h)
		}
	}
	return alive, nil
}

// distances builds the hop table for a pass. Without a usable controller
// every pair of hosts is one hop apart.
func (o *Orchestrator) distances(ctx context.Context, hosts aurora.Hosts) topology.Distancer {
	if o.controller == nil {
		return topology.Flat{}
	}
	g, err := topology.FromController(ctx, o.controller, hosts)
	if err != nil {
		log.WithField("error", err).Warn("topology unavailable, ignoring distances")
		return topology.Flat{}
	}
	return topology.NewTable(g, hosts)
}

// agent returns the agent of the device's host
func (o *Orchestrator) agent(vm *aurora.VirtualMachine) (aurora.Agenter, *aurora.Host, error) {
	h, err := o.store.Host(vm.HostID)
	if err != nil {
		return nil, nil, err
	}
	a, err := o.agents.Get(h)
	return a, h, err
}

// measure emits the time since start under the stage name
func (o *Orchestrator) measure(start time.Time, key ...string) time.Duration {
	o.metrics.MeasureSince(key, start)
	return time.Since(start)
}
