// Package optimizer re-evaluates placed virtual machines and migrates them
// when a policy finds a strictly better host. Each policy moves a machine at
// most once per pass and reports migration failures per machine without
// stopping the pass.
package optimizer

import (
	"context"
	"fmt"
	"sort"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

type (
	// Migrator moves a running machine to another host
	Migrator interface {
		Migrate(ctx context.Context, vm *aurora.VirtualMachine, dest *aurora.Host) error
	}

	// Policy decides which machines to move
	Policy interface {
		Name() string
		Optimize(ctx context.Context, pass *Pass) (*Report, error)
	}

	// Pass is the state shared by policies during one optimization run
	Pass struct {
		Store     *aurora.Context
		Inventory *aurora.Inventory
		// Hosts are the active hosts machines may move to
		Hosts     aurora.Hosts
		Distances topology.Distancer
		Agents    *aurora.AgentPool
		Migrator  Migrator
		// SliceID limits the pass to one slice when set
		SliceID string
	}

	// Move is a completed migration
	Move struct {
		VM   string `json:"vm"`
		From string `json:"from"`
		To   string `json:"to"`
	}

	// Report is the outcome of a policy run
	Report struct {
		Policy   string           `json:"policy"`
		Moves    []Move           `json:"moves"`
		Failures map[string]error `json:"-"`
	}
)

// NewPass gathers the hosts that are alive for a pass
func NewPass(store *aurora.Context, inv *aurora.Inventory, dist topology.Distancer, agents *aurora.AgentPool, m Migrator) (*Pass, error) {
	hosts, err := store.Hosts()
	if err != nil {
		return nil, err
	}
	var alive aurora.Hosts
	for _, h := range hosts {
		if h.IsAlive() {
			alive = append(alive, h)
		}
	}
	if dist == nil {
		dist = topology.Flat{}
	}
	return &Pass{
		Store:     store,
		Inventory: inv,
		Hosts:     alive,
		Distances: dist,
		Agents:    agents,
		Migrator:  m,
	}, nil
}

func newReport(policy string) *Report {
	return &Report{Policy: policy, Failures: map[string]error{}}
}

func (r *Report) fail(vm *aurora.VirtualMachine, err error) {
	log.WithFields(log.Fields{
		"error":  err,
		"vm":     vm.ID,
		"policy": r.Policy,
	}).Error("migration failed")
	r.Failures[vm.ID] = err
}

// Err aggregates the per machine failures, nil when there are none
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failures))
	for id := range r.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var result *multierror.Error
	for _, id := range ids {
		result = multierror.Append(result, fmt.Errorf("vm %s: %v", id, r.Failures[id]))
	}
	return result.ErrorOrNil()
}

// host finds an active host of the pass
func (p *Pass) host(id string) *aurora.Host {
	for _, h := range p.Hosts {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// Running returns the placed machines in scope whose hypervisor reports
// them running. The stored state is brought up to date on the way.
func (p *Pass) Running(ctx context.Context) (aurora.VirtualMachines, error) {
	vms, err := p.Store.VirtualMachines(func(vm *aurora.VirtualMachine) bool {
		return vm.HostID != "" && (p.SliceID == "" || vm.SliceID == p.SliceID)
	})
	if err != nil {
		return nil, err
	}

	var running aurora.VirtualMachines
	for _, vm := range vms {
		h := p.host(vm.HostID)
		if h == nil {
			continue
		}
		state, err := p.state(ctx, h, vm)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"vm":    vm.ID,
			}).Warn("unable to refresh state")
			continue
		}
		if state != vm.State {
			vm.State = state
			if err := vm.Save(); err != nil {
				return nil, err
			}
		}
		if vm.IsRunning() {
			running = append(running, vm)
		}
	}
	return running, nil
}

func (p *Pass) state(ctx context.Context, h *aurora.Host, vm *aurora.VirtualMachine) (string, error) {
	if p.Agents == nil {
		return vm.State, nil
	}
	agent, err := p.Agents.Get(h)
	if err != nil {
		return "", err
	}
	return agent.State(ctx, vm)
}

// fits lists the active hosts other than the machine's that can take it
func (p *Pass) fits(vm *aurora.VirtualMachine, residuals map[string]aurora.Residual) aurora.Hosts {
	var hosts aurora.Hosts
	for _, h := range p.Hosts {
		if h.ID == vm.HostID {
			continue
		}
		if residuals[h.ID].Fits(vm.Request()) {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// migrate moves the machine and records the outcome. It reports whether the
// machine moved.
func (p *Pass) migrate(ctx context.Context, r *Report, vm *aurora.VirtualMachine, dest *aurora.Host) bool {
	from := vm.HostID
	if err := p.Migrator.Migrate(ctx, vm, dest); err != nil {
		r.fail(vm, err)
		// link failures leave the machine on its new host
		if vm.HostID != dest.ID {
			return false
		}
	}
	r.Moves = append(r.Moves, Move{VM: vm.ID, From: from, To: dest.ID})
	log.WithFields(log.Fields{
		"vm":     vm.ID,
		"from":   from,
		"to":     dest.ID,
		"policy": r.Policy,
	}).Info("migrated")
	return true
}

var policies = map[string]Policy{}

// Register makes a policy available by name
func Register(p Policy) {
	policies[p.Name()] = p
}

// Lookup finds a registered policy
func Lookup(name string) (Policy, bool) {
	p, ok := policies[name]
	return p, ok
}

func init() {
	Register(Balance{})
	Register(Hops{})
	Register(Energy{})
}
