package aurora

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

type (
	// GuestInfo is what a hypervisor reports about a defined guest
	GuestInfo struct {
		State     string `json:"state"`
		MaxMemory uint64 `json:"max_memory"` // KB
		Memory    uint64 `json:"memory"`     // KB
		VCPU      uint32 `json:"vcpu"`
		CPUTime   uint64 `json:"cpu_time"` // ns
	}

	// Agenter is an interface that allows for communication with the
	// hypervisor agent of one host. Failures are *HypervisorError.
	Agenter interface {
		Define(context.Context, *VirtualMachine) error
		Start(context.Context, *VirtualMachine) error
		Stop(context.Context, *VirtualMachine) error
		Shutdown(context.Context, *VirtualMachine) error
		Resume(context.Context, *VirtualMachine) error
		Suspend(context.Context, *VirtualMachine) error
		// Migrate live-migrates the guest over the unencrypted transport
		Migrate(context.Context, *VirtualMachine, *Host) error
		Undefine(context.Context, *VirtualMachine) error
		State(context.Context, *VirtualMachine) (string, error)
		Info(context.Context, *VirtualMachine) (*GuestInfo, error)
		Ping(context.Context) error
		Close() error
	}

	// AgentFactory opens an Agenter for a host
	AgentFactory func(*Host) (Agenter, error)

	// AgentPool holds one Agenter per host, opened on first use
	AgentPool struct {
		factory AgentFactory

		mu     sync.Mutex
		agents map[string]Agenter
		closed bool
	}
)

// NewAgentPool creates an empty pool
func NewAgentPool(factory AgentFactory) *AgentPool {
	return &AgentPool{
		factory: factory,
		agents:  map[string]Agenter{},
	}
}

// Get returns the host's agent, opening it if needed
func (p *AgentPool) Get(h *Host) (Agenter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, &HypervisorError{Host: h.Name, Action: "connect", Err: errPoolClosed}
	}
	if a, ok := p.agents[h.ID]; ok {
		return a, nil
	}
	a, err := p.factory(h)
	if err != nil {
		return nil, &HypervisorError{Host: h.Name, Action: "connect", Err: err}
	}
	p.agents[h.ID] = a
	return a, nil
}

// Forget closes and drops the host's agent so the next Get reopens it
func (p *AgentPool) Forget(h *Host) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[h.ID]
	if !ok {
		return nil
	}
	delete(p.agents, h.ID)
	return a.Close()
}

// Len is the number of open agents
func (p *AgentPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

// Close closes every agent. The pool may not be used afterwards.
func (p *AgentPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for id, a := range p.agents {
		if err := a.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(p.agents, id)
	}
	p.closed = true
	return result.ErrorOrNil()
}
