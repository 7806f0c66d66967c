package aurora

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type (
	// StubAgent simulates the hypervisors of every host in memory. It fails
	// a given percent of calls at random, plus any action forced with
	// FailAction.
	StubAgent struct {
		mu          sync.Mutex
		rand        *rand.Rand
		failPercent int
		forced      map[string]error
		guests      map[string]*stubGuest
		calls       []string
	}

	stubGuest struct {
		host  string
		state string
		vm    VirtualMachine
	}

	// stubConn is the StubAgent as seen from one host
	stubConn struct {
		stub *StubAgent
		host *Host
	}
)

// NewStubAgent creates a new StubAgent and initializes the random number
// generator for failures
func NewStubAgent(failPercent int) *StubAgent {
	return &StubAgent{
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		failPercent: failPercent,
		forced:      map[string]error{},
		guests:      map[string]*stubGuest{},
	}
}

// Factory opens per-host views of the stub for an AgentPool
func (s *StubAgent) Factory() AgentFactory {
	return func(h *Host) (Agenter, error) {
		return &stubConn{stub: s, host: h}, nil
	}
}

// FailAction makes every call of action fail with err; a nil err clears it
func (s *StubAgent) FailAction(action string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.forced, action)
		return
	}
	s.forced[action] = err
}

// SetState overrides the state of a defined guest
func (s *StubAgent) SetState(vmID, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guests[vmID]; ok {
		g.state = state
	}
}

// GuestHost reports the host a guest is defined on
func (s *StubAgent) GuestHost(vmID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guests[vmID]
	if !ok {
		return "", false
	}
	return g.host, true
}

// Calls returns "action vmID" for every call made so far
func (s *StubAgent) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// randomError simulates failure for a given percent of the time
func (s *StubAgent) randomError(action string) error {
	if err, ok := s.forced[action]; ok {
		return err
	}
	if s.rand.Intn(100) < s.failPercent {
		return errors.New("Random Error")
	}
	return nil
}

// do runs fn under the lock after recording the call and rolling for a
// failure
func (c *stubConn) do(vm *VirtualMachine, action string, fn func() error) error {
	s := c.stub
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, action+" "+vm.ID)
	err := s.randomError(action)
	if err == nil {
		err = fn()
	}
	if err != nil {
		return &HypervisorError{VM: vm.ID, Host: c.host.Name, Action: action, Err: err}
	}
	return nil
}

func (c *stubConn) guest(vm *VirtualMachine) (*stubGuest, error) {
	g, ok := c.stub.guests[vm.ID]
	if !ok || g.host != c.host.ID {
		return nil, fmt.Errorf("guest %s not defined", vm.ID)
	}
	return g, nil
}

func (c *stubConn) transition(vm *VirtualMachine, action, state string) error {
	return c.do(vm, action, func() error {
		g, err := c.guest(vm)
		if err != nil {
			return err
		}
		g.state = state
		return nil
	})
}

func (c *stubConn) Define(_ context.Context, vm *VirtualMachine) error {
	return c.do(vm, "define", func() error {
		c.stub.guests[vm.ID] = &stubGuest{host: c.host.ID, state: VMShutOff, vm: *vm}
		return nil
	})
}

func (c *stubConn) Start(_ context.Context, vm *VirtualMachine) error {
	return c.transition(vm, "start", VMRunning)
}

func (c *stubConn) Stop(_ context.Context, vm *VirtualMachine) error {
	return c.transition(vm, "stop", VMShutOff)
}

func (c *stubConn) Shutdown(_ context.Context, vm *VirtualMachine) error {
	return c.transition(vm, "shutdown", VMShutOff)
}

func (c *stubConn) Resume(_ context.Context, vm *VirtualMachine) error {
	return c.transition(vm, "resume", VMRunning)
}

func (c *stubConn) Suspend(_ context.Context, vm *VirtualMachine) error {
	return c.transition(vm, "suspend", VMPaused)
}

func (c *stubConn) Migrate(_ context.Context, vm *VirtualMachine, dest *Host) error {
	return c.do(vm, "migrate", func() error {
		g, err := c.guest(vm)
		if err != nil {
			return err
		}
		g.host = dest.ID
		return nil
	})
}

func (c *stubConn) Undefine(_ context.Context, vm *VirtualMachine) error {
	return c.do(vm, "undefine", func() error {
		if _, err := c.guest(vm); err != nil {
			return err
		}
		delete(c.stub.guests, vm.ID)
		return nil
	})
}

func (c *stubConn) Info(_ context.Context, vm *VirtualMachine) (*GuestInfo, error) {
	var info *GuestInfo
	err := c.do(vm, "info", func() error {
		g, err := c.guest(vm)
		if err != nil {
			return err
		}
		info = &GuestInfo{
			State:     g.state,
			MaxMemory: g.vm.Memory,
			Memory:    g.vm.Memory,
			VCPU:      g.vm.VCPU,
		}
		return nil
	})
	return info, err
}

func (c *stubConn) State(ctx context.Context, vm *VirtualMachine) (string, error) {
	info, err := c.Info(ctx, vm)
	if err != nil {
		return "", err
	}
	return info.State, nil
}

func (c *stubConn) Ping(context.Context) error {
	return nil
}

func (c *stubConn) Close() error {
	return nil
}
