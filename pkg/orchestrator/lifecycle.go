package orchestrator

import (
	"context"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/pkg/errors"
)

// Machine actions accepted by Action
const (
	ActionStart    = "start"
	ActionStop     = "stop"
	ActionShutdown = "shutdown"
	ActionResume   = "resume"
	ActionSuspend  = "suspend"
)

// ErrUnknownAction is returned by Action for names it does not handle
var ErrUnknownAction = errors.New("unknown action")

// Action runs a lifecycle action on a placed machine and records the state
// the hypervisor reports afterwards
func (o *Orchestrator) Action(ctx context.Context, vm *aurora.VirtualMachine, action string) error {
	if vm.HostID == "" {
		return errors.Errorf("vm %s is not placed", vm.ID)
	}
	agent, _, err := o.agent(vm)
	if err != nil {
		return err
	}

	var call func(context.Context, *aurora.VirtualMachine) error
	switch action {
	case ActionStart:
		call = agent.Start
	case ActionStop:
		call = agent.Stop
	case ActionShutdown:
		call = agent.Shutdown
	case ActionResume:
		call = agent.Resume
	case ActionSuspend:
		call = agent.Suspend
	default:
		return ErrUnknownAction
	}
	if err := call(ctx, vm); err != nil {
		return err
	}

	state, err := agent.State(ctx, vm)
	if err != nil {
		return err
	}
	if err := vm.Refresh(); err != nil {
		return err
	}
	vm.State = state
	return vm.Save()
}
