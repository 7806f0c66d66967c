package orchestrator

import (
	"context"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Delete tears the slice down and removes its records: links first, then
// machines, then routers, then the slice itself. Every step is attempted
// regardless of earlier failures and the failures are returned together.
func (o *Orchestrator) Delete(ctx context.Context, s *aurora.Slice) error {
	l, err := o.lockSlice(ctx, s, true)
	if err != nil {
		return err
	}
	defer release(l)

	if err := s.Refresh(); err != nil {
		return err
	}

	var result *multierror.Error
	appendErr := func(entity string, err error) {
		if err == nil {
			return
		}
		log.WithFields(log.Fields{
			"error":  err,
			"slice":  s.ID,
			"entity": entity,
		}).Error("delete step failed")
		result = multierror.Append(result, errors.Wrap(err, entity))
	}

	links, err := s.VirtualLinks()
	appendErr("links", err)
	for _, link := range links {
		appendErr("link "+link.ID, o.provisioner.Unestablish(ctx, link))
		appendErr("link "+link.ID, link.Destroy())
	}

	vms, err := s.VirtualMachines()
	appendErr("machines", err)
	for _, vm := range vms {
		appendErr("vm "+vm.ID, o.undeployVM(ctx, vm))
		appendErr("vm "+vm.ID, o.inventory.Release(ctx, vm))
		appendErr("vm "+vm.ID, vm.Destroy())
	}

	vrs, err := s.VirtualRouters()
	appendErr("routers", err)
	for _, vr := range vrs {
		appendErr("router "+vr.ID, o.undeployRouter(ctx, vr))
		appendErr("router "+vr.ID, o.inventory.Release(ctx, vr))
		appendErr("router "+vr.ID, vr.Destroy())
	}

	appendErr("slice "+s.ID, s.Destroy())
	o.metrics.IncrCounter([]string{"delete", "count"}, 1)
	return result.ErrorOrNil()
}

// undeployVM stops the machine if it is active and undefines it
func (o *Orchestrator) undeployVM(ctx context.Context, vm *aurora.VirtualMachine) error {
	if vm.HostID == "" || vm.State == aurora.VMNotDeployed {
		return nil
	}
	agent, _, err := o.agent(vm)
	if err != nil {
		return err
	}

	var result *multierror.Error
	switch vm.State {
	case aurora.VMRunning, aurora.VMPaused, aurora.VMBlocked:
		if err := agent.Stop(ctx, vm); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := agent.Undefine(ctx, vm); err != nil {
		result = multierror.Append(result, err)
	} else {
		vm.State = aurora.VMNotDeployed
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) undeployRouter(ctx context.Context, vr *aurora.VirtualRouter) error {
	if vr.HostID == "" || !vr.Deployed {
		return nil
	}
	h, err := o.store.Host(vr.HostID)
	if err != nil {
		return err
	}
	if err := o.fabric.DeleteBridge(ctx, h, vr.DevName); err != nil {
		return err
	}
	vr.Deployed = false
	return nil
}
