package optimizer

import (
	"context"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/provision"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// LiveMigrator reserves capacity on the destination, live-migrates the guest
// and then moves the machine's links along with it
type LiveMigrator struct {
	Store       *aurora.Context
	Inventory   *aurora.Inventory
	Agents      *aurora.AgentPool
	Provisioner *provision.Provisioner
}

// Migrate moves vm to dest. Link failures are returned after the machine has
// moved; they are recorded on the links themselves. When the hypervisor
// refuses the move vm is left pointing at its source host, even if the
// reservation could not be returned.
func (m *LiveMigrator) Migrate(ctx context.Context, vm *aurora.VirtualMachine, dest *aurora.Host) error {
	src, err := m.Store.Host(vm.HostID)
	if err != nil {
		return err
	}
	agent, err := m.Agents.Get(src)
	if err != nil {
		return err
	}

	if err := m.Inventory.Move(ctx, vm, dest); err != nil {
		return err
	}
	if err := agent.Migrate(ctx, vm, dest); err != nil {
		if rerr := m.Inventory.Move(ctx, vm, src); rerr != nil {
			log.WithFields(log.Fields{
				"error": rerr,
				"vm":    vm.ID,
				"host":  src.ID,
			}).Error("failed to return reservation")
			// the guest never left src even though the stored record did
			vm.HostID = src.ID
			return multierror.Append(err, rerr)
		}
		return err
	}

	links, err := m.Store.LinksOf(vm.ID)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, l := range links {
		if l.State == aurora.LinkCreated {
			continue
		}
		if err := m.Provisioner.Migrate(ctx, l); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
