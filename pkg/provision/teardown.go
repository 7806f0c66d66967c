package provision

import (
	"context"
	"errors"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

var errBadPath = errors.New("recorded path is missing or malformed")

// Unestablish tears a link down. Routed links replay their recorded path and
// become inactive; local links become created. Links already torn down are
// left alone. A routed link without a
// usable path is marked failed and nil is returned so slice deletion can
// carry on.
func (p *Provisioner) Unestablish(ctx context.Context, l *aurora.VirtualLink) error {
	switch l.State {
	case aurora.LinkCreated, aurora.LinkInactive:
		return nil
	}

	pl, err := p.plan(l)
	if err != nil {
		// the devices may already be gone, the path is still enough
		if l.ValidPath() {
			return p.unestablishRouted(ctx, l)
		}
		log.WithFields(log.Fields{
			"error": err,
			"link":  l.ID,
		}).Warn("cannot resolve link for teardown")
		p.markFailed(l, err)
		return nil
	}

	switch pl.kind {
	case patched:
		err = p.unestablishPatch(ctx, pl)
	case bridged:
		err = p.unestablishBridged(ctx, pl)
	default:
		return p.unestablishRouted(ctx, l)
	}
	if err != nil {
		return p.fail(l, err)
	}
	return nil
}

func (p *Provisioner) markFailed(l *aurora.VirtualLink, err error) {
	l.Fail(err)
	if serr := l.Save(); serr != nil {
		log.WithFields(log.Fields{
			"error": serr,
			"link":  l.ID,
		}).Error("failed to save link state")
	}
}

func (p *Provisioner) unestablishRouted(ctx context.Context, l *aurora.VirtualLink) error {
	if !l.ValidPath() {
		log.WithField("link", l.ID).Warn(errBadPath.Error())
		p.markFailed(l, errBadPath)
		return nil
	}

	flows := make([]sdn.Flow, 0, 2*len(l.Path))
	for _, hop := range l.Path {
		flows = append(flows,
			sdn.Flow{Switch: hop.Switch, Name: sdn.ForwardName(hop.Switch, l.ID)},
			sdn.Flow{Switch: hop.Switch, Name: sdn.ReverseName(hop.Switch, l.ID)},
		)
	}
	if errs := p.deleteFlows(ctx, flows); len(errs) > 0 {
		return p.fail(l, multierror.Append(nil, errs...))
	}

	l.Path = nil
	return p.setState(l, aurora.LinkInactive)
}

func (p *Provisioner) unestablishPatch(ctx context.Context, pl *plan) error {
	h := pl.start.host
	a, b := pl.start.bridge(), pl.end.bridge()
	var result *multierror.Error
	if err := p.fabric.DelPatchPort(ctx, h, a, b); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.fabric.DelPatchPort(ctx, h, b, a); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	return p.setState(pl.link, aurora.LinkCreated)
}

// unestablishBridged moves the machine's port back to its host's
// provisioning bridge
func (p *Provisioner) unestablishBridged(ctx context.Context, pl *plan) error {
	vm, vr := machineAndRouter(pl)
	port := vm.iface.PortName()
	if err := p.fabric.DelPort(ctx, vm.host, vr.bridge(), port); err != nil {
		return err
	}
	if err := p.fabric.AddPort(ctx, vm.host, vm.host.Bridge, port); err != nil {
		return err
	}
	return p.setState(pl.link, aurora.LinkCreated)
}

// Migrate rebuilds a link after one of its machines moved host
func (p *Provisioner) Migrate(ctx context.Context, l *aurora.VirtualLink) error {
	if err := p.Unestablish(ctx, l); err != nil {
		return err
	}
	return p.establish(ctx, l)
}
