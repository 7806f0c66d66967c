// Package provision drives virtual links through their states. Links
// between machines are routed by the SDN controller and programmed as
// static flows; links touching routers on one host are built from local
// bridge ports.
package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/fabric"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Provisioner establishes and tears down virtual links
type Provisioner struct {
	store      *aurora.Context
	controller sdn.Controller
	fabric     fabric.Fabric

	mu       sync.Mutex
	switches map[string]*sync.Mutex
}

// kind of link, decided by its endpoints
type kind int

const (
	routed kind = iota // machine to machine through the controller
	patched            // router to router on one host
	bridged            // machine into a router's bridge on one host
)

// endpoint is one resolved end of a link
type endpoint struct {
	iface  *aurora.VirtualInterface
	device aurora.VirtualDevice
	host   *aurora.Host
}

func (e endpoint) bridge() string {
	if vr, ok := e.device.(*aurora.VirtualRouter); ok {
		return vr.DevName
	}
	return e.host.Bridge
}

// plan is a link with both ends resolved
type plan struct {
	link       *aurora.VirtualLink
	kind       kind
	start, end endpoint
}

// New creates a Provisioner
func New(store *aurora.Context, ctrl sdn.Controller, f fabric.Fabric) *Provisioner {
	return &Provisioner{
		store:      store,
		controller: ctrl,
		fabric:     f,
		switches:   map[string]*sync.Mutex{},
	}
}

func (p *Provisioner) switchMutex(dpid string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	mu, ok := p.switches[dpid]
	if !ok {
		mu = &sync.Mutex{}
		p.switches[dpid] = mu
	}
	return mu
}

func (p *Provisioner) resolve(vi *aurora.VirtualInterface) (endpoint, error) {
	d, err := vi.Device()
	if err != nil {
		return endpoint{}, err
	}
	if d.AssignedHost() == "" {
		return endpoint{}, fmt.Errorf("%s is not deployed", aurora.DeviceLabel(d))
	}
	h, err := p.store.Host(d.AssignedHost())
	if err != nil {
		return endpoint{}, err
	}
	return endpoint{iface: vi, device: d, host: h}, nil
}

// plan resolves both ends and rejects the combinations that are not
// supported. A *aurora.ConfigurationError is returned for those.
func (p *Provisioner) plan(l *aurora.VirtualLink) (*plan, error) {
	startIf, endIf, err := l.Endpoints()
	if err != nil {
		return nil, err
	}
	start, err := p.resolve(startIf)
	if err != nil {
		return nil, err
	}
	end, err := p.resolve(endIf)
	if err != nil {
		return nil, err
	}

	pl := &plan{link: l, start: start, end: end}
	switch {
	case !start.device.IsRouter() && !end.device.IsRouter():
		pl.kind = routed
		return pl, nil
	case start.device.IsRouter() && end.device.IsRouter():
		pl.kind = patched
	default:
		pl.kind = bridged
	}
	if start.host.ID != end.host.ID {
		return nil, &aurora.ConfigurationError{
			Entity: "link " + l.ID,
			Reason: "links to virtual routers must stay on one host",
		}
	}
	return pl, nil
}

func (p *Provisioner) fail(l *aurora.VirtualLink, err error) error {
	if _, ok := err.(*aurora.LinkProvisioningError); !ok {
		if _, ok := err.(*aurora.ConfigurationError); !ok {
			err = &aurora.LinkProvisioningError{Link: l.ID, Err: err}
		}
	}
	l.Fail(err)
	if serr := l.Save(); serr != nil {
		log.WithFields(log.Fields{
			"error": serr,
			"link":  l.ID,
		}).Error("failed to save link state")
	}
	log.WithFields(log.Fields{
		"error": err,
		"link":  l.ID,
	}).Error("link provisioning failed")
	return err
}

func (p *Provisioner) setState(l *aurora.VirtualLink, state string) error {
	l.State = state
	if state != aurora.LinkFailed {
		l.Error = ""
	}
	return l.Save()
}

// Establish brings a link up. Links already established or waiting are left
// alone. On failure the link is saved as failed and the error returned; no
// retry is made.
func (p *Provisioner) Establish(ctx context.Context, l *aurora.VirtualLink) error {
	if l.State == aurora.LinkEstablish || l.State == aurora.LinkWaiting {
		return nil
	}
	return p.establish(ctx, l)
}

func (p *Provisioner) establish(ctx context.Context, l *aurora.VirtualLink) error {
	pl, err := p.plan(l)
	if err != nil {
		return p.fail(l, err)
	}

	switch pl.kind {
	case patched:
		err = p.establishPatch(ctx, pl)
	case bridged:
		err = p.establishBridged(ctx, pl)
	default:
		err = p.establishRouted(ctx, pl)
	}
	if err != nil {
		return p.fail(l, err)
	}
	return nil
}

func (p *Provisioner) establishPatch(ctx context.Context, pl *plan) error {
	h := pl.start.host
	a, b := pl.start.bridge(), pl.end.bridge()
	if err := p.fabric.AddPatchPort(ctx, h, a, b); err != nil {
		return errors.Wrapf(err, "patch %s", fabric.PatchPort(a, b))
	}
	if err := p.fabric.AddPatchPort(ctx, h, b, a); err != nil {
		return errors.Wrapf(err, "patch %s", fabric.PatchPort(b, a))
	}
	return p.setState(pl.link, aurora.LinkEstablish)
}

// machineAndRouter orders a bridged plan's ends
func machineAndRouter(pl *plan) (endpoint, endpoint) {
	if pl.start.device.IsRouter() {
		return pl.end, pl.start
	}
	return pl.start, pl.end
}

func (p *Provisioner) establishBridged(ctx context.Context, pl *plan) error {
	vm, vr := machineAndRouter(pl)
	h := vm.host
	port := vm.iface.PortName()
	bridge := vr.bridge()

	prev, err := p.fabric.PortBridge(ctx, h, port)
	if err != nil {
		return errors.Wrapf(err, "bridge of %s", port)
	}
	if prev != "" && prev != bridge {
		if err := p.fabric.DelPort(ctx, h, prev, port); err != nil {
			return errors.Wrapf(err, "remove %s from %s", port, prev)
		}
	}
	if err := p.fabric.AddPort(ctx, h, bridge, port); err != nil {
		return errors.Wrapf(err, "add %s to %s", port, bridge)
	}
	return p.setState(pl.link, aurora.LinkEstablish)
}

func (p *Provisioner) establishRouted(ctx context.Context, pl *plan) error {
	l := pl.link
	for _, e := range []endpoint{pl.start, pl.end} {
		if e.iface.PortName() == "" || e.iface.MAC == nil {
			return fmt.Errorf("interface %s has no target or MAC", e.iface.ID)
		}
	}

	for _, e := range []endpoint{pl.start, pl.end} {
		port := e.iface.PortName()
		if err := p.fabric.AddPort(ctx, e.host, e.host.Bridge, port); err != nil {
			return errors.Wrapf(err, "add %s to %s on %s", port, e.host.Bridge, e.host.Name)
		}
	}

	l.Path = nil
	if err := p.setState(l, aurora.LinkWaiting); err != nil {
		return err
	}

	src, err := p.controller.Attachment(ctx, pl.start.iface.PortName())
	if err != nil {
		return errors.Wrapf(err, "attachment of %s", pl.start.iface.PortName())
	}
	dst, err := p.controller.Attachment(ctx, pl.end.iface.PortName())
	if err != nil {
		return errors.Wrapf(err, "attachment of %s", pl.end.iface.PortName())
	}
	points, err := p.controller.Route(ctx, src, dst)
	if err != nil {
		return errors.Wrapf(err, "route %s to %s", src, dst)
	}
	hops, err := sdn.Hops(points)
	if err != nil {
		return err
	}
	if len(hops) == 0 {
		return fmt.Errorf("no route from %s to %s", src, dst)
	}

	startMAC, endMAC := pl.start.iface.MAC.String(), pl.end.iface.MAC.String()
	var pushed []sdn.Flow
	for _, hop := range hops {
		forward, reverse := sdn.LinkFlows(l.ID, hop, startMAC, endMAC)
		done, err := p.push(ctx, hop.Switch, forward, reverse)
		pushed = append(pushed, done...)
		if err != nil {
			// leave nothing half programmed
			p.deleteFlows(ctx, pushed)
			return errors.Wrapf(err, "push flows on %s", hop.Switch)
		}
	}

	l.Path = hops
	if err := p.setState(l, aurora.LinkEstablish); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"link": l.ID,
		"hops": len(hops),
	}).Info("link established")
	return nil
}

// push installs flows on one switch, holding the switch's mutex so rule
// sets of different links do not interleave
func (p *Provisioner) push(ctx context.Context, dpid string, flows ...sdn.Flow) ([]sdn.Flow, error) {
	mu := p.switchMutex(dpid)
	mu.Lock()
	defer mu.Unlock()

	var done []sdn.Flow
	for _, f := range flows {
		if err := p.controller.PushFlow(ctx, f); err != nil {
			return done, err
		}
		done = append(done, f)
	}
	return done, nil
}

// deleteFlows removes flows best effort and reports what could not be
// removed
func (p *Provisioner) deleteFlows(ctx context.Context, flows []sdn.Flow) []error {
	var errs []error
	for _, f := range flows {
		mu := p.switchMutex(f.Switch)
		mu.Lock()
		err := p.controller.DeleteFlow(ctx, f.Switch, f.Name)
		mu.Unlock()
		if err != nil {
			log.WithFields(log.Fields{
				"error":  err,
				"switch": f.Switch,
				"flow":   f.Name,
			}).Warn("failed to delete flow")
			errs = append(errs, err)
		}
	}
	return errs
}
