package provision

import (
	"context"
	"fmt"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	log "github.com/sirupsen/logrus"
)

// EstablishBundle establishes links as one unit. Links already established
// or waiting are skipped. If any link fails, every link the bundle brought up
// is torn down again and all links of the bundle are marked failed.
func (p *Provisioner) EstablishBundle(ctx context.Context, links aurora.VirtualLinks) error {
	var pending aurora.VirtualLinks
	for _, l := range links {
		if l.State == aurora.LinkEstablish || l.State == aurora.LinkWaiting {
			continue
		}
		pending = append(pending, l)
	}
	if len(pending) == 0 {
		return nil
	}

	for _, l := range pending {
		if err := p.setState(l, aurora.LinkWaiting); err != nil {
			return err
		}
	}

	var (
		failed *aurora.VirtualLink
		cause  error
		up     aurora.VirtualLinks
	)
	for _, l := range pending {
		if err := ctx.Err(); err != nil {
			failed, cause = l, err
			break
		}
		if err := p.establish(ctx, l); err != nil {
			failed, cause = l, err
			break
		}
		up = append(up, l)
	}
	if failed == nil {
		return nil
	}

	log.WithFields(log.Fields{
		"error":  cause,
		"link":   failed.ID,
		"bundle": len(pending),
	}).Error("bundle failed, rolling back")

	for _, l := range up {
		if err := p.Unestablish(ctx, l); err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"link":  l.ID,
			}).Warn("bundle rollback")
		}
	}

	bundleErr := fmt.Errorf("bundle failed on link %s: %v", failed.ID, cause)
	for _, l := range pending {
		if l == failed && l.State == aurora.LinkFailed {
			continue
		}
		p.markFailed(l, bundleErr)
	}
	if lerr, ok := cause.(*aurora.LinkProvisioningError); ok {
		return lerr
	}
	return &aurora.LinkProvisioningError{Link: failed.ID, Err: cause}
}

// Resync wipes every static flow on the controller and establishes again
// every link that has left the created state
func (p *Provisioner) Resync(ctx context.Context) error {
	if err := p.controller.ClearFlows(ctx); err != nil {
		return err
	}
	links, err := p.store.LinksNotCreated()
	if err != nil {
		return err
	}
	for _, l := range links {
		l.State = aurora.LinkInactive
		l.Path = nil
	}
	return p.EstablishBundle(ctx, links)
}
