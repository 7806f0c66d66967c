package optimizer

import (
	"context"

	"github.com/ComputerNetworks-UFRGS/Aurora"
)

// Balance spreads load by moving each machine to the host that would keep the
// most residual capacity once it arrives
type Balance struct{}

// Name of the policy
func (Balance) Name() string { return "balance" }

// Optimize runs one balance pass
func (b Balance) Optimize(ctx context.Context, p *Pass) (*Report, error) {
	return consolidate(ctx, p, b.Name(), func(candidate, current float64) bool {
		return candidate > current
	})
}

// Energy packs load onto fewer hosts by moving each machine to the fullest
// host that can still take it
type Energy struct{}

// Name of the policy
func (Energy) Name() string { return "energy" }

// Optimize runs one energy pass
func (e Energy) Optimize(ctx context.Context, p *Pass) (*Report, error) {
	return consolidate(ctx, p, e.Name(), func(candidate, current float64) bool {
		return candidate < current
	})
}

// consolidate evaluates every running machine on its own, recomputing
// residuals after each decision. better reports whether a candidate
// coefficient beats another; a move happens only when the best candidate
// beats the current host.
func consolidate(ctx context.Context, p *Pass, name string, better func(candidate, current float64) bool) (*Report, error) {
	report := newReport(name)

	vms, err := p.Running(ctx)
	if err != nil {
		return nil, err
	}

	for _, vm := range vms {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		residuals, err := p.Inventory.Residuals(p.Hosts)
		if err != nil {
			return report, err
		}
		current, ok := residuals[vm.HostID]
		if !ok {
			continue
		}
		score := current.Coefficient()

		var dest *aurora.Host
		for _, h := range p.fits(vm, residuals) {
			candidate := residuals[h.ID].Without(vm.Request()).Coefficient()
			if better(candidate, score) {
				dest, score = h, candidate
			}
		}
		if dest == nil {
			continue
		}
		p.migrate(ctx, report, vm, dest)
	}

	return report, nil
}
