package optimizer

import (
	"context"
	"sort"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
	log "github.com/sirupsen/logrus"
)

// Hops moves machines closer to the machines they are linked to, worst
// links first
type Hops struct{}

// Name of the policy
func (Hops) Name() string { return "hops" }

// pair is a link between two running machines
type pair struct {
	link       string
	start, end string
	distance   int
}

// peering is the link graph between running machines
type peering struct {
	vms   map[string]*aurora.VirtualMachine
	peers map[string][]string
	pairs []pair
}

func (p *Pass) peering(ctx context.Context) (*peering, error) {
	vms, err := p.Running(ctx)
	if err != nil {
		return nil, err
	}
	g := &peering{
		vms:   make(map[string]*aurora.VirtualMachine, len(vms)),
		peers: map[string][]string{},
	}
	for _, vm := range vms {
		g.vms[vm.ID] = vm
	}

	links, err := p.Store.VirtualLinks(func(l *aurora.VirtualLink) bool {
		return p.SliceID == "" || l.SliceID == p.SliceID
	})
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		a, b, err := l.Devices()
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"link":  l.ID,
			}).Warn("unable to resolve link devices")
			continue
		}
		if g.vms[a.DeviceID()] == nil || g.vms[b.DeviceID()] == nil || a.DeviceID() == b.DeviceID() {
			continue
		}
		g.pairs = append(g.pairs, pair{link: l.ID, start: a.DeviceID(), end: b.DeviceID()})
		g.peers[a.DeviceID()] = append(g.peers[a.DeviceID()], b.DeviceID())
		g.peers[b.DeviceID()] = append(g.peers[b.DeviceID()], a.DeviceID())
	}
	return g, nil
}

func (g *peering) degree(id string) int {
	return len(g.peers[id])
}

// cost is the sum and the longest of the distances from host to every peer
// of the machine
func (p *Pass) cost(g *peering, vm *aurora.VirtualMachine, host string) (int, int) {
	sum, longest := 0, 0
	for _, id := range g.peers[vm.ID] {
		d, err := p.Distances.HopDistance(host, g.vms[id].HostID)
		if err != nil {
			d = topology.Unreachable
		}
		sum += d
		if d > longest {
			longest = d
		}
	}
	return sum, longest
}

func (p *Pass) distance(a, b string) int {
	d, err := p.Distances.HopDistance(a, b)
	if err != nil {
		return topology.Unreachable
	}
	return d
}

// Optimize runs one hop minimizing pass
func (hp Hops) Optimize(ctx context.Context, p *Pass) (*Report, error) {
	report := newReport(hp.Name())

	g, err := p.peering(ctx)
	if err != nil {
		return nil, err
	}

	var pairs []pair
	for _, pr := range g.pairs {
		pr.distance = p.distance(g.vms[pr.start].HostID, g.vms[pr.end].HostID)
		if pr.distance > 1 {
			pairs = append(pairs, pr)
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].distance > pairs[j].distance
	})

	migrated := map[string]bool{}
	pivots := map[string]bool{}

	for _, pr := range pairs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pivot, free := g.vms[pr.end], g.vms[pr.start]
		if g.degree(pr.start) > g.degree(pr.end) {
			pivot, free = free, pivot
		}
		if migrated[free.ID] || pivots[free.ID] {
			continue
		}
		pivots[pivot.ID] = true

		// earlier moves in this pass may have changed either side
		if err := pivot.Refresh(); err != nil {
			return report, err
		}
		if err := free.Refresh(); err != nil {
			return report, err
		}
		if p.distance(pivot.HostID, free.HostID) <= 1 {
			continue
		}

		dest := p.closer(g, free, pivot)
		if dest == nil {
			continue
		}
		if p.migrate(ctx, report, free, dest) {
			migrated[free.ID] = true
		}
	}

	return report, nil
}

// closer finds the host that minimizes the machine's distance to its peers,
// then the longest of those distances. nil means no host strictly improves
// on the current one.
func (p *Pass) closer(g *peering, vm, pivot *aurora.VirtualMachine) *aurora.Host {
	residuals, err := p.Inventory.Residuals(p.Hosts)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"vm":    vm.ID,
		}).Error("unable to compute residuals")
		return nil
	}

	candidates := p.fits(vm, residuals)
	sort.SliceStable(candidates, func(i, j int) bool {
		return p.distance(pivot.HostID, candidates[i].ID) < p.distance(pivot.HostID, candidates[j].ID)
	})

	bestSum, bestLongest := p.cost(g, vm, vm.HostID)
	var dest *aurora.Host
	for _, h := range candidates {
		sum, longest := p.cost(g, vm, h.ID)
		if sum < bestSum || (sum == bestSum && longest < bestLongest) {
			dest, bestSum, bestLongest = h, sum, longest
		}
	}
	return dest
}
