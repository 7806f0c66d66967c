package placement

import (
	"context"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
	log "github.com/sirupsen/logrus"
)

// Plan maps device IDs to the hosts they were assigned
type Plan map[string]string

// Pair is a linked couple of devices. The pivot is placed first without
// network scoring, then the free device is placed close to it.
type Pair struct {
	Pivot aurora.VirtualDevice
	Free  aurora.VirtualDevice
}

// Pairs turns the links of a slice into placement pairs. The endpoint with
// more links is the pivot; on equal degree the start endpoint is. Links
// whose devices are not in devices are skipped.
func Pairs(devices aurora.Devices, links aurora.VirtualLinks) ([]Pair, error) {
	byID := devices.ByID()
	type ends struct{ a, b aurora.VirtualDevice }

	degree := map[string]int{}
	resolved := make([]ends, 0, len(links))
	for _, l := range links {
		a, b, err := l.Devices()
		if err != nil {
			return nil, err
		}
		da, okA := byID[a.DeviceID()]
		db, okB := byID[b.DeviceID()]
		if !okA || !okB {
			log.WithField("link", l.ID).Warn("link leaves the slice, not used for placement")
			continue
		}
		degree[da.DeviceID()]++
		degree[db.DeviceID()]++
		resolved = append(resolved, ends{da, db})
	}

	pairs := make([]Pair, 0, len(resolved))
	for _, e := range resolved {
		p := Pair{Pivot: e.a, Free: e.b}
		if degree[e.b.DeviceID()] > degree[e.a.DeviceID()] {
			p = Pair{Pivot: e.b, Free: e.a}
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// PlaceSlice assigns every unplaced device of the slice to a host and
// reserves it. Linked devices are placed pairwise so the free device lands
// close to its pivot; devices without links are placed on headroom alone.
// Devices that already have a host keep it.
func (e *Engine) PlaceSlice(ctx context.Context, s *aurora.Slice, hosts aurora.Hosts, dist topology.Distancer) (Plan, error) {
	if len(hosts) == 0 {
		return nil, aurora.ErrNoHosts
	}
	devices, err := s.Devices()
	if err != nil {
		return nil, err
	}
	links, err := s.VirtualLinks()
	if err != nil {
		return nil, err
	}
	pairs, err := Pairs(devices, links)
	if err != nil {
		return nil, err
	}

	byID := hosts.ByID()
	for _, p := range pairs {
		if err := e.placePair(ctx, p, hosts, byID, dist); err != nil {
			return nil, err
		}
	}

	for _, d := range devices {
		if d.AssignedHost() != "" {
			continue
		}
		if _, err := e.Assign(ctx, d, hosts, nil, nil); err != nil {
			return nil, err
		}
	}

	plan := make(Plan, len(devices))
	for _, d := range devices {
		plan[d.DeviceID()] = d.AssignedHost()
	}
	return plan, nil
}

func (e *Engine) placePair(ctx context.Context, p Pair, hosts aurora.Hosts, byID map[string]*aurora.Host, dist topology.Distancer) error {
	pivot, free := p.Pivot, p.Free
	if pivot.AssignedHost() != "" && free.AssignedHost() != "" {
		return nil
	}
	if pivot.AssignedHost() == "" && free.AssignedHost() != "" {
		pivot, free = free, pivot
	}

	if pivot.AssignedHost() == "" {
		if _, err := e.Assign(ctx, pivot, hosts, nil, nil); err != nil {
			return err
		}
	}
	if free.AssignedHost() != "" {
		return nil
	}

	pivotHost := byID[pivot.AssignedHost()]
	if pivotHost == nil {
		log.WithFields(log.Fields{
			"device": aurora.DeviceLabel(pivot),
			"host":   pivot.AssignedHost(),
		}).Warn("pivot host is not a candidate, placing without network scoring")
	}
	_, err := e.Assign(ctx, free, hosts, pivotHost, dist)
	return err
}
