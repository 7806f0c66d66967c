// Package topology answers hop distance questions between hosts. Distances
// count the switches a packet crosses; two guests on the same host are 1
// apart.
package topology

import (
	"context"
	"math"
	"sort"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
	log "github.com/sirupsen/logrus"
)

// Unreachable is the distance recorded for hosts with no known path
const Unreachable = math.MaxInt32

// Distancer is implemented by anything that can measure hop distance
// between two hosts by ID
type Distancer interface {
	HopDistance(a, b string) (int, error)
}

// Graph is an undirected switch graph with hosts attached to switches
type Graph struct {
	adj   map[string]map[string]bool
	hosts map[string]string
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		adj:   map[string]map[string]bool{},
		hosts: map[string]string{},
	}
}

// AddSwitch adds a switch with no links
func (g *Graph) AddSwitch(sw string) {
	if g.adj[sw] == nil {
		g.adj[sw] = map[string]bool{}
	}
}

// AddLink connects two switches in both directions
func (g *Graph) AddLink(a, b string) {
	g.AddSwitch(a)
	g.AddSwitch(b)
	if a == b {
		return
	}
	g.adj[a][b] = true
	g.adj[b][a] = true
}

// Attach records the switch a host is plugged into
func (g *Graph) Attach(hostID, sw string) {
	g.AddSwitch(sw)
	g.hosts[hostID] = sw
}

// Switch returns the switch of a host
func (g *Graph) Switch(hostID string) (string, bool) {
	sw, ok := g.hosts[hostID]
	return sw, ok
}

// HopDistance is 1 for the same host, otherwise the number of switches on
// the shortest path between the hosts' switches.
func (g *Graph) HopDistance(a, b string) (int, error) {
	if a == b {
		return 1, nil
	}
	unreachable := &aurora.TopologyUnreachableError{From: a, To: b}

	src, ok := g.hosts[a]
	if !ok {
		return Unreachable, unreachable
	}
	dst, ok := g.hosts[b]
	if !ok {
		return Unreachable, unreachable
	}

	depth := map[string]int{src: 0}
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dst {
			return depth[cur] + 1, nil
		}
		for next := range g.adj[cur] {
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = depth[cur] + 1
			queue = append(queue, next)
		}
	}
	return Unreachable, unreachable
}

// FromController builds the graph from the controller's switches and links.
// Hosts are attached to their SwitchDPID when set, otherwise to the datapath
// of their provisioning bridge.
func FromController(ctx context.Context, ctrl sdn.Controller, hosts aurora.Hosts) (*Graph, error) {
	switches, err := ctrl.Switches(ctx)
	if err != nil {
		return nil, err
	}
	links, err := ctrl.Links(ctx)
	if err != nil {
		return nil, err
	}

	g := New()
	for _, sw := range switches {
		g.AddSwitch(sw.DPID)
	}
	for _, l := range links {
		g.AddLink(l.SrcSwitch, l.DstSwitch)
	}
	for _, h := range hosts {
		if h.SwitchDPID != "" {
			g.Attach(h.ID, h.SwitchDPID)
			continue
		}
		at, err := sdn.Locate(switches, h.Bridge)
		if err != nil {
			log.WithFields(log.Fields{
				"host":   h.Name,
				"bridge": h.Bridge,
			}).Warn("host bridge not known to the controller")
			continue
		}
		g.Attach(h.ID, at.Switch)
	}
	return g, nil
}

// RouteDistance asks the controller for the route between the provisioning
// bridges of two hosts and counts the switches on it
func RouteDistance(ctx context.Context, ctrl sdn.Controller, a, b *aurora.Host) (int, error) {
	if a.ID == b.ID {
		return 1, nil
	}
	unreachable := &aurora.TopologyUnreachableError{From: a.ID, To: b.ID}

	switches, err := ctrl.Switches(ctx)
	if err != nil {
		return Unreachable, err
	}
	src, err := sdn.Locate(switches, a.Bridge)
	if err != nil {
		return Unreachable, unreachable
	}
	dst, err := sdn.Locate(switches, b.Bridge)
	if err != nil {
		return Unreachable, unreachable
	}
	route, err := ctrl.Route(ctx, src, dst)
	if err != nil {
		return Unreachable, err
	}
	if len(route) == 0 {
		return Unreachable, unreachable
	}
	return len(route) / 2, nil
}

// DistanceTable measures host against every host in hosts. Unreachable
// pairs are logged and recorded as Unreachable.
func DistanceTable(d Distancer, host *aurora.Host, hosts aurora.Hosts) map[string]int {
	table := make(map[string]int, len(hosts))
	for _, h := range hosts {
		dist, err := d.HopDistance(host.ID, h.ID)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"from":  host.Name,
				"to":    h.Name,
			}).Warn("unreachable host")
			dist = Unreachable
		}
		table[h.ID] = dist
	}
	return table
}

// Table holds all pair distances between a set of hosts, computed once per
// placement or optimization pass
type Table map[string]map[string]int

// NewTable computes all pair distances
func NewTable(d Distancer, hosts aurora.Hosts) Table {
	t := make(Table, len(hosts))
	for _, h := range hosts {
		t[h.ID] = DistanceTable(d, h, hosts)
	}
	return t
}

// HopDistance looks a pair up. Unknown pairs are unreachable.
func (t Table) HopDistance(a, b string) (int, error) {
	if a == b {
		return 1, nil
	}
	dist, ok := t[a][b]
	if !ok || dist == Unreachable {
		return Unreachable, &aurora.TopologyUnreachableError{From: a, To: b}
	}
	return dist, nil
}

// Nearest orders hosts by distance from pivot, breaking ties by name
func (t Table) Nearest(pivot string, hosts aurora.Hosts) aurora.Hosts {
	sorted := append(aurora.Hosts(nil), hosts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, _ := t.HopDistance(pivot, sorted[i].ID)
		dj, _ := t.HopDistance(pivot, sorted[j].ID)
		if di != dj {
			return di < dj
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

// Flat is a Distancer that puts every host one switch apart. It is used
// when no topology source is configured.
type Flat struct{}

// HopDistance is 1 for every pair
func (Flat) HopDistance(a, b string) (int, error) {
	return 1, nil
}
