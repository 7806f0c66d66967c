// Package sdntest provides an in-memory sdn.Controller for tests.
package sdntest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
)

// ErrInjected is the default failure returned by FailPush
var ErrInjected = errors.New("injected controller failure")

// Controller keeps switches, links and static flows in memory. Routes are
// computed by breadth first search over the links.
type Controller struct {
	mu        sync.Mutex
	switches  map[string][]sdn.Port
	links     []sdn.Link
	flows     map[string]sdn.Flow
	deleted   []string
	pushes    int
	failAfter int
	failErr   error
	noRoute   bool
	clears    int
}

// New creates an empty controller
func New() *Controller {
	return &Controller{
		switches:  map[string][]sdn.Port{},
		flows:     map[string]sdn.Flow{},
		failAfter: -1,
	}
}

func flowKey(sw, name string) string {
	return sw + "/" + name
}

// AddSwitch registers a datapath with its named ports
func (c *Controller) AddSwitch(dpid string, ports ...sdn.Port) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switches[dpid] = append(c.switches[dpid], ports...)
}

// AddLink connects two switch ports
func (c *Controller) AddLink(a string, aPort int, b string, bPort int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links = append(c.links, sdn.Link{SrcSwitch: a, SrcPort: aPort, DstSwitch: b, DstPort: bPort})
}

// FailPush makes every push after the first n succeed fail with err. A nil
// err uses ErrInjected.
func (c *Controller) FailPush(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	c.failAfter = n
	c.failErr = err
}

// NoRoute makes Route return an empty path
func (c *Controller) NoRoute(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noRoute = on
}

// Flows returns the installed flows keyed by name
func (c *Controller) Flows() map[string]sdn.Flow {
	c.mu.Lock()
	defer c.mu.Unlock()
	flows := make(map[string]sdn.Flow, len(c.flows))
	for _, f := range c.flows {
		flows[f.Name] = f
	}
	return flows
}

// Deleted returns the names of deleted flows in order
func (c *Controller) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// Clears counts ClearFlows calls
func (c *Controller) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// Switches lists the datapaths sorted by dpid
func (c *Controller) Switches(ctx context.Context) ([]sdn.Switch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switches := make([]sdn.Switch, 0, len(c.switches))
	for dpid, ports := range c.switches {
		switches = append(switches, sdn.Switch{DPID: dpid, Ports: append([]sdn.Port(nil), ports...)})
	}
	sort.Slice(switches, func(i, j int) bool { return switches[i].DPID < switches[j].DPID })
	return switches, nil
}

// Links lists the switch links
func (c *Controller) Links(ctx context.Context) ([]sdn.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sdn.Link(nil), c.links...), nil
}

// Attachment finds the switch port named portName
func (c *Controller) Attachment(ctx context.Context, portName string) (sdn.Attachment, error) {
	switches, err := c.Switches(ctx)
	if err != nil {
		return sdn.Attachment{}, err
	}
	return sdn.Locate(switches, portName)
}

type edge struct {
	to      string
	outPort int
	inPort  int
}

// Route returns the ingress/egress pairs of the shortest path
func (c *Controller) Route(ctx context.Context, src, dst sdn.Attachment) ([]sdn.RoutePoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noRoute {
		return nil, nil
	}

	adj := map[string][]edge{}
	for _, l := range c.links {
		adj[l.SrcSwitch] = append(adj[l.SrcSwitch], edge{to: l.DstSwitch, outPort: l.SrcPort, inPort: l.DstPort})
		adj[l.DstSwitch] = append(adj[l.DstSwitch], edge{to: l.SrcSwitch, outPort: l.DstPort, inPort: l.SrcPort})
	}

	type step struct {
		from string
		edge edge
	}
	prev := map[string]step{src.Switch: {}}
	queue := []string{src.Switch}
	for len(queue) > 0 && queue[0] != dst.Switch {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range adj[cur] {
			if _, seen := prev[e.to]; seen {
				continue
			}
			prev[e.to] = step{from: cur, edge: e}
			queue = append(queue, e.to)
		}
	}
	if _, ok := prev[dst.Switch]; !ok {
		return nil, nil
	}

	// walk back from the destination
	points := []sdn.RoutePoint{{Switch: dst.Switch, Port: dst.Port}}
	for cur := dst.Switch; cur != src.Switch; {
		s := prev[cur]
		points = append(points,
			sdn.RoutePoint{Switch: cur, Port: s.edge.inPort},
			sdn.RoutePoint{Switch: s.from, Port: s.edge.outPort},
		)
		cur = s.from
	}
	points = append(points, sdn.RoutePoint{Switch: src.Switch, Port: src.Port})

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// PushFlow installs a flow
func (c *Controller) PushFlow(ctx context.Context, flow sdn.Flow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter >= 0 && c.pushes >= c.failAfter {
		return c.failErr
	}
	c.pushes++
	c.flows[flowKey(flow.Switch, flow.Name)] = flow
	return nil
}

// DeleteFlow removes a flow
func (c *Controller) DeleteFlow(ctx context.Context, sw, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flows, flowKey(sw, name))
	c.deleted = append(c.deleted, name)
	return nil
}

// ClearFlows removes every flow
func (c *Controller) ClearFlows(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows = map[string]sdn.Flow{}
	c.clears++
	return nil
}
