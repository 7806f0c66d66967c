// Package sdn is the port to the SDN controller that owns the physical
// OpenFlow fabric between hosts. It resolves attachment points, computes
// routes, and programs static flow entries.
package sdn

import (
	"context"
	"errors"
	"fmt"

	"github.com/ComputerNetworks-UFRGS/Aurora"
)

// DefaultPriority is the priority of every static flow entry pushed for a
// virtual link
const DefaultPriority = 32768

// ErrNotAttached is returned when no switch carries the requested port
var ErrNotAttached = errors.New("port is not attached to any switch")

type (
	// Port is a switch port as seen by the controller
	Port struct {
		Name       string `json:"name"`
		PortNumber int    `json:"portNumber"`
	}

	// Switch is an OpenFlow datapath and its ports
	Switch struct {
		DPID  string `json:"dpid"`
		Ports []Port `json:"ports"`
	}

	// Link is a discovered link between two switch ports
	Link struct {
		SrcSwitch string `json:"src-switch"`
		SrcPort   int    `json:"src-port"`
		DstSwitch string `json:"dst-switch"`
		DstPort   int    `json:"dst-port"`
	}

	// Attachment is the switch port a network endpoint is plugged into
	Attachment struct {
		Switch string
		Port   int
	}

	// RoutePoint is one element of a controller route. Routes come in
	// ingress/egress pairs per switch.
	RoutePoint struct {
		Switch string `json:"switch"`
		Port   int    `json:"port"`
	}

	// Flow is a static flow entry matching on source MAC and ingress port
	Flow struct {
		Switch      string
		Name        string
		SrcMAC      string
		IngressPort int
		OutPort     int
		Priority    int
	}

	// Controller is implemented by SDN controller clients
	Controller interface {
		Switches(ctx context.Context) ([]Switch, error)
		Links(ctx context.Context) ([]Link, error)
		// Attachment finds the switch port named portName
		Attachment(ctx context.Context, portName string) (Attachment, error)
		Route(ctx context.Context, src, dst Attachment) ([]RoutePoint, error)
		PushFlow(ctx context.Context, flow Flow) error
		DeleteFlow(ctx context.Context, sw, name string) error
		// ClearFlows removes every static flow entry on every switch
		ClearFlows(ctx context.Context) error
	}
)

func (a Attachment) String() string {
	return fmt.Sprintf("%s/%d", a.Switch, a.Port)
}

// Locate finds the switch port named portName in a switch listing
func Locate(switches []Switch, portName string) (Attachment, error) {
	for _, sw := range switches {
		for _, p := range sw.Ports {
			if p.Name == portName {
				return Attachment{Switch: sw.DPID, Port: p.PortNumber}, nil
			}
		}
	}
	return Attachment{}, ErrNotAttached
}

// Hops folds a controller route into the typed path of a link
func Hops(points []RoutePoint) ([]aurora.RouteHop, error) {
	if len(points)%2 != 0 {
		return nil, fmt.Errorf("route has an odd number of points (%d)", len(points))
	}
	hops := make([]aurora.RouteHop, 0, len(points)/2)
	for i := 0; i < len(points); i += 2 {
		in, out := points[i], points[i+1]
		if in.Switch != out.Switch {
			return nil, fmt.Errorf("route point %d leaves %s from %s", i, in.Switch, out.Switch)
		}
		hops = append(hops, aurora.RouteHop{
			Switch:  in.Switch,
			InPort:  in.Port,
			OutPort: out.Port,
		})
	}
	return hops, nil
}

// ForwardName is the name of the flow entry carrying start-to-end traffic of
// a link on a switch
func ForwardName(sw, linkID string) string {
	return sw + "." + linkID + ".f"
}

// ReverseName is the name of the flow entry carrying end-to-start traffic of
// a link on a switch
func ReverseName(sw, linkID string) string {
	return sw + "." + linkID + ".r"
}

// LinkFlows renders the forward and reverse flow entries of a link on one hop
func LinkFlows(linkID string, hop aurora.RouteHop, startMAC, endMAC string) (Flow, Flow) {
	forward := Flow{
		Switch:      hop.Switch,
		Name:        ForwardName(hop.Switch, linkID),
		SrcMAC:      startMAC,
		IngressPort: hop.InPort,
		OutPort:     hop.OutPort,
		Priority:    DefaultPriority,
	}
	reverse := Flow{
		Switch:      hop.Switch,
		Name:        ReverseName(hop.Switch, linkID),
		SrcMAC:      endMAC,
		IngressPort: hop.OutPort,
		OutPort:     hop.InPort,
		Priority:    DefaultPriority,
	}
	return forward, reverse
}
