package aurora

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/pborman/uuid"
)

var (
	// VirtualLinkPath is the path in the config store
	VirtualLinkPath = "aurora/links/"
)

// Link states
const (
	LinkCreated   = "created"
	LinkWaiting   = "waiting"
	LinkEstablish = "establish"
	LinkInactive  = "inactive"
	LinkFailed    = "failed"
)

type (
	// RouteHop is one switch traversal of an established link
	RouteHop struct {
		Switch  string `json:"switch"`
		InPort  int    `json:"in_port"`
		OutPort int    `json:"out_port"`
	}

	// VirtualLinkQos bounds the bandwidth and latency of a link. Values are
	// stored for external QoS programming only.
	VirtualLinkQos struct {
		BandwidthUp   uint64 `json:"bandwidth_up"`   // kbit/s
		BandwidthDown uint64 `json:"bandwidth_down"` // kbit/s
		CommittedUp   uint8  `json:"committed_up"`   // percent of BandwidthUp
		CommittedDown uint8  `json:"committed_down"` // percent of BandwidthDown
		Latency       uint32 `json:"latency"`        // ms
	}

	// VirtualLink connects two virtual interfaces
	VirtualLink struct {
		context       *Context
		modifiedIndex uint64
		ID            string          `json:"id"`
		SliceID       string          `json:"slice"`
		IfStart       string          `json:"if_start"`
		IfEnd         string          `json:"if_end"`
		State         string          `json:"state"`
		Path          []RouteHop      `json:"path,omitempty"`
		Error         string          `json:"error,omitempty"`
		QoS           *VirtualLinkQos `json:"qos,omitempty"`
	}

	// VirtualLinks is an alias to a slice of *VirtualLink
	VirtualLinks []*VirtualLink
)

// Validate checks the committed percentages
func (q *VirtualLinkQos) Validate() error {
	if q.CommittedUp > 100 || q.CommittedDown > 100 {
		return errors.New("committed bandwidth must be a percentage")
	}
	return nil
}

// NewVirtualLink creates a new link between two interfaces
func (c *Context) NewVirtualLink(start, end *VirtualInterface) *VirtualLink {
	l := &VirtualLink{
		context: c,
		ID:      uuid.New(),
		State:   LinkCreated,
	}
	if start != nil {
		l.IfStart = start.ID
	}
	if end != nil {
		l.IfEnd = end.ID
	}
	return l
}

// VirtualLink fetches a VirtualLink from the config store
func (c *Context) VirtualLink(id string) (*VirtualLink, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid ID")
	}
	l := &VirtualLink{
		context: c,
		ID:      id,
	}
	if err := l.Refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *VirtualLink) key() string {
	return filepath.Join(VirtualLinkPath, l.ID, "metadata")
}

// Refresh reloads from the data store
func (l *VirtualLink) Refresh() error {
	index, err := l.context.load(l.key(), l)
	if err != nil {
		return err
	}
	l.modifiedIndex = index
	return nil
}

// Validate ensures a VirtualLink has reasonable data
func (l *VirtualLink) Validate() error {
	if uuid.Parse(l.ID) == nil {
		return errors.New("invalid ID")
	}
	if uuid.Parse(l.IfStart) == nil || uuid.Parse(l.IfEnd) == nil {
		return errors.New("invalid interface ID")
	}
	if l.IfStart == l.IfEnd {
		return errors.New("a link needs two distinct interfaces")
	}
	if l.SliceID != "" && uuid.Parse(l.SliceID) == nil {
		return errors.New("invalid slice ID")
	}
	switch l.State {
	case LinkCreated, LinkWaiting, LinkEstablish, LinkInactive, LinkFailed:
	default:
		return fmt.Errorf("invalid state %q", l.State)
	}
	if l.QoS != nil {
		return l.QoS.Validate()
	}
	return nil
}

// Save persists the VirtualLink to the data store
func (l *VirtualLink) Save() error {
	if l.State == "" {
		l.State = LinkCreated
	}
	if err := l.Validate(); err != nil {
		return err
	}
	index, err := l.context.save(l.key(), l, l.modifiedIndex)
	if err != nil {
		return err
	}
	l.modifiedIndex = index
	return nil
}

// Destroy removes the VirtualLink
func (l *VirtualLink) Destroy() error {
	if err := l.context.kv.Remove(l.key(), l.modifiedIndex); err != nil {
		return err
	}
	return l.context.kv.Delete(filepath.Join(VirtualLinkPath, l.ID), true)
}

// Endpoints loads both interfaces of the link
func (l *VirtualLink) Endpoints() (*VirtualInterface, *VirtualInterface, error) {
	start, err := l.context.VirtualInterface(l.IfStart)
	if err != nil {
		return nil, nil, err
	}
	end, err := l.context.VirtualInterface(l.IfEnd)
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// Devices resolves the devices on both ends of the link
func (l *VirtualLink) Devices() (VirtualDevice, VirtualDevice, error) {
	start, end, err := l.Endpoints()
	if err != nil {
		return nil, nil, err
	}
	a, err := start.Device()
	if err != nil {
		return nil, nil, err
	}
	b, err := end.Device()
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// ValidPath reports whether the recorded path can be replayed
func (l *VirtualLink) ValidPath() bool {
	if len(l.Path) == 0 {
		return false
	}
	for _, hop := range l.Path {
		if hop.Switch == "" || hop.InPort <= 0 || hop.OutPort <= 0 {
			return false
		}
	}
	return true
}

// Fail records a provisioning failure
func (l *VirtualLink) Fail(err error) {
	l.State = LinkFailed
	if err != nil {
		l.Error = err.Error()
	}
}

// ForEachVirtualLink will run f on each VirtualLink. It will stop iteration
// if f returns an error.
func (c *Context) ForEachVirtualLink(f func(*VirtualLink) error) error {
	return c.forEachID(VirtualLinkPath, func(id string) error {
		l, err := c.VirtualLink(id)
		if err != nil {
			return err
		}
		return f(l)
	})
}

// VirtualLinks returns every link matching filter, or all of them when
// filter is nil
func (c *Context) VirtualLinks(filter func(*VirtualLink) bool) (VirtualLinks, error) {
	var links VirtualLinks
	err := c.ForEachVirtualLink(func(l *VirtualLink) error {
		if filter == nil || filter(l) {
			links = append(links, l)
		}
		return nil
	})
	return links, err
}

// LinksNotCreated returns the links that have left the created state
func (c *Context) LinksNotCreated() (VirtualLinks, error) {
	return c.VirtualLinks(func(l *VirtualLink) bool {
		return l.State != LinkCreated
	})
}

// LinksOf returns the links touching any interface of a device
func (c *Context) LinksOf(deviceID string) (VirtualLinks, error) {
	vis, err := c.InterfacesOf(deviceID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(vis))
	for _, vi := range vis {
		ids[vi.ID] = true
	}
	return c.VirtualLinks(func(l *VirtualLink) bool {
		return ids[l.IfStart] || ids[l.IfEnd]
	})
}
