package aurora

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"github.com/pborman/uuid"
)

var (
	// VirtualInterfacePath is the path in the config store
	VirtualInterfacePath = "aurora/interfaces/"
)

type (
	// VirtualInterface is a network interface of a virtual machine or router
	VirtualInterface struct {
		context       *Context
		modifiedIndex uint64
		ID            string
		Alias         string
		AttachedTo    string
		DeviceKind    DeviceKind
		MAC           net.HardwareAddr
		Target        string // tap device name on the host
	}

	// VirtualInterfaces is an alias to a slice of *VirtualInterface
	VirtualInterfaces []*VirtualInterface

	// virtualInterfaceJSON is used to ease json marshal/unmarshal
	virtualInterfaceJSON struct {
		ID         string     `json:"id"`
		Alias      string     `json:"alias"`
		AttachedTo string     `json:"attached_to"`
		DeviceKind DeviceKind `json:"device_kind"`
		MAC        string     `json:"mac,omitempty"`
		Target     string     `json:"target,omitempty"`
	}
)

// MarshalJSON is a helper for marshalling a VirtualInterface
func (vi *VirtualInterface) MarshalJSON() ([]byte, error) {
	data := virtualInterfaceJSON{
		ID:         vi.ID,
		Alias:      vi.Alias,
		AttachedTo: vi.AttachedTo,
		DeviceKind: vi.DeviceKind,
		Target:     vi.Target,
	}
	if vi.MAC != nil {
		data.MAC = vi.MAC.String()
	}
	return json.Marshal(data)
}

// UnmarshalJSON is a helper for unmarshalling a VirtualInterface
func (vi *VirtualInterface) UnmarshalJSON(input []byte) error {
	data := virtualInterfaceJSON{}
	if err := json.Unmarshal(input, &data); err != nil {
		return err
	}

	vi.ID = data.ID
	vi.Alias = data.Alias
	vi.AttachedTo = data.AttachedTo
	vi.DeviceKind = data.DeviceKind
	vi.Target = data.Target
	vi.MAC = nil

	if data.MAC != "" {
		a, err := net.ParseMAC(data.MAC)
		if err != nil {
			return err
		}
		vi.MAC = a
	}
	return nil
}

// NewVirtualInterface creates a new interface attached to a device
func (c *Context) NewVirtualInterface(d VirtualDevice) *VirtualInterface {
	vi := &VirtualInterface{
		context: c,
		ID:      uuid.New(),
	}
	if d != nil {
		vi.AttachedTo = d.DeviceID()
		vi.DeviceKind = d.Kind()
	}
	return vi
}

// VirtualInterface fetches a VirtualInterface from the config store
func (c *Context) VirtualInterface(id string) (*VirtualInterface, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid ID")
	}
	vi := &VirtualInterface{
		context: c,
		ID:      id,
	}
	if err := vi.Refresh(); err != nil {
		return nil, err
	}
	return vi, nil
}

func (vi *VirtualInterface) key() string {
	return filepath.Join(VirtualInterfacePath, vi.ID, "metadata")
}

// Refresh reloads from the data store
func (vi *VirtualInterface) Refresh() error {
	index, err := vi.context.load(vi.key(), vi)
	if err != nil {
		return err
	}
	vi.modifiedIndex = index
	return nil
}

// Validate ensures a VirtualInterface has reasonable data
func (vi *VirtualInterface) Validate() error {
	if uuid.Parse(vi.ID) == nil {
		return errors.New("invalid ID")
	}
	if uuid.Parse(vi.AttachedTo) == nil {
		return errors.New("invalid device ID")
	}
	if vi.DeviceKind != KindVM && vi.DeviceKind != KindRouter {
		return fmt.Errorf("invalid device kind %q", vi.DeviceKind)
	}
	return nil
}

// Save persists the VirtualInterface to the data store
func (vi *VirtualInterface) Save() error {
	if err := vi.Validate(); err != nil {
		return err
	}
	index, err := vi.context.save(vi.key(), vi, vi.modifiedIndex)
	if err != nil {
		return err
	}
	vi.modifiedIndex = index
	return nil
}

// Destroy removes the VirtualInterface
func (vi *VirtualInterface) Destroy() error {
	if err := vi.context.kv.Remove(vi.key(), vi.modifiedIndex); err != nil {
		return err
	}
	return vi.context.kv.Delete(filepath.Join(VirtualInterfacePath, vi.ID), true)
}

// Device resolves the device the interface belongs to
func (vi *VirtualInterface) Device() (VirtualDevice, error) {
	return vi.context.Device(vi.DeviceKind, vi.AttachedTo)
}

// PortName is the name the interface has on a host bridge: the tap device
// for virtual machines, the alias otherwise
func (vi *VirtualInterface) PortName() string {
	if vi.Target != "" {
		return vi.Target
	}
	return vi.Alias
}

// ForEachVirtualInterface will run f on each VirtualInterface. It will stop
// iteration if f returns an error.
func (c *Context) ForEachVirtualInterface(f func(*VirtualInterface) error) error {
	return c.forEachID(VirtualInterfacePath, func(id string) error {
		vi, err := c.VirtualInterface(id)
		if err != nil {
			return err
		}
		return f(vi)
	})
}

// InterfacesOf returns the interfaces attached to a device
func (c *Context) InterfacesOf(deviceID string) (VirtualInterfaces, error) {
	var vis VirtualInterfaces
	err := c.ForEachVirtualInterface(func(vi *VirtualInterface) error {
		if vi.AttachedTo == deviceID {
			vis = append(vis, vi)
		}
		return nil
	})
	return vis, err
}

func (c *Context) destroyInterfaces(deviceID string) error {
	vis, err := c.InterfacesOf(deviceID)
	if err != nil {
		return err
	}
	for _, vi := range vis {
		if err := vi.Destroy(); err != nil && !c.IsKeyNotFound(err) {
			return err
		}
	}
	return nil
}
