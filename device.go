package aurora

import "fmt"

// DeviceKind tells which variant a VirtualDevice is
type DeviceKind string

// Device kinds
const (
	KindVM     DeviceKind = "vm"
	KindRouter DeviceKind = "router"
)

// Request is the resource request of a device
type Request struct {
	VCPU   uint32 `json:"vcpu"`
	Memory uint64 `json:"memory"` // KB
}

// VirtualDevice is a placeable virtual machine or router. The variant is
// fixed when the device is loaded.
type VirtualDevice interface {
	DeviceID() string
	DeviceName() string
	Kind() DeviceKind
	IsRouter() bool
	// AssignedHost is the ID of the host the device is placed on, empty when
	// unplaced
	AssignedHost() string
	Slice() string
	Request() Request
	Refresh() error
	Save() error

	assign(hostID string)
}

// Device loads a virtual device of the given kind
func (c *Context) Device(kind DeviceKind, id string) (VirtualDevice, error) {
	switch kind {
	case KindVM:
		return c.VirtualMachine(id)
	case KindRouter:
		return c.VirtualRouter(id)
	}
	return nil, fmt.Errorf("unknown device kind %q", kind)
}

// Devices is an alias to a slice of VirtualDevice
type Devices []VirtualDevice

// ByID indexes the devices by ID
func (ds Devices) ByID() map[string]VirtualDevice {
	m := make(map[string]VirtualDevice, len(ds))
	for _, d := range ds {
		m[d.DeviceID()] = d
	}
	return m
}
