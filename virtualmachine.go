package aurora

import (
	"errors"
	"path/filepath"

	"github.com/pborman/uuid"
)

var (
	// VirtualMachinePath is the path in the config store
	VirtualMachinePath = "aurora/vms/"
)

// Virtual machine run states as reported by the hypervisor
const (
	VMNotDeployed  = "not deployed"
	VMRunning      = "running"
	VMBlocked      = "blocked"
	VMPaused       = "paused"
	VMShuttingDown = "shutting down"
	VMShutOff      = "shut off"
	VMCrashed      = "crashed"
)

const defaultVMMemory = 512 * 1024

type (
	// VirtualMachine is a guest belonging to a slice
	VirtualMachine struct {
		context       *Context
		modifiedIndex uint64
		saved         *Request
		ID            string            `json:"id"`
		Name          string            `json:"name"`
		Memory        uint64            `json:"memory"` // KB
		VCPU          uint32            `json:"vcpu"`
		SliceID       string            `json:"slice,omitempty"`
		HostID        string            `json:"host,omitempty"` // blank until placed
		ImageID       string            `json:"image"`
		State         string            `json:"state"`
		Metadata      map[string]string `json:"metadata"`
	}

	// VirtualMachines is an alias to a slice of *VirtualMachine
	VirtualMachines []*VirtualMachine
)

// NewVirtualMachine creates a new, blank and unplaced VirtualMachine
func (c *Context) NewVirtualMachine() *VirtualMachine {
	return &VirtualMachine{
		context:  c,
		ID:       uuid.New(),
		Memory:   defaultVMMemory,
		VCPU:     1,
		State:    VMNotDeployed,
		Metadata: make(map[string]string),
	}
}

// VirtualMachine fetches a VirtualMachine from the config store
func (c *Context) VirtualMachine(id string) (*VirtualMachine, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid ID")
	}
	vm := &VirtualMachine{
		context: c,
		ID:      id,
	}
	if err := vm.Refresh(); err != nil {
		return nil, err
	}
	return vm, nil
}

func (vm *VirtualMachine) key() string {
	return filepath.Join(VirtualMachinePath, vm.ID, "metadata")
}

// Refresh reloads from the data store
func (vm *VirtualMachine) Refresh() error {
	index, err := vm.context.load(vm.key(), vm)
	if err != nil {
		return err
	}
	vm.modifiedIndex = index
	req := vm.Request()
	vm.saved = &req
	return nil
}

// Validate ensures a VirtualMachine has reasonable data
func (vm *VirtualMachine) Validate() error {
	if uuid.Parse(vm.ID) == nil {
		return errors.New("invalid ID")
	}
	if vm.Memory == 0 || vm.VCPU == 0 {
		return errors.New("memory and vcpu must be positive")
	}
	if vm.SliceID != "" && uuid.Parse(vm.SliceID) == nil {
		return errors.New("invalid slice ID")
	}
	if vm.HostID != "" && uuid.Parse(vm.HostID) == nil {
		return errors.New("invalid host ID")
	}
	if vm.saved != nil && *vm.saved != vm.Request() {
		return ErrImmutableResources
	}
	return nil
}

// Save persists the VirtualMachine to the data store
func (vm *VirtualMachine) Save() error {
	if err := vm.Validate(); err != nil {
		return err
	}
	if vm.State == "" {
		vm.State = VMNotDeployed
	}

	index, err := vm.context.save(vm.key(), vm, vm.modifiedIndex)
	if err != nil {
		return err
	}
	vm.modifiedIndex = index
	req := vm.Request()
	vm.saved = &req
	return nil
}

// Destroy removes the VirtualMachine and its interfaces
func (vm *VirtualMachine) Destroy() error {
	if err := vm.context.destroyInterfaces(vm.ID); err != nil {
		return err
	}
	if err := vm.context.kv.Remove(vm.key(), vm.modifiedIndex); err != nil {
		return err
	}
	return vm.context.kv.Delete(filepath.Join(VirtualMachinePath, vm.ID), true)
}

// DeviceID returns the ID
func (vm *VirtualMachine) DeviceID() string { return vm.ID }

// DeviceName returns the name
func (vm *VirtualMachine) DeviceName() string { return vm.Name }

// Kind is always KindVM
func (vm *VirtualMachine) Kind() DeviceKind { return KindVM }

// IsRouter is always false
func (vm *VirtualMachine) IsRouter() bool { return false }

// AssignedHost returns the host ID, empty when unplaced
func (vm *VirtualMachine) AssignedHost() string { return vm.HostID }

// Slice returns the owning slice ID
func (vm *VirtualMachine) Slice() string { return vm.SliceID }

// Request returns the resource request
func (vm *VirtualMachine) Request() Request {
	return Request{VCPU: vm.VCPU, Memory: vm.Memory}
}

func (vm *VirtualMachine) assign(hostID string) { vm.HostID = hostID }

// IsRunning checks the last known run state
func (vm *VirtualMachine) IsRunning() bool {
	return vm.State == VMRunning
}

// Interfaces returns the interfaces attached to the VirtualMachine
func (vm *VirtualMachine) Interfaces() (VirtualInterfaces, error) {
	return vm.context.InterfacesOf(vm.ID)
}

// ForEachVirtualMachine will run f on each VirtualMachine. It will stop
// iteration if f returns an error.
func (c *Context) ForEachVirtualMachine(f func(*VirtualMachine) error) error {
	return c.forEachID(VirtualMachinePath, func(id string) error {
		vm, err := c.VirtualMachine(id)
		if err != nil {
			return err
		}
		return f(vm)
	})
}

// VirtualMachines returns every virtual machine matching filter, or all of
// them when filter is nil
func (c *Context) VirtualMachines(filter func(*VirtualMachine) bool) (VirtualMachines, error) {
	var vms VirtualMachines
	err := c.ForEachVirtualMachine(func(vm *VirtualMachine) error {
		if filter == nil || filter(vm) {
			vms = append(vms, vm)
		}
		return nil
	})
	return vms, err
}
