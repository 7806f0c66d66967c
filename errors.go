package aurora

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHosts is returned when the pool has no hosts at all
	ErrNoHosts = errors.New("no hosts")
	// ErrImmutableResources is returned when saving a VM whose memory or vcpu
	// request changed after it was first saved
	ErrImmutableResources = errors.New("memory and vcpu may not change after creation")

	errPoolClosed = errors.New("agent pool closed")
)

// NoCapacityError means no host satisfies the resource request of a device.
// It aborts the deployment of the device's slice.
type NoCapacityError struct {
	Device string
	Request
}

func (e *NoCapacityError) Error() string {
	return fmt.Sprintf("no host can fit %s (vcpu=%d, memory=%dKB)", e.Device, e.VCPU, e.Memory)
}

// TopologyUnreachableError means no path is known between two hosts. It is
// used as a scoring penalty and is not fatal during placement.
type TopologyUnreachableError struct {
	From string
	To   string
}

func (e *TopologyUnreachableError) Error() string {
	return fmt.Sprintf("no known path between %s and %s", e.From, e.To)
}

// LinkProvisioningError is a failed controller or bridge call while
// establishing or tearing down a virtual link.
type LinkProvisioningError struct {
	Link string
	Err  error
}

func (e *LinkProvisioningError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Link, e.Err)
}

// Cause returns the underlying failure
func (e *LinkProvisioningError) Cause() error {
	return e.Err
}

// HypervisorError wraps a failed VM lifecycle call
type HypervisorError struct {
	VM     string
	Host   string
	Action string
	Err    error
}

func (e *HypervisorError) Error() string {
	return fmt.Sprintf("hypervisor %s: %s %s: %v", e.Host, e.Action, e.VM, e.Err)
}

// Cause returns the underlying failure
func (e *HypervisorError) Cause() error {
	return e.Err
}

// ConfigurationError is a request the design does not support, such as a
// virtual link between routers on different hosts. It is rejected before any
// call is made.
type ConfigurationError struct {
	Entity string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}
