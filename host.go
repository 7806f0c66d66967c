package aurora

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/pborman/uuid"
)

var (
	// HostPath is the path in the config store
	HostPath = "aurora/hosts/"
)

// Host liveness as seen by the prober
const (
	HostActive  = "active"
	HostOffline = "offline"
)

// Defaults for a host's network identity
const (
	DefaultOVSDBPort = 8888
	DefaultAgentPort = 8080
)

type (
	// Host is a physical machine on which virtual machines and routers run
	Host struct {
		context       *Context
		modifiedIndex uint64
		ID            string            `json:"id"`
		Name          string            `json:"name"`
		IP            net.IP            `json:"ip"`
		Cores         uint32            `json:"cores"`
		Memory        uint64            `json:"memory"` // total memory in KB
		Bridge        string            `json:"bridge"` // provisioning bridge
		SwitchDPID    string            `json:"switch_dpid"`
		SwitchPort    int               `json:"switch_port"`
		OVSDBPort     int               `json:"ovsdb_port"`
		AgentPort     int               `json:"agent_port"`
		Metadata      map[string]string `json:"metadata"`
	}

	// Hosts is an alias to a slice of *Host
	Hosts []*Host
)

// NewHost creates a new, blank Host
func (c *Context) NewHost() *Host {
	return &Host{
		context:   c,
		ID:        uuid.New(),
		OVSDBPort: DefaultOVSDBPort,
		AgentPort: DefaultAgentPort,
		Metadata:  make(map[string]string),
	}
}

// Host fetches a Host from the config store
func (c *Context) Host(id string) (*Host, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid ID")
	}
	h := &Host{
		context: c,
		ID:      id,
	}
	if err := h.Refresh(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) key() string {
	return filepath.Join(HostPath, h.ID, "metadata")
}

func (h *Host) heartbeatKey() string {
	return filepath.Join(HostPath, h.ID, "heartbeat")
}

// Refresh reloads from the data store
func (h *Host) Refresh() error {
	index, err := h.context.load(h.key(), h)
	if err != nil {
		return err
	}
	h.modifiedIndex = index
	return nil
}

// Validate ensures a Host has reasonable data
func (h *Host) Validate() error {
	if uuid.Parse(h.ID) == nil {
		return errors.New("invalid ID")
	}
	if h.Name == "" {
		return errors.New("missing name")
	}
	if h.IP == nil {
		return errors.New("missing ip")
	}
	if h.Cores == 0 || h.Memory == 0 {
		return errors.New("cores and memory must be positive")
	}
	return nil
}

// Save persists the Host to the data store
func (h *Host) Save() error {
	if err := h.Validate(); err != nil {
		return err
	}
	if h.Bridge == "" {
		h.Bridge = "hostbr" + h.Name
	}
	if h.OVSDBPort == 0 {
		h.OVSDBPort = DefaultOVSDBPort
	}
	if h.AgentPort == 0 {
		h.AgentPort = DefaultAgentPort
	}

	index, err := h.context.save(h.key(), h, h.modifiedIndex)
	if err != nil {
		return err
	}
	h.modifiedIndex = index
	return nil
}

// Destroy removes the host and its heartbeat. Hosts that still carry
// virtual machines may not be destroyed.
func (h *Host) Destroy() error {
	vms, err := h.VirtualMachines()
	if err != nil {
		return err
	}
	if len(vms) > 0 {
		return errors.New("host has virtual machines")
	}
	if err := h.context.kv.Remove(h.key(), h.modifiedIndex); err != nil {
		return err
	}
	return h.context.kv.Delete(filepath.Join(HostPath, h.ID), true)
}

// Heartbeat announces that the host is alive for ttl
func (h *Host) Heartbeat(ttl time.Duration) error {
	return h.context.kv.TTL(h.heartbeatKey(), ttl)
}

// IsAlive checks whether the host's heartbeat is current
func (h *Host) IsAlive() bool {
	_, err := h.context.kv.Get(h.heartbeatKey())
	return err == nil
}

// Status reports active or offline based on the heartbeat
func (h *Host) Status() string {
	if h.IsAlive() {
		return HostActive
	}
	return HostOffline
}

// OVSDBAddress is the remote ovsdb target of the host's switch daemon
func (h *Host) OVSDBAddress() string {
	return fmt.Sprintf("tcp:%s:%d", h.IP, h.OVSDBPort)
}

// AgentAddress is the host:port of the host's hypervisor agent
func (h *Host) AgentAddress() string {
	return net.JoinHostPort(h.IP.String(), fmt.Sprint(h.AgentPort))
}

// VirtualMachines returns the virtual machines assigned to the host
func (h *Host) VirtualMachines() (VirtualMachines, error) {
	var vms VirtualMachines
	err := h.context.ForEachVirtualMachine(func(vm *VirtualMachine) error {
		if vm.HostID == h.ID {
			vms = append(vms, vm)
		}
		return nil
	})
	return vms, err
}

// VirtualRouters returns the virtual routers assigned to the host
func (h *Host) VirtualRouters() (VirtualRouters, error) {
	var vrs VirtualRouters
	err := h.context.ForEachVirtualRouter(func(vr *VirtualRouter) error {
		if vr.HostID == h.ID {
			vrs = append(vrs, vr)
		}
		return nil
	})
	return vrs, err
}

// ForEachHost will run f on each Host. It will stop iteration if f returns an error.
func (c *Context) ForEachHost(f func(*Host) error) error {
	return c.forEachID(HostPath, func(id string) error {
		h, err := c.Host(id)
		if err != nil {
			return err
		}
		return f(h)
	})
}

// Hosts returns every known host
func (c *Context) Hosts() (Hosts, error) {
	var hosts Hosts
	err := c.ForEachHost(func(h *Host) error {
		hosts = append(hosts, h)
		return nil
	})
	return hosts, err
}

// ByID indexes the hosts by ID
func (hs Hosts) ByID() map[string]*Host {
	m := make(map[string]*Host, len(hs))
	for _, h := range hs {
		m[h.ID] = h
	}
	return m
}
