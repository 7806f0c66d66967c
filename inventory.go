package aurora

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/lock"
	"github.com/pborman/uuid"
)

// HostLockPath is the path in the config store of per-host reservation locks
var HostLockPath = "aurora/locks/hosts/"

// DefaultCPUMultiplier is the number of vcpus offered per physical core
const DefaultCPUMultiplier = 8

// Residual is the capacity left on a host. Totals are already scaled by the
// inventory's divisor and cpu multiplier.
type Residual struct {
	CPUFree  float64 `json:"cpu_free"`
	CPUTotal float64 `json:"cpu_total"`
	MemFree  float64 `json:"mem_free"`
	MemTotal float64 `json:"mem_total"`
}

// Fits checks whether the request can be accommodated
func (r Residual) Fits(req Request) bool {
	return r.CPUFree >= float64(req.VCPU) && r.MemFree >= float64(req.Memory)
}

// Without returns the residual once req is accommodated
func (r Residual) Without(req Request) Residual {
	r.CPUFree -= float64(req.VCPU)
	r.MemFree -= float64(req.Memory)
	return r
}

// With returns the residual once req is given back
func (r Residual) With(req Request) Residual {
	r.CPUFree += float64(req.VCPU)
	r.MemFree += float64(req.Memory)
	return r
}

// Coefficient is the fuzzy headroom score in [0,1]
func (r Residual) Coefficient() float64 {
	if r.CPUTotal <= 0 || r.MemTotal <= 0 || r.CPUFree <= 0 || r.MemFree <= 0 {
		return 0
	}
	return (r.CPUFree / r.CPUTotal) * (r.MemFree / r.MemTotal)
}

// Inventory tracks per-host capacity. Allocations are derived from the hosts
// assigned to virtual machines; changes to them go through Reserve, Move and
// Release, which serialize per host.
type Inventory struct {
	context       *Context
	divisor       float64
	cpuMultiplier float64
	lockTTL       time.Duration

	mu    sync.Mutex
	hosts map[string]*sync.Mutex
}

// NewInventory creates an inventory. A divisor of 0 uses the current pool
// size; a cpuMultiplier of 0 uses DefaultCPUMultiplier.
func (c *Context) NewInventory(divisor, cpuMultiplier float64) (*Inventory, error) {
	if divisor <= 0 {
		hosts, err := c.Hosts()
		if err != nil {
			return nil, err
		}
		divisor = float64(len(hosts))
		if divisor < 1 {
			divisor = 1
		}
	}
	if cpuMultiplier <= 0 {
		cpuMultiplier = DefaultCPUMultiplier
	}
	return &Inventory{
		context:       c,
		divisor:       divisor,
		cpuMultiplier: cpuMultiplier,
		hosts:         map[string]*sync.Mutex{},
	}, nil
}

// WithLocks makes reservations also hold a kv lock per host so that
// separate processes serialize too
func (inv *Inventory) WithLocks(ttl time.Duration) *Inventory {
	inv.lockTTL = ttl
	return inv
}

// Divisor returns the oversubscription divisor in use
func (inv *Inventory) Divisor() float64 {
	return inv.divisor
}

// Total returns the scaled capacity of a host
func (inv *Inventory) Total(h *Host) Residual {
	cpu := float64(h.Cores) / inv.divisor * inv.cpuMultiplier
	mem := float64(h.Memory) / inv.divisor
	return Residual{CPUFree: cpu, CPUTotal: cpu, MemFree: mem, MemTotal: mem}
}

// ResidualCapacity is the host's total minus the requests of every virtual
// machine assigned to it
func (inv *Inventory) ResidualCapacity(h *Host) (Residual, error) {
	vms, err := h.VirtualMachines()
	if err != nil {
		return Residual{}, err
	}
	return inv.residual(h, vms, ""), nil
}

// Residuals computes the residual capacity of every host with one scan of
// the virtual machines
func (inv *Inventory) Residuals(hosts Hosts) (map[string]Residual, error) {
	byHost := map[string]VirtualMachines{}
	err := inv.context.ForEachVirtualMachine(func(vm *VirtualMachine) error {
		if vm.HostID != "" {
			byHost[vm.HostID] = append(byHost[vm.HostID], vm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	residuals := make(map[string]Residual, len(hosts))
	for _, h := range hosts {
		residuals[h.ID] = inv.residual(h, byHost[h.ID], "")
	}
	return residuals, nil
}

func (inv *Inventory) residual(h *Host, vms VirtualMachines, skip string) Residual {
	r := inv.Total(h)
	for _, vm := range vms {
		if vm.ID == skip {
			continue
		}
		r = r.Without(vm.Request())
	}
	return r
}

// Fits checks whether the host can accommodate the request right now
func (inv *Inventory) Fits(h *Host, req Request) (bool, error) {
	r, err := inv.ResidualCapacity(h)
	if err != nil {
		return false, err
	}
	return r.Fits(req), nil
}

// Reserve assigns the device to the host if it still fits once every other
// reservation on that host is accounted for
func (inv *Inventory) Reserve(ctx context.Context, h *Host, d VirtualDevice) error {
	unlock, err := inv.lock(ctx, h.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := d.Refresh(); err != nil {
		return err
	}
	if err := inv.check(h, d); err != nil {
		return err
	}
	d.assign(h.ID)
	return d.Save()
}

// Move reassigns a placed device to another host, serializing on both
func (inv *Inventory) Move(ctx context.Context, d VirtualDevice, dest *Host) error {
	unlock, err := inv.lock(ctx, d.AssignedHost(), dest.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := d.Refresh(); err != nil {
		return err
	}
	if err := inv.check(dest, d); err != nil {
		return err
	}
	d.assign(dest.ID)
	return d.Save()
}

// Release unassigns the device from its host
func (inv *Inventory) Release(ctx context.Context, d VirtualDevice) error {
	if d.AssignedHost() == "" {
		return nil
	}
	unlock, err := inv.lock(ctx, d.AssignedHost())
	if err != nil {
		return err
	}
	defer unlock()

	if err := d.Refresh(); err != nil {
		return err
	}
	d.assign("")
	return d.Save()
}

func (inv *Inventory) check(h *Host, d VirtualDevice) error {
	req := d.Request()
	if req == (Request{}) {
		return nil
	}
	vms, err := h.VirtualMachines()
	if err != nil {
		return err
	}
	if !inv.residual(h, vms, d.DeviceID()).Fits(req) {
		return &NoCapacityError{Device: DeviceLabel(d), Request: req}
	}
	return nil
}

// lock takes the per-host locks in ID order and returns the release func
func (inv *Inventory) lock(ctx context.Context, ids ...string) (func(), error) {
	seen := map[string]bool{}
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	var releases []func()
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, id := range sorted {
		mu := inv.hostMutex(id)
		mu.Lock()
		releases = append(releases, mu.Unlock)

		if inv.lockTTL <= 0 {
			continue
		}
		l, err := lock.Acquire(ctx, inv.context.kv, filepath.Join(HostLockPath, id), uuid.New(), inv.lockTTL, true)
		if err != nil {
			unlock()
			return nil, err
		}
		releases = append(releases, func() { _ = l.Release() })
	}
	return unlock, nil
}

func (inv *Inventory) hostMutex(id string) *sync.Mutex {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	mu, ok := inv.hosts[id]
	if !ok {
		mu = &sync.Mutex{}
		inv.hosts[id] = mu
	}
	return mu
}

// DeviceLabel names a device for error messages
func DeviceLabel(d VirtualDevice) string {
	if d.DeviceName() != "" {
		return string(d.Kind()) + " " + d.DeviceName()
	}
	return string(d.Kind()) + " " + d.DeviceID()
}
