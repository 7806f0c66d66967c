// Package fabrictest provides an in-memory fabric.Fabric for tests.
package fabrictest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/fabric"
)

// ErrInjected is returned by operations made to fail with Fail
var ErrInjected = errors.New("injected fabric failure")

type bridge struct {
	controllers []string
	ports       map[string]string // port -> patch peer, "" for plain ports
}

// Fabric keeps bridges and ports per host in memory
type Fabric struct {
	mu    sync.Mutex
	hosts map[string]map[string]*bridge
	fail  map[string]error
	calls []string
}

var _ fabric.Fabric = &Fabric{}

// New creates an empty fabric
func New() *Fabric {
	return &Fabric{
		hosts: map[string]map[string]*bridge{},
		fail:  map[string]error{},
	}
}

// Fail makes the named operation (e.g. "AddPort") fail with err. A nil err
// uses ErrInjected.
func (f *Fabric) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.fail[op] = err
}

// Calls lists the operations made, as "op host args"
func (f *Fabric) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Ports lists the ports of a bridge
func (f *Fabric) Ports(h *aurora.Host, name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.hosts[h.ID][name]
	if b == nil {
		return nil
	}
	ports := make([]string, 0, len(b.ports))
	for p := range b.ports {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}

// Peer returns the patch peer of a port
func (f *Fabric) Peer(h *aurora.Host, name, port string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b := f.hosts[h.ID][name]; b != nil {
		return b.ports[port]
	}
	return ""
}

// Controllers returns the controller targets of a bridge
func (f *Fabric) Controllers(h *aurora.Host, name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b := f.hosts[h.ID][name]; b != nil {
		return append([]string(nil), b.controllers...)
	}
	return nil
}

func (f *Fabric) begin(op string, h *aurora.Host, args ...interface{}) error {
	f.calls = append(f.calls, fmt.Sprintf("%s %s %v", op, h.Name, args))
	return f.fail[op]
}

func (f *Fabric) bridges(h *aurora.Host) map[string]*bridge {
	bs := f.hosts[h.ID]
	if bs == nil {
		bs = map[string]*bridge{}
		f.hosts[h.ID] = bs
	}
	return bs
}

func (f *Fabric) ensure(h *aurora.Host, name string) *bridge {
	bs := f.bridges(h)
	b := bs[name]
	if b == nil {
		b = &bridge{ports: map[string]string{}}
		bs[name] = b
	}
	return b
}

// EnsureBridge creates the bridge and sets its controllers
func (f *Fabric) EnsureBridge(ctx context.Context, h *aurora.Host, name string, controllers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("EnsureBridge", h, name, controllers); err != nil {
		return err
	}
	f.ensure(h, name).controllers = append([]string(nil), controllers...)
	return nil
}

// BridgeExists reports whether the bridge exists
func (f *Fabric) BridgeExists(ctx context.Context, h *aurora.Host, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BridgeExists", h, name); err != nil {
		return false, err
	}
	_, ok := f.hosts[h.ID][name]
	return ok, nil
}

// DeleteBridge removes a bridge
func (f *Fabric) DeleteBridge(ctx context.Context, h *aurora.Host, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteBridge", h, name); err != nil {
		return err
	}
	delete(f.bridges(h), name)
	return nil
}

// AddPort adds a port, creating the bridge if needed
func (f *Fabric) AddPort(ctx context.Context, h *aurora.Host, name, port string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("AddPort", h, name, port); err != nil {
		return err
	}
	f.ensure(h, name).ports[port] = ""
	return nil
}

// DelPort removes a port
func (f *Fabric) DelPort(ctx context.Context, h *aurora.Host, name, port string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DelPort", h, name, port); err != nil {
		return err
	}
	if b := f.bridges(h)[name]; b != nil {
		delete(b.ports, port)
	}
	return nil
}

// AddPatchPort adds the patch port of name towards peer
func (f *Fabric) AddPatchPort(ctx context.Context, h *aurora.Host, name, peer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("AddPatchPort", h, name, peer); err != nil {
		return err
	}
	f.ensure(h, name).ports[fabric.PatchPort(name, peer)] = fabric.PatchPort(peer, name)
	return nil
}

// DelPatchPort removes the patch port of name towards peer
func (f *Fabric) DelPatchPort(ctx context.Context, h *aurora.Host, name, peer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DelPatchPort", h, name, peer); err != nil {
		return err
	}
	if b := f.bridges(h)[name]; b != nil {
		delete(b.ports, fabric.PatchPort(name, peer))
	}
	return nil
}

// PortBridge returns the bridge holding port
func (f *Fabric) PortBridge(ctx context.Context, h *aurora.Host, port string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PortBridge", h, port); err != nil {
		return "", err
	}
	for name, b := range f.hosts[h.ID] {
		if _, ok := b.ports[port]; ok {
			return name, nil
		}
	}
	return "", nil
}
