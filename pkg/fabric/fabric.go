// Package fabric drives the Open vSwitch bridges of the hosts: the
// provisioning bridge every guest tap joins, router bridges, and the patch
// ports between them.
package fabric

import (
	"context"
	"os/exec"
	"sort"
	"strings"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/digitalocean/go-openvswitch/ovs"
	log "github.com/sirupsen/logrus"
)

// Timeout is the ovsdb timeout in seconds of every command
const Timeout = 3

// Fabric is the host network port used by provisioning and deployment
type Fabric interface {
	// EnsureBridge creates bridge if missing and points it at controllers,
	// given as ovs targets such as tcp:10.0.0.1:6633
	EnsureBridge(ctx context.Context, h *aurora.Host, bridge string, controllers []string) error
	BridgeExists(ctx context.Context, h *aurora.Host, bridge string) (bool, error)
	DeleteBridge(ctx context.Context, h *aurora.Host, bridge string) error
	AddPort(ctx context.Context, h *aurora.Host, bridge, port string) error
	DelPort(ctx context.Context, h *aurora.Host, bridge, port string) error
	// AddPatchPort adds the patch port of bridge that peers with peerBridge
	AddPatchPort(ctx context.Context, h *aurora.Host, bridge, peerBridge string) error
	DelPatchPort(ctx context.Context, h *aurora.Host, bridge, peerBridge string) error
	// PortBridge returns the bridge holding port, or "" when none does
	PortBridge(ctx context.Context, h *aurora.Host, port string) (string, error)
}

// PatchPort is the name of the patch port on bridge towards peer
func PatchPort(bridge, peer string) string {
	return bridge + "_to_" + peer
}

// ExecFunc runs a command against a host. The returned output is combined
// stdout and stderr.
type ExecFunc func(ctx context.Context, h *aurora.Host, cmd string, args ...string) ([]byte, error)

// OVS is a Fabric backed by ovs-vsctl talking to the remote ovsdb of each
// host
type OVS struct {
	exec ExecFunc
}

// NewOVS creates an OVS fabric. A nil exec runs the local ovs-vsctl binary
// with --db pointing at the host.
func NewOVS(fn ExecFunc) *OVS {
	if fn == nil {
		fn = Command
	}
	return &OVS{exec: fn}
}

// Command runs cmd locally, directing ovs-vsctl at the ovsdb of h
func Command(ctx context.Context, h *aurora.Host, cmd string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, cmd, args...).CombinedOutput()
}

func (o *OVS) client(ctx context.Context, h *aurora.Host) *ovs.Client {
	return ovs.New(
		ovs.Timeout(Timeout),
		ovs.Exec(func(cmd string, args ...string) ([]byte, error) {
			if cmd == "ovs-vsctl" {
				args = append([]string{"--db=" + h.OVSDBAddress()}, args...)
			}
			log.WithFields(log.Fields{
				"host": h.Name,
				"cmd":  cmd,
				"args": strings.Join(args, " "),
			}).Debug("ovs")
			return o.exec(ctx, h, cmd, args...)
		}),
	)
}

// vsctl runs a raw ovs-vsctl command for what the client does not cover
func (o *OVS) vsctl(ctx context.Context, h *aurora.Host, args ...string) error {
	full := append([]string{"--db=" + h.OVSDBAddress(), "--timeout=3"}, args...)
	out, err := o.exec(ctx, h, "ovs-vsctl", full...)
	if err != nil {
		return &ovs.Error{Out: out, Err: err}
	}
	return nil
}

// EnsureBridge creates the bridge and sets its controllers. An empty
// controller list removes any configured controller.
func (o *OVS) EnsureBridge(ctx context.Context, h *aurora.Host, bridge string, controllers []string) error {
	if err := o.client(ctx, h).VSwitch.AddBridge(bridge); err != nil {
		return err
	}
	if len(controllers) == 0 {
		return o.vsctl(ctx, h, "del-controller", bridge)
	}
	return o.vsctl(ctx, h, append([]string{"set-controller", bridge}, controllers...)...)
}

// BridgeExists checks whether bridge is present on the host
func (o *OVS) BridgeExists(ctx context.Context, h *aurora.Host, bridge string) (bool, error) {
	bridges, err := o.client(ctx, h).VSwitch.ListBridges()
	if err != nil {
		return false, err
	}
	sort.Strings(bridges)
	i := sort.SearchStrings(bridges, bridge)
	return i < len(bridges) && bridges[i] == bridge, nil
}

// DeleteBridge removes a bridge. A missing bridge is not an error.
func (o *OVS) DeleteBridge(ctx context.Context, h *aurora.Host, bridge string) error {
	return o.client(ctx, h).VSwitch.DeleteBridge(bridge)
}

// AddPort adds port to bridge. An existing port is not an error.
func (o *OVS) AddPort(ctx context.Context, h *aurora.Host, bridge, port string) error {
	return o.client(ctx, h).VSwitch.AddPort(bridge, port)
}

// DelPort removes port from bridge. A missing port is not an error.
func (o *OVS) DelPort(ctx context.Context, h *aurora.Host, bridge, port string) error {
	return o.client(ctx, h).VSwitch.DeletePort(bridge, port)
}

// AddPatchPort adds <bridge>_to_<peer> of type patch peering with
// <peer>_to_<bridge>
func (o *OVS) AddPatchPort(ctx context.Context, h *aurora.Host, bridge, peerBridge string) error {
	c := o.client(ctx, h)
	port := PatchPort(bridge, peerBridge)
	if err := c.VSwitch.AddPort(bridge, port); err != nil {
		return err
	}
	return c.VSwitch.Set.Interface(port, ovs.InterfaceOptions{
		Type: ovs.InterfaceTypePatch,
		Peer: PatchPort(peerBridge, bridge),
	})
}

// DelPatchPort removes the patch port of bridge towards peerBridge
func (o *OVS) DelPatchPort(ctx context.Context, h *aurora.Host, bridge, peerBridge string) error {
	return o.client(ctx, h).VSwitch.DeletePort(bridge, PatchPort(bridge, peerBridge))
}

// PortBridge finds the bridge holding port
func (o *OVS) PortBridge(ctx context.Context, h *aurora.Host, port string) (string, error) {
	bridge, err := o.client(ctx, h).VSwitch.PortToBridge(port)
	if err != nil {
		if ovs.IsPortNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return bridge, nil
}
