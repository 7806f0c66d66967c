package aurora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"
)

// ImageDir is where agents keep guest disk images
var ImageDir = "/var/lib/aurora/images"

const agentTimeout = 15 * time.Second

type (
	// HTTPAgent is an Agenter that talks to the hypervisor agent of one host
	// over HTTP
	HTTPAgent struct {
		host   *Host
		client *http.Client
	}

	// ErrorHTTPCode should be used for errors resulting from an http response
	// code not matching the expected code
	ErrorHTTPCode struct {
		Expected int
		Code     int
		Body     string
	}

	defineRequest struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Image string `json:"image"`
		XML   string `json:"xml"`
	}

	migrateRequest struct {
		Dest  string   `json:"dest"`
		Flags []string `json:"flags"`
	}
)

// Error returns a string error message
func (e ErrorHTTPCode) Error() string {
	msg := fmt.Sprintf("unexpected HTTP Response Code: Expected %d, Received %d", e.Expected, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NewHTTPAgent creates an agent client for the host
func NewHTTPAgent(h *Host) (Agenter, error) {
	return &HTTPAgent{
		host: h,
		client: &http.Client{
			Timeout: agentTimeout,
		},
	}, nil
}

func (agent *HTTPAgent) url(parts ...string) string {
	return fmt.Sprintf("http://%s/%s", agent.host.AgentAddress(), path.Join(parts...))
}

// request is the generic way to hit an agent endpoint. It decodes the
// response into out when out is not nil.
func (agent *HTTPAgent) request(ctx context.Context, method, url string, expectedCode int, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := agent.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithField("error", err).Error("failed to close response body")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != expectedCode {
		return ErrorHTTPCode{Expected: expectedCode, Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (agent *HTTPAgent) fail(vm *VirtualMachine, action string, err error) error {
	if err == nil {
		return nil
	}
	return &HypervisorError{VM: vm.ID, Host: agent.host.Name, Action: action, Err: err}
}

// DomainXML renders the libvirt definition of the guest on this host
func (agent *HTTPAgent) DomainXML(vm *VirtualMachine) (string, error) {
	return DomainXML(vm, agent.host)
}

// DomainXML renders the libvirt definition of a guest attached to the
// provisioning bridge of h
func DomainXML(vm *VirtualMachine, h *Host) (string, error) {
	vis, err := vm.Interfaces()
	if err != nil {
		return "", err
	}

	name := vm.Name
	if name == "" {
		name = vm.ID
	}

	dom := &libvirtxml.Domain{
		Type: "kvm",
		Name: name,
		UUID: vm.ID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(vm.Memory),
			Unit:  "KiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Value: uint(vm.VCPU),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{Arch: "x86_64", Type: "hvm"},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{{
				Device: "disk",
				Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
				Source: &libvirtxml.DomainDiskSource{
					File: &libvirtxml.DomainDiskSourceFile{
						File: path.Join(ImageDir, vm.ID+".qcow2"),
					},
				},
				Target: &libvirtxml.DomainDiskTarget{Dev: "vda", Bus: "virtio"},
			}},
		},
	}

	for _, vi := range vis {
		iface := libvirtxml.DomainInterface{
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: h.Bridge},
			},
			VirtualPort: &libvirtxml.DomainInterfaceVirtualPort{
				Params: &libvirtxml.DomainInterfaceVirtualPortParams{
					OpenVSwitch: &libvirtxml.DomainInterfaceVirtualPortParamsOpenVSwitch{},
				},
			},
			Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
		}
		if vi.MAC != nil {
			iface.MAC = &libvirtxml.DomainInterfaceMAC{Address: vi.MAC.String()}
		}
		if vi.Target != "" {
			iface.Target = &libvirtxml.DomainInterfaceTarget{Dev: vi.Target}
		}
		dom.Devices.Interfaces = append(dom.Devices.Interfaces, iface)
	}

	return dom.Marshal()
}

// Define copies the guest's image and defines it on the hypervisor
func (agent *HTTPAgent) Define(ctx context.Context, vm *VirtualMachine) error {
	xml, err := agent.DomainXML(vm)
	if err != nil {
		return agent.fail(vm, "define", err)
	}
	req := defineRequest{
		ID:    vm.ID,
		Name:  vm.Name,
		Image: vm.ImageID,
		XML:   xml,
	}
	err = agent.request(ctx, http.MethodPost, agent.url("guests"), http.StatusAccepted, req, nil)
	return agent.fail(vm, "define", err)
}

func (agent *HTTPAgent) action(ctx context.Context, vm *VirtualMachine, action string) error {
	err := agent.request(ctx, http.MethodPost, agent.url("guests", vm.ID, action), http.StatusAccepted, nil, nil)
	return agent.fail(vm, action, err)
}

// Start boots the guest
func (agent *HTTPAgent) Start(ctx context.Context, vm *VirtualMachine) error {
	return agent.action(ctx, vm, "start")
}

// Stop forcefully powers off the guest
func (agent *HTTPAgent) Stop(ctx context.Context, vm *VirtualMachine) error {
	return agent.action(ctx, vm, "stop")
}

// Shutdown asks the guest to power off
func (agent *HTTPAgent) Shutdown(ctx context.Context, vm *VirtualMachine) error {
	return agent.action(ctx, vm, "shutdown")
}

// Resume continues a suspended guest
func (agent *HTTPAgent) Resume(ctx context.Context, vm *VirtualMachine) error {
	return agent.action(ctx, vm, "resume")
}

// Suspend pauses the guest
func (agent *HTTPAgent) Suspend(ctx context.Context, vm *VirtualMachine) error {
	return agent.action(ctx, vm, "suspend")
}

// MigrationURI is the unencrypted libvirt transport used between hypervisors
func MigrationURI(dest *Host) string {
	return fmt.Sprintf("qemu+tcp://%s/system", dest.IP)
}

// Migrate live-migrates the guest to dest, persisting it there and
// undefining it here
func (agent *HTTPAgent) Migrate(ctx context.Context, vm *VirtualMachine, dest *Host) error {
	req := migrateRequest{
		Dest:  MigrationURI(dest),
		Flags: []string{"live", "persist_dest", "undefine_source"},
	}
	err := agent.request(ctx, http.MethodPost, agent.url("guests", vm.ID, "migrate"), http.StatusAccepted, req, nil)
	return agent.fail(vm, "migrate", err)
}

// Undefine removes the guest definition from the hypervisor
func (agent *HTTPAgent) Undefine(ctx context.Context, vm *VirtualMachine) error {
	err := agent.request(ctx, http.MethodDelete, agent.url("guests", vm.ID), http.StatusAccepted, nil, nil)
	return agent.fail(vm, "undefine", err)
}

// Info retrieves information on a guest from the agent
func (agent *HTTPAgent) Info(ctx context.Context, vm *VirtualMachine) (*GuestInfo, error) {
	var info GuestInfo
	if err := agent.request(ctx, http.MethodGet, agent.url("guests", vm.ID), http.StatusOK, nil, &info); err != nil {
		return nil, agent.fail(vm, "info", err)
	}
	return &info, nil
}

// State reports the guest's run state
func (agent *HTTPAgent) State(ctx context.Context, vm *VirtualMachine) (string, error) {
	info, err := agent.Info(ctx, vm)
	if err != nil {
		return "", err
	}
	return info.State, nil
}

// Ping checks that the agent answers
func (agent *HTTPAgent) Ping(ctx context.Context) error {
	err := agent.request(ctx, http.MethodGet, agent.url("ping"), http.StatusOK, nil, nil)
	if err != nil {
		return &HypervisorError{Host: agent.host.Name, Action: "ping", Err: err}
	}
	return nil
}

// Close releases idle connections
func (agent *HTTPAgent) Close() error {
	agent.client.CloseIdleConnections()
	return nil
}
