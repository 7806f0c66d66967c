package main

import (
	"errors"
	"net"
	"net/http"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/gorilla/mux"
	"github.com/pborman/uuid"
)

// linkRequest names the two devices to connect. An interface is created on
// each of them for the link.
type linkRequest struct {
	Start string                 `json:"start"`
	End   string                 `json:"end"`
	QoS   *aurora.VirtualLinkQos `json:"qos,omitempty"`
}

var errNotInSlice = errors.New("device does not belong to the slice")

// RegisterVirtualMachineRoutes registers the virtual machine routes and
// handlers
func RegisterVirtualMachineRoutes(prefix string, router *mux.Router, m *metrics.Metrics) {
	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{vmID}", instrument(m, "vm", GetVirtualMachine)).Methods("GET")
	sub.Handle("/{vmID}/interfaces", instrument(m, "vm_interfaces", ListVirtualMachineInterfaces)).Methods("GET")
	sub.Handle("/{vmID}/{action}", instrument(m, "vm_action", VirtualMachineAction)).Methods("POST")
}

// CreateVirtualMachine adds an unplaced virtual machine to a slice
func CreateVirtualMachine(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}

	vm := GetContext(r).NewVirtualMachine()
	if err := decode(r, vm); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	vm.SliceID = s.ID
	vm.HostID = ""
	vm.State = aurora.VMNotDeployed

	if err := vm.Validate(); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	if err := vm.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusCreated, vm)
}

// CreateVirtualRouter adds an unplaced virtual router to a slice
func CreateVirtualRouter(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}

	vr := ctx.NewVirtualRouter()
	if err := decode(r, vr); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	vr.SliceID = s.ID
	vr.HostID = ""
	vr.Deployed = false

	for _, id := range vr.Controllers {
		if _, err := ctx.RemoteController(id); err != nil {
			if ctx.IsKeyNotFound(err) {
				hr.JSONMsg(http.StatusBadRequest, "unknown controller "+id)
			} else {
				hr.JSONMsg(http.StatusBadRequest, err.Error())
			}
			return
		}
	}

	if err := vr.Validate(); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	if err := vr.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusCreated, vr)
}

// CreateVirtualLink connects two devices of a slice
func CreateVirtualLink(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}

	req := linkRequest{}
	if err := decode(r, &req); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	if req.Start == req.End {
		hr.JSONMsg(http.StatusBadRequest, "a link needs two distinct devices")
		return
	}
	if req.QoS != nil {
		if err := req.QoS.Validate(); err != nil {
			hr.JSONMsg(http.StatusBadRequest, err.Error())
			return
		}
	}

	devices := make([]aurora.VirtualDevice, 0, 2)
	for _, id := range []string{req.Start, req.End} {
		d, err := sliceDevice(ctx, s, id)
		if err != nil {
			if ctx.IsKeyNotFound(err) {
				hr.JSONMsg(http.StatusNotFound, "device not found")
			} else {
				hr.JSONMsg(http.StatusBadRequest, err.Error())
			}
			return
		}
		devices = append(devices, d)
	}

	start, err := newInterface(ctx, devices[0])
	if err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	end, err := newInterface(ctx, devices[1])
	if err != nil {
		_ = start.Destroy()
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}

	l := ctx.NewVirtualLink(start, end)
	l.SliceID = s.ID
	l.QoS = req.QoS
	if err := l.Save(); err != nil {
		_ = start.Destroy()
		_ = end.Destroy()
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusCreated, l)
}

// GetVirtualMachine gets a particular virtual machine
func GetVirtualMachine(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	vm, ok := getVirtualMachineHelper(hr, r)
	if !ok {
		return
	}
	hr.JSON(http.StatusOK, vm)
}

// ListVirtualMachineInterfaces gets the interfaces of a virtual machine
func ListVirtualMachineInterfaces(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	vm, ok := getVirtualMachineHelper(hr, r)
	if !ok {
		return
	}
	vis, err := vm.Interfaces()
	if err != nil && !GetContext(r).IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if vis == nil {
		vis = aurora.VirtualInterfaces{}
	}
	hr.JSON(http.StatusOK, vis)
}

// VirtualMachineAction queues a lifecycle action on a virtual machine
func VirtualMachineAction(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	action := mux.Vars(r)["action"]
	if !jobqueue.VMActions[action] {
		hr.JSONMsg(http.StatusBadRequest, "invalid action")
		return
	}

	vm, ok := getVirtualMachineHelper(hr, r)
	if !ok {
		return
	}
	if vm.HostID == "" {
		hr.JSONMsg(http.StatusConflict, "virtual machine is not deployed")
		return
	}

	if _, ok := queueJob(hr, r, action, vm.SliceID, vm.ID); !ok {
		return
	}
	hr.JSON(http.StatusAccepted, vm)
}

func getVirtualMachineHelper(hr HTTPResponse, r *http.Request) (*aurora.VirtualMachine, bool) {
	ctx := GetContext(r)
	id := mux.Vars(r)["vmID"]
	if !validID(hr, id) {
		return nil, false
	}
	vm, err := ctx.VirtualMachine(id)
	if err != nil {
		notFound(hr, ctx, "virtual machine", err)
		return nil, false
	}
	return vm, true
}

// sliceDevice loads the virtual machine or router id and checks that it
// belongs to s
func sliceDevice(ctx *aurora.Context, s *aurora.Slice, id string) (aurora.VirtualDevice, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid device id")
	}

	var d aurora.VirtualDevice
	vm, err := ctx.VirtualMachine(id)
	switch {
	case err == nil:
		d = vm
	case ctx.IsKeyNotFound(err):
		vr, err := ctx.VirtualRouter(id)
		if err != nil {
			return nil, err
		}
		d = vr
	default:
		return nil, err
	}

	if d.Slice() != s.ID {
		return nil, errNotInSlice
	}
	return d, nil
}

// newInterface saves a new interface on d. Machine interfaces get a locally
// administered MAC and a tap device named after the interface.
func newInterface(ctx *aurora.Context, d aurora.VirtualDevice) (*aurora.VirtualInterface, error) {
	vi := ctx.NewVirtualInterface(d)
	vi.Alias = "vi" + vi.ID[:8]
	if !d.IsRouter() {
		id := uuid.Parse(vi.ID)
		vi.MAC = net.HardwareAddr{0x52, 0x54, 0x00, id[0], id[1], id[2]}
		vi.Target = "tap" + vi.ID[:8]
	}
	return vi, vi.Save()
}
