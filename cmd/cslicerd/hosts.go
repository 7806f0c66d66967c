package main

import (
	"net/http"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/gorilla/mux"
)

// hostView adds the liveness seen by the prober to a host
type hostView struct {
	*aurora.Host
	Status string `json:"status"`
}

func viewHost(h *aurora.Host) hostView {
	return hostView{Host: h, Status: h.Status()}
}

// RegisterHostRoutes registers the host routes and handlers
func RegisterHostRoutes(prefix string, router *mux.Router, m *metrics.Metrics) {
	router.Handle(prefix, instrument(m, "hosts", ListHosts)).Methods("GET")
	router.Handle(prefix, instrument(m, "hosts", CreateHost)).Methods("POST")

	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{hostID}", instrument(m, "host", GetHost)).Methods("GET")
	sub.Handle("/{hostID}", instrument(m, "host", UpdateHost)).Methods("PATCH")
	sub.Handle("/{hostID}", instrument(m, "host", DestroyHost)).Methods("DELETE")
	sub.Handle("/{hostID}/vms", instrument(m, "host_vms", ListHostVirtualMachines)).Methods("GET")
}

// ListHosts gets a list of all hosts
func ListHosts(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)
	hosts, err := ctx.Hosts()
	if err != nil && !ctx.IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	views := make([]hostView, 0, len(hosts))
	for _, h := range hosts {
		views = append(views, viewHost(h))
	}
	hr.JSON(http.StatusOK, views)
}

// CreateHost adds a host to the pool
func CreateHost(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	h := GetContext(r).NewHost()
	if err := decode(r, h); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	if !saveHostHelper(hr, h) {
		return
	}
	hr.JSON(http.StatusCreated, viewHost(h))
}

// GetHost gets a particular host
func GetHost(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	h, ok := getHostHelper(hr, r)
	if !ok {
		return
	}
	hr.JSON(http.StatusOK, viewHost(h))
}

// UpdateHost updates a host. Its capacity may change; allocations are
// recomputed from it on the next placement.
func UpdateHost(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	h, ok := getHostHelper(hr, r)
	if !ok {
		return
	}

	id := h.ID
	if err := decode(r, h); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	// Don't allow id redefinition
	h.ID = id

	if !saveHostHelper(hr, h) {
		return
	}
	hr.JSON(http.StatusOK, viewHost(h))
}

// DestroyHost removes a host without virtual machines
func DestroyHost(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	h, ok := getHostHelper(hr, r)
	if !ok {
		return
	}
	if err := h.Destroy(); err != nil {
		hr.JSONMsg(http.StatusConflict, err.Error())
		return
	}
	hr.JSON(http.StatusOK, viewHost(h))
}

// ListHostVirtualMachines gets the virtual machines placed on a host
func ListHostVirtualMachines(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	h, ok := getHostHelper(hr, r)
	if !ok {
		return
	}
	vms, err := h.VirtualMachines()
	if err != nil && !GetContext(r).IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if vms == nil {
		vms = aurora.VirtualMachines{}
	}
	hr.JSON(http.StatusOK, vms)
}

func getHostHelper(hr HTTPResponse, r *http.Request) (*aurora.Host, bool) {
	ctx := GetContext(r)
	id := mux.Vars(r)["hostID"]
	if !validID(hr, id) {
		return nil, false
	}
	h, err := ctx.Host(id)
	if err != nil {
		notFound(hr, ctx, "host", err)
		return nil, false
	}
	return h, true
}

func saveHostHelper(hr HTTPResponse, h *aurora.Host) bool {
	if err := h.Validate(); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return false
	}
	if err := h.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return false
	}
	return true
}
