package main

import (
	"fmt"
	"net/http"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/orchestrator"
	"github.com/gorilla/mux"
)

// RegisterSliceRoutes registers the slice routes and handlers
func RegisterSliceRoutes(prefix string, router *mux.Router, m *metrics.Metrics) {
	router.Handle(prefix, instrument(m, "slices", ListSlices)).Methods("GET")
	router.Handle(prefix, instrument(m, "slices", CreateSlice)).Methods("POST")

	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{sliceID}", instrument(m, "slice", GetSlice)).Methods("GET")
	sub.Handle("/{sliceID}", instrument(m, "slice", UpdateSlice)).Methods("PATCH")
	sub.Handle("/{sliceID}", instrument(m, "slice", DeleteSlice)).Methods("DELETE")
	sub.Handle("/{sliceID}/deploy", instrument(m, "deploy", DeploySlice)).Methods("POST")
	sub.Handle("/{sliceID}/vms", instrument(m, "slice_vms", ListSliceVirtualMachines)).Methods("GET")
	sub.Handle("/{sliceID}/vms", instrument(m, "slice_vms", CreateVirtualMachine)).Methods("POST")
	sub.Handle("/{sliceID}/routers", instrument(m, "slice_routers", ListSliceVirtualRouters)).Methods("GET")
	sub.Handle("/{sliceID}/routers", instrument(m, "slice_routers", CreateVirtualRouter)).Methods("POST")
	sub.Handle("/{sliceID}/links", instrument(m, "slice_links", ListSliceVirtualLinks)).Methods("GET")
	sub.Handle("/{sliceID}/links", instrument(m, "slice_links", CreateVirtualLink)).Methods("POST")

	router.Handle("/programs", instrument(m, "programs", ListPrograms)).Methods("GET")
}

// ListSlices gets a list of all slices
func ListSlices(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)
	slices := make(aurora.Slices, 0)
	err := ctx.ForEachSlice(func(s *aurora.Slice) error {
		slices = append(slices, s)
		return nil
	})
	if err != nil && !ctx.IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusOK, slices)
}

// CreateSlice creates a new slice
func CreateSlice(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)

	s := ctx.NewSlice()
	if err := decode(r, s); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	s.State = aurora.SliceCreated
	s.DeployedWith = ""

	if !saveSliceHelper(hr, s) {
		return
	}
	hr.JSON(http.StatusCreated, s)
}

// GetSlice gets a particular slice
func GetSlice(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}
	hr.JSON(http.StatusOK, s)
}

// UpdateSlice updates the name and programs of a slice
func UpdateSlice(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}

	id, state, deployedWith := s.ID, s.State, s.DeployedWith
	if err := decode(r, s); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	// Don't allow id or state changes
	s.ID, s.State, s.DeployedWith = id, state, deployedWith

	if !saveSliceHelper(hr, s) {
		return
	}
	hr.JSON(http.StatusOK, s)
}

// DeleteSlice queues the teardown and removal of a slice
func DeleteSlice(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}
	if _, ok := queueJob(hr, r, jobqueue.ActionDelete, s.ID, ""); !ok {
		return
	}
	hr.JSON(http.StatusAccepted, s)
}

// DeploySlice queues the deployment of a slice
func DeploySlice(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}
	if s.State == aurora.SliceDisabled {
		hr.JSONMsg(http.StatusConflict, "slice is disabled")
		return
	}
	if _, ok := queueJob(hr, r, jobqueue.ActionDeploy, s.ID, ""); !ok {
		return
	}
	hr.JSON(http.StatusAccepted, s)
}

// ListSliceVirtualMachines gets the virtual machines of a slice
func ListSliceVirtualMachines(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}
	vms, err := s.VirtualMachines()
	if err != nil && !GetContext(r).IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if vms == nil {
		vms = aurora.VirtualMachines{}
	}
	hr.JSON(http.StatusOK, vms)
}

// ListSliceVirtualRouters gets the virtual routers of a slice
func ListSliceVirtualRouters(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}
	vrs, err := s.VirtualRouters()
	if err != nil && !GetContext(r).IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if vrs == nil {
		vrs = aurora.VirtualRouters{}
	}
	hr.JSON(http.StatusOK, vrs)
}

// ListSliceVirtualLinks gets the virtual links of a slice
func ListSliceVirtualLinks(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	s, ok := getSliceHelper(hr, r)
	if !ok {
		return
	}
	links, err := s.VirtualLinks()
	if err != nil && !GetContext(r).IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if links == nil {
		links = aurora.VirtualLinks{}
	}
	hr.JSON(http.StatusOK, links)
}

// ListPrograms gets the registered deployment and optimization programs
func ListPrograms(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	deploy, optimize := orchestrator.Programs()
	hr.JSON(http.StatusOK, map[string][]string{
		"deployment":   deploy,
		"optimization": optimize,
	})
}

func getSliceHelper(hr HTTPResponse, r *http.Request) (*aurora.Slice, bool) {
	ctx := GetContext(r)
	id := mux.Vars(r)["sliceID"]
	if !validID(hr, id) {
		return nil, false
	}
	s, err := ctx.Slice(id)
	if err != nil {
		notFound(hr, ctx, "slice", err)
		return nil, false
	}
	return s, true
}

func saveSliceHelper(hr HTTPResponse, s *aurora.Slice) bool {
	if err := checkPrograms(s); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return false
	}
	if err := s.Validate(); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return false
	}
	if err := s.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return false
	}
	return true
}

// checkPrograms makes sure every program the slice names is registered
func checkPrograms(s *aurora.Slice) error {
	deploy, optimize := orchestrator.Programs()
	if s.DeploymentProgram != "" && !contains(deploy, s.DeploymentProgram) {
		return fmt.Errorf("unknown deployment program %q", s.DeploymentProgram)
	}
	for _, p := range s.OptimizationPrograms {
		if !contains(optimize, p.Name) {
			return fmt.Errorf("unknown optimization program %q", p.Name)
		}
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
