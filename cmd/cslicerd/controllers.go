package main

import (
	"net/http"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/gorilla/mux"
)

// RegisterControllerRoutes registers the remote controller routes and
// handlers
func RegisterControllerRoutes(prefix string, router *mux.Router, m *metrics.Metrics) {
	router.Handle(prefix, instrument(m, "controllers", ListControllers)).Methods("GET")
	router.Handle(prefix, instrument(m, "controllers", CreateController)).Methods("POST")

	sub := router.PathPrefix(prefix).Subrouter()
	sub.Handle("/{controllerID}", instrument(m, "controller", GetController)).Methods("GET")
	sub.Handle("/{controllerID}", instrument(m, "controller", DestroyController)).Methods("DELETE")
}

// ListControllers gets a list of all remote controllers
func ListControllers(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)
	rcs := make(aurora.RemoteControllers, 0)
	err := ctx.ForEachRemoteController(func(rc *aurora.RemoteController) error {
		rcs = append(rcs, rc)
		return nil
	})
	if err != nil && !ctx.IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusOK, rcs)
}

// CreateController registers a remote controller routers may point at
func CreateController(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	rc := GetContext(r).NewRemoteController()
	if err := decode(r, rc); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	if err := rc.Validate(); err != nil {
		hr.JSONMsg(http.StatusBadRequest, err.Error())
		return
	}
	if err := rc.Save(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusCreated, rc)
}

// GetController gets a particular remote controller
func GetController(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	rc, ok := getControllerHelper(hr, r)
	if !ok {
		return
	}
	hr.JSON(http.StatusOK, rc)
}

// DestroyController removes a remote controller no router uses
func DestroyController(w http.ResponseWriter, r *http.Request) {
	hr := HTTPResponse{w}
	ctx := GetContext(r)
	rc, ok := getControllerHelper(hr, r)
	if !ok {
		return
	}

	users, err := ctx.VirtualRouters(func(vr *aurora.VirtualRouter) bool {
		return contains(vr.Controllers, rc.ID)
	})
	if err != nil && !ctx.IsKeyNotFound(err) {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	if len(users) > 0 {
		hr.JSONMsg(http.StatusConflict, "controller is in use")
		return
	}

	if err := rc.Destroy(); err != nil {
		hr.JSONError(http.StatusInternalServerError, err)
		return
	}
	hr.JSON(http.StatusOK, rc)
}

func getControllerHelper(hr HTTPResponse, r *http.Request) (*aurora.RemoteController, bool) {
	ctx := GetContext(r)
	id := mux.Vars(r)["controllerID"]
	if !validID(hr, id) {
		return nil, false
	}
	rc, err := ctx.RemoteController(id)
	if err != nil {
		notFound(hr, ctx, "controller", err)
		return nil, false
	}
	return rc, true
}
