package aurora

import (
	"errors"
	"path/filepath"

	"github.com/pborman/uuid"
)

var (
	// VirtualRouterPath is the path in the config store
	VirtualRouterPath = "aurora/routers/"
)

// Control plane types
const (
	CPOpenFlow = "openflow"
	CPStatic   = "static"
)

type (
	// VirtualRouter is a software switch belonging to a slice. Deploying it
	// only creates its bridge and points it at its controllers.
	VirtualRouter struct {
		context       *Context
		modifiedIndex uint64
		ID            string   `json:"id"`
		Name          string   `json:"name"`
		SliceID       string   `json:"slice,omitempty"`
		HostID        string   `json:"host,omitempty"`
		DevName       string   `json:"dev_name"`
		CPType        string   `json:"cp_type"`
		Controllers   []string `json:"controllers"` // RemoteController IDs
		Deployed      bool     `json:"deployed"`
	}

	// VirtualRouters is an alias to a slice of *VirtualRouter
	VirtualRouters []*VirtualRouter
)

// NewVirtualRouter creates a new, blank and unplaced VirtualRouter
func (c *Context) NewVirtualRouter() *VirtualRouter {
	id := uuid.New()
	return &VirtualRouter{
		context:     c,
		ID:          id,
		DevName:     "br" + id[:8],
		CPType:      CPOpenFlow,
		Controllers: []string{},
	}
}

// VirtualRouter fetches a VirtualRouter from the config store
func (c *Context) VirtualRouter(id string) (*VirtualRouter, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid ID")
	}
	vr := &VirtualRouter{
		context: c,
		ID:      id,
	}
	if err := vr.Refresh(); err != nil {
		return nil, err
	}
	return vr, nil
}

func (vr *VirtualRouter) key() string {
	return filepath.Join(VirtualRouterPath, vr.ID, "metadata")
}

// Refresh reloads from the data store
func (vr *VirtualRouter) Refresh() error {
	index, err := vr.context.load(vr.key(), vr)
	if err != nil {
		return err
	}
	vr.modifiedIndex = index
	return nil
}

// Validate ensures a VirtualRouter has reasonable data
func (vr *VirtualRouter) Validate() error {
	if uuid.Parse(vr.ID) == nil {
		return errors.New("invalid ID")
	}
	if vr.DevName == "" {
		return errors.New("missing device name")
	}
	if vr.SliceID != "" && uuid.Parse(vr.SliceID) == nil {
		return errors.New("invalid slice ID")
	}
	for _, id := range vr.Controllers {
		if uuid.Parse(id) == nil {
			return errors.New("invalid controller ID")
		}
	}
	return nil
}

// Save persists the VirtualRouter to the data store
func (vr *VirtualRouter) Save() error {
	if err := vr.Validate(); err != nil {
		return err
	}
	index, err := vr.context.save(vr.key(), vr, vr.modifiedIndex)
	if err != nil {
		return err
	}
	vr.modifiedIndex = index
	return nil
}

// Destroy removes the VirtualRouter and its interfaces
func (vr *VirtualRouter) Destroy() error {
	if err := vr.context.destroyInterfaces(vr.ID); err != nil {
		return err
	}
	if err := vr.context.kv.Remove(vr.key(), vr.modifiedIndex); err != nil {
		return err
	}
	return vr.context.kv.Delete(filepath.Join(VirtualRouterPath, vr.ID), true)
}

// DeviceID returns the ID
func (vr *VirtualRouter) DeviceID() string { return vr.ID }

// DeviceName returns the name
func (vr *VirtualRouter) DeviceName() string { return vr.Name }

// Kind is always KindRouter
func (vr *VirtualRouter) Kind() DeviceKind { return KindRouter }

// IsRouter is always true
func (vr *VirtualRouter) IsRouter() bool { return true }

// AssignedHost returns the host ID, empty when unplaced
func (vr *VirtualRouter) AssignedHost() string { return vr.HostID }

// Slice returns the owning slice ID
func (vr *VirtualRouter) Slice() string { return vr.SliceID }

// Request is empty; routers only consume a bridge
func (vr *VirtualRouter) Request() Request { return Request{} }

func (vr *VirtualRouter) assign(hostID string) { vr.HostID = hostID }

// RemoteControllers loads the router's controllers, masters first
func (vr *VirtualRouter) RemoteControllers() (RemoteControllers, error) {
	rcs := make(RemoteControllers, 0, len(vr.Controllers))
	for _, id := range vr.Controllers {
		rc, err := vr.context.RemoteController(id)
		if err != nil {
			return nil, err
		}
		rcs = append(rcs, rc)
	}
	rcs.Sort()
	return rcs, nil
}

// ForEachVirtualRouter will run f on each VirtualRouter. It will stop
// iteration if f returns an error.
func (c *Context) ForEachVirtualRouter(f func(*VirtualRouter) error) error {
	return c.forEachID(VirtualRouterPath, func(id string) error {
		vr, err := c.VirtualRouter(id)
		if err != nil {
			return err
		}
		return f(vr)
	})
}

// VirtualRouters returns every virtual router matching filter, or all of
// them when filter is nil
func (c *Context) VirtualRouters(filter func(*VirtualRouter) bool) (VirtualRouters, error) {
	var vrs VirtualRouters
	err := c.ForEachVirtualRouter(func(vr *VirtualRouter) error {
		if filter == nil || filter(vr) {
			vrs = append(vrs, vr)
		}
		return nil
	})
	return vrs, err
}
