package aurora

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sort"

	"github.com/pborman/uuid"
)

var (
	// RemoteControllerPath is the path in the config store
	RemoteControllerPath = "aurora/controllers/"
)

// Controller roles
const (
	ControllerMaster = "master"
	ControllerSlave  = "slave"
)

var connections = map[string]bool{"tcp": true, "udp": true, "ptcp": true}

type (
	// RemoteController is an openflow controller a virtual router connects to
	RemoteController struct {
		context       *Context
		modifiedIndex uint64
		ID            string `json:"id"`
		IP            net.IP `json:"ip"`
		Port          int    `json:"port"`
		Connection    string `json:"connection"`
		Type          string `json:"type"`
	}

	// RemoteControllers is an alias to a slice of *RemoteController
	RemoteControllers []*RemoteController
)

// NewRemoteController creates a new RemoteController with defaults
func (c *Context) NewRemoteController() *RemoteController {
	return &RemoteController{
		context:    c,
		ID:         uuid.New(),
		Port:       6633,
		Connection: "tcp",
		Type:       ControllerMaster,
	}
}

// RemoteController fetches a RemoteController from the config store
func (c *Context) RemoteController(id string) (*RemoteController, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid ID")
	}
	rc := &RemoteController{
		context: c,
		ID:      id,
	}
	if err := rc.Refresh(); err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *RemoteController) key() string {
	return filepath.Join(RemoteControllerPath, rc.ID, "metadata")
}

// Refresh reloads from the data store
func (rc *RemoteController) Refresh() error {
	index, err := rc.context.load(rc.key(), rc)
	if err != nil {
		return err
	}
	rc.modifiedIndex = index
	return nil
}

// Validate ensures a RemoteController has reasonable data
func (rc *RemoteController) Validate() error {
	if uuid.Parse(rc.ID) == nil {
		return errors.New("invalid ID")
	}
	if rc.IP == nil {
		return errors.New("missing ip")
	}
	if rc.Port <= 0 || rc.Port > 65535 {
		return errors.New("invalid port")
	}
	if !connections[rc.Connection] {
		return fmt.Errorf("invalid connection %q", rc.Connection)
	}
	if rc.Type != ControllerMaster && rc.Type != ControllerSlave {
		return fmt.Errorf("invalid type %q", rc.Type)
	}
	return nil
}

// Save persists the RemoteController to the data store
func (rc *RemoteController) Save() error {
	if err := rc.Validate(); err != nil {
		return err
	}
	index, err := rc.context.save(rc.key(), rc, rc.modifiedIndex)
	if err != nil {
		return err
	}
	rc.modifiedIndex = index
	return nil
}

// Destroy removes the RemoteController
func (rc *RemoteController) Destroy() error {
	if err := rc.context.kv.Remove(rc.key(), rc.modifiedIndex); err != nil {
		return err
	}
	return rc.context.kv.Delete(filepath.Join(RemoteControllerPath, rc.ID), true)
}

// Target renders the controller for set-controller, e.g. "tcp:10.0.0.1:6633"
func (rc *RemoteController) Target() string {
	return fmt.Sprintf("%s:%s:%d", rc.Connection, rc.IP, rc.Port)
}

// Targets renders every controller target in order
func (rcs RemoteControllers) Targets() []string {
	targets := make([]string, len(rcs))
	for i, rc := range rcs {
		targets[i] = rc.Target()
	}
	return targets
}

// Sort puts masters before slaves, keeping relative order otherwise
func (rcs RemoteControllers) Sort() {
	sort.SliceStable(rcs, func(i, j int) bool {
		return rcs[i].Type == ControllerMaster && rcs[j].Type != ControllerMaster
	})
}

// ForEachRemoteController will run f on each RemoteController. It will stop
// iteration if f returns an error.
func (c *Context) ForEachRemoteController(f func(*RemoteController) error) error {
	return c.forEachID(RemoteControllerPath, func(id string) error {
		rc, err := c.RemoteController(id)
		if err != nil {
			return err
		}
		return f(rc)
	})
}
