package aurora

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/pborman/uuid"
)

var (
	// SlicePath is the path in the config store
	SlicePath = "aurora/slices/"
)

// Slice states
const (
	SliceCreated    = "created"
	SliceDeploying  = "deploying"
	SliceDeployed   = "deployed"
	SliceOptimizing = "optimizing"
	SliceDisabled   = "disabled"
)

type (
	// ProgramRef names an optimization program and its run order
	ProgramRef struct {
		Name     string `json:"name"`
		Priority int    `json:"priority"`
	}

	// Slice is a tenant's set of virtual machines, routers and links,
	// deployed and optimized as a unit
	Slice struct {
		context              *Context
		modifiedIndex        uint64
		ID                   string       `json:"id"`
		Name                 string       `json:"name"`
		Owner                string       `json:"owner"`
		State                string       `json:"state"`
		DeployedWith         string       `json:"deployed_with,omitempty"`
		DeploymentProgram    string       `json:"deployment_program,omitempty"`
		OptimizationPrograms []ProgramRef `json:"optimization_programs,omitempty"`
	}

	// Slices is an alias to a slice of *Slice
	Slices []*Slice
)

// NewSlice creates a new, empty Slice
func (c *Context) NewSlice() *Slice {
	return &Slice{
		context: c,
		ID:      uuid.New(),
		State:   SliceCreated,
	}
}

// Slice fetches a Slice from the config store
func (c *Context) Slice(id string) (*Slice, error) {
	if uuid.Parse(id) == nil {
		return nil, errors.New("invalid ID")
	}
	s := &Slice{
		context: c,
		ID:      id,
	}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Slice) key() string {
	return filepath.Join(SlicePath, s.ID, "metadata")
}

// Refresh reloads from the data store
func (s *Slice) Refresh() error {
	index, err := s.context.load(s.key(), s)
	if err != nil {
		return err
	}
	s.modifiedIndex = index
	return nil
}

// Validate ensures a Slice has reasonable data
func (s *Slice) Validate() error {
	if uuid.Parse(s.ID) == nil {
		return errors.New("invalid ID")
	}
	switch s.State {
	case SliceCreated, SliceDeploying, SliceDeployed, SliceOptimizing, SliceDisabled:
	default:
		return fmt.Errorf("invalid state %q", s.State)
	}
	seen := map[string]bool{}
	for _, p := range s.OptimizationPrograms {
		if p.Name == "" {
			return errors.New("optimization program without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate optimization program %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Save persists the Slice to the data store
func (s *Slice) Save() error {
	if s.State == "" {
		s.State = SliceCreated
	}
	if err := s.Validate(); err != nil {
		return err
	}
	index, err := s.context.save(s.key(), s, s.modifiedIndex)
	if err != nil {
		return err
	}
	s.modifiedIndex = index
	return nil
}

// Destroy removes the Slice record only; its members are removed by the
// orchestrator's delete cascade
func (s *Slice) Destroy() error {
	if err := s.context.kv.Remove(s.key(), s.modifiedIndex); err != nil {
		return err
	}
	return s.context.kv.Delete(filepath.Join(SlicePath, s.ID), true)
}

// Programs returns the optimization programs in ascending priority order
func (s *Slice) Programs() []ProgramRef {
	programs := make([]ProgramRef, len(s.OptimizationPrograms))
	copy(programs, s.OptimizationPrograms)
	sort.SliceStable(programs, func(i, j int) bool {
		return programs[i].Priority < programs[j].Priority
	})
	return programs
}

// VirtualMachines returns the slice's virtual machines
func (s *Slice) VirtualMachines() (VirtualMachines, error) {
	return s.context.VirtualMachines(func(vm *VirtualMachine) bool {
		return vm.SliceID == s.ID
	})
}

// VirtualRouters returns the slice's virtual routers
func (s *Slice) VirtualRouters() (VirtualRouters, error) {
	return s.context.VirtualRouters(func(vr *VirtualRouter) bool {
		return vr.SliceID == s.ID
	})
}

// VirtualLinks returns the slice's links
func (s *Slice) VirtualLinks() (VirtualLinks, error) {
	return s.context.VirtualLinks(func(l *VirtualLink) bool {
		return l.SliceID == s.ID
	})
}

// Devices returns the slice's virtual machines followed by its routers
func (s *Slice) Devices() (Devices, error) {
	vms, err := s.VirtualMachines()
	if err != nil {
		return nil, err
	}
	vrs, err := s.VirtualRouters()
	if err != nil {
		return nil, err
	}
	devices := make(Devices, 0, len(vms)+len(vrs))
	for _, vm := range vms {
		devices = append(devices, vm)
	}
	for _, vr := range vrs {
		devices = append(devices, vr)
	}
	return devices, nil
}

// ForEachSlice will run f on each Slice. It will stop iteration if f
// returns an error.
func (c *Context) ForEachSlice(f func(*Slice) error) error {
	return c.forEachID(SlicePath, func(id string) error {
		s, err := c.Slice(id)
		if err != nil {
			return err
		}
		return f(s)
	})
}
