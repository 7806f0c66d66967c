package aurora_test

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/pborman/uuid"
	"github.com/stretchr/testify/suite"
)

type VirtualMachineTestSuite struct {
	common.Suite
}

func TestVirtualMachineTestSuite(t *testing.T) {
	suite.Run(t, new(VirtualMachineTestSuite))
}

func (s *VirtualMachineTestSuite) TestNewVirtualMachine() {
	vm := s.Context.NewVirtualMachine()
	s.NotNil(uuid.Parse(vm.ID))
	s.Equal(aurora.VMNotDeployed, vm.State)
	s.Empty(vm.HostID)
}

func (s *VirtualMachineTestSuite) TestVirtualMachine() {
	vm := s.NewVirtualMachine(nil, 1, 256)

	tests := []struct {
		description string
		ID          string
		expectedErr bool
	}{
		{"missing id", "", true},
		{"invalid ID", "adf", true},
		{"nonexistant ID", uuid.New(), true},
		{"real ID", vm.ID, false},
	}

	for _, test := range tests {
		msg := testMsgFunc(test.description)
		v, err := s.Context.VirtualMachine(test.ID)
		if test.expectedErr {
			s.Error(err, msg("lookup should fail"))
			s.Nil(v, msg("failure shouldn't return a vm"))
		} else {
			s.NoError(err, msg("lookup should succeed"))
			s.Equal(vm.Request(), v.Request(), msg("success should return correct data"))
		}
	}
}

func (s *VirtualMachineTestSuite) TestValidate() {
	tests := []struct {
		description string
		mutate      func(*aurora.VirtualMachine)
		expectedErr bool
	}{
		{"valid", func(*aurora.VirtualMachine) {}, false},
		{"bad id", func(vm *aurora.VirtualMachine) { vm.ID = "adf" }, true},
		{"no memory", func(vm *aurora.VirtualMachine) { vm.Memory = 0 }, true},
		{"no vcpu", func(vm *aurora.VirtualMachine) { vm.VCPU = 0 }, true},
		{"bad slice", func(vm *aurora.VirtualMachine) { vm.SliceID = "adf" }, true},
		{"bad host", func(vm *aurora.VirtualMachine) { vm.HostID = "adf" }, true},
	}

	for _, test := range tests {
		vm := s.Context.NewVirtualMachine()
		test.mutate(vm)
		err := vm.Validate()
		if test.expectedErr {
			s.Error(err, test.description)
		} else {
			s.NoError(err, test.description)
		}
	}
}

func (s *VirtualMachineTestSuite) TestResourcesImmutable() {
	vm := s.NewVirtualMachine(nil, 1, 256)

	vm.Memory = 512
	s.Equal(aurora.ErrImmutableResources, vm.Save())

	loaded, err := s.Context.VirtualMachine(vm.ID)
	s.Require().NoError(err)
	loaded.VCPU = 4
	s.Equal(aurora.ErrImmutableResources, loaded.Save())

	loaded.VCPU = 1
	loaded.State = aurora.VMRunning
	s.NoError(loaded.Save(), "other fields may change")
}

func (s *VirtualMachineTestSuite) TestDevice() {
	vm := s.NewVirtualMachine(nil, 2, 256)
	vr := s.NewVirtualRouter(nil)

	d, err := s.Context.Device(aurora.KindVM, vm.ID)
	s.NoError(err)
	s.False(d.IsRouter())
	s.Equal(aurora.Request{VCPU: 2, Memory: 256}, d.Request())

	d, err = s.Context.Device(aurora.KindRouter, vr.ID)
	s.NoError(err)
	s.True(d.IsRouter())
	s.Equal(aurora.Request{}, d.Request())

	_, err = s.Context.Device("switch", vm.ID)
	s.Error(err)
}

func (s *VirtualMachineTestSuite) TestInterfaces() {
	vm := s.NewVirtualMachine(nil, 1, 256)
	vi := s.NewInterface(vm)
	s.NewInterface(s.NewVirtualMachine(nil, 1, 256))

	vis, err := vm.Interfaces()
	s.NoError(err)
	s.Len(vis, 1)
	s.Equal(vi.MAC, vis[0].MAC)
	s.Equal(vi.Target, vis[0].PortName())

	d, err := vis[0].Device()
	s.NoError(err)
	s.Equal(vm.ID, d.DeviceID())

	s.NoError(vm.Destroy())
	_, err = s.Context.VirtualInterface(vi.ID)
	s.True(s.Context.IsKeyNotFound(err), "interfaces go with their device")
}

func (s *VirtualMachineTestSuite) TestInterfaceJSON() {
	vi := s.Context.NewVirtualInterface(s.Context.NewVirtualMachine())
	vi.MAC, _ = net.ParseMAC("4C:3F:B1:7E:54:64")

	data, err := json.Marshal(vi)
	s.NoError(err)
	s.Contains(string(data), `"mac":"4c:3f:b1:7e:54:64"`)

	fromJSON := &aurora.VirtualInterface{}
	s.NoError(json.Unmarshal(data, fromJSON))
	s.Equal(vi.MAC, fromJSON.MAC)
	s.Equal(aurora.KindVM, fromJSON.DeviceKind)

	s.Error(json.Unmarshal([]byte(`{"mac":"nope"}`), fromJSON))
}

func (s *VirtualMachineTestSuite) TestForEachVirtualMachine() {
	slice := s.NewSlice()
	s.NewVirtualMachine(slice, 1, 1)
	s.NewVirtualMachine(nil, 1, 1)

	all, err := s.Context.VirtualMachines(nil)
	s.NoError(err)
	s.Len(all, 2)

	inSlice, err := slice.VirtualMachines()
	s.NoError(err)
	s.Len(inSlice, 1)
}
