package aurora_test

import (
	"net"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/stretchr/testify/suite"
)

type SliceTestSuite struct {
	common.Suite
}

func TestSliceTestSuite(t *testing.T) {
	suite.Run(t, new(SliceTestSuite))
}

func (s *SliceTestSuite) TestValidate() {
	tests := []struct {
		description string
		mutate      func(*aurora.Slice)
		expectedErr bool
	}{
		{"valid", func(*aurora.Slice) {}, false},
		{"bad state", func(sl *aurora.Slice) { sl.State = "running" }, true},
		{"unnamed program", func(sl *aurora.Slice) {
			sl.OptimizationPrograms = []aurora.ProgramRef{{Priority: 1}}
		}, true},
		{"duplicate program", func(sl *aurora.Slice) {
			sl.OptimizationPrograms = []aurora.ProgramRef{{Name: "hops"}, {Name: "hops"}}
		}, true},
	}

	for _, test := range tests {
		sl := s.Context.NewSlice()
		test.mutate(sl)
		err := sl.Validate()
		if test.expectedErr {
			s.Error(err, test.description)
		} else {
			s.NoError(err, test.description)
		}
	}
}

func (s *SliceTestSuite) TestPrograms() {
	sl := s.NewSlice()
	sl.OptimizationPrograms = []aurora.ProgramRef{
		{Name: "energy", Priority: 3},
		{Name: "balance", Priority: 1},
		{Name: "hops", Priority: 2},
	}
	s.NoError(sl.Save())

	loaded, err := s.Context.Slice(sl.ID)
	s.Require().NoError(err)

	var names []string
	for _, p := range loaded.Programs() {
		names = append(names, p.Name)
	}
	s.Equal([]string{"balance", "hops", "energy"}, names)
	s.Equal("energy", loaded.OptimizationPrograms[0].Name, "stored order is untouched")
}

func (s *SliceTestSuite) TestDevices() {
	sl := s.NewSlice()
	s.NewVirtualMachine(sl, 1, 1)
	s.NewVirtualMachine(sl, 1, 1)
	s.NewVirtualRouter(sl)
	s.NewVirtualRouter(nil)

	devices, err := sl.Devices()
	s.NoError(err)
	s.Len(devices, 3)
	s.False(devices[0].IsRouter())
	s.True(devices[2].IsRouter())
	s.Len(devices.ByID(), 3)
}

func (s *SliceTestSuite) TestForEachSlice() {
	s.NewSlice()
	s.NewSlice()
	count := 0
	s.NoError(s.Context.ForEachSlice(func(*aurora.Slice) error {
		count++
		return nil
	}))
	s.Equal(2, count)
}

func (s *SliceTestSuite) TestRouterControllers() {
	slave := s.NewRemoteController(aurora.ControllerSlave)
	slave.IP = net.ParseIP("10.0.0.2")
	slave.Connection = "udp"
	s.Require().NoError(slave.Save())
	master := s.NewRemoteController(aurora.ControllerMaster)

	vr := s.NewVirtualRouter(nil)
	s.Equal("br"+vr.ID[:8], vr.DevName)
	vr.Controllers = []string{slave.ID, master.ID}
	s.NoError(vr.Save())

	rcs, err := vr.RemoteControllers()
	s.NoError(err)
	s.Equal([]string{master.Target(), slave.Target()}, rcs.Targets(), "masters come first")
	s.Equal("tcp:10.0.0.1:6633", master.Target())
}

func (s *SliceTestSuite) TestRemoteControllerValidate() {
	tests := []struct {
		description string
		mutate      func(*aurora.RemoteController)
		expectedErr bool
	}{
		{"valid", func(*aurora.RemoteController) {}, false},
		{"no ip", func(rc *aurora.RemoteController) { rc.IP = nil }, true},
		{"bad port", func(rc *aurora.RemoteController) { rc.Port = 70000 }, true},
		{"bad connection", func(rc *aurora.RemoteController) { rc.Connection = "ssl" }, true},
		{"bad type", func(rc *aurora.RemoteController) { rc.Type = "backup" }, true},
		{"passive", func(rc *aurora.RemoteController) { rc.Connection = "ptcp" }, false},
	}

	for _, test := range tests {
		rc := s.Context.NewRemoteController()
		rc.IP = net.ParseIP("10.0.0.9")
		test.mutate(rc)
		err := rc.Validate()
		if test.expectedErr {
			s.Error(err, test.description)
		} else {
			s.NoError(err, test.description)
		}
	}
}
