package aurora_test

import (
	"errors"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/stretchr/testify/suite"
)

type VirtualLinkTestSuite struct {
	common.Suite
}

func TestVirtualLinkTestSuite(t *testing.T) {
	suite.Run(t, new(VirtualLinkTestSuite))
}

func (s *VirtualLinkTestSuite) TestValidate() {
	vm := s.NewVirtualMachine(nil, 1, 1)
	a := s.NewInterface(vm)
	b := s.NewInterface(vm)

	tests := []struct {
		description string
		mutate      func(*aurora.VirtualLink)
		expectedErr bool
	}{
		{"valid", func(*aurora.VirtualLink) {}, false},
		{"same interface", func(l *aurora.VirtualLink) { l.IfEnd = l.IfStart }, true},
		{"missing end", func(l *aurora.VirtualLink) { l.IfEnd = "" }, true},
		{"bad state", func(l *aurora.VirtualLink) { l.State = "up" }, true},
		{"bad slice", func(l *aurora.VirtualLink) { l.SliceID = "adf" }, true},
		{"qos ok", func(l *aurora.VirtualLink) { l.QoS = &aurora.VirtualLinkQos{CommittedUp: 100} }, false},
		{"qos over 100%", func(l *aurora.VirtualLink) { l.QoS = &aurora.VirtualLinkQos{CommittedDown: 101} }, true},
	}

	for _, test := range tests {
		l := s.Context.NewVirtualLink(a, b)
		test.mutate(l)
		err := l.Validate()
		if test.expectedErr {
			s.Error(err, test.description)
		} else {
			s.NoError(err, test.description)
		}
	}
}

func (s *VirtualLinkTestSuite) TestValidPath() {
	tests := []struct {
		description string
		path        []aurora.RouteHop
		valid       bool
	}{
		{"no path", nil, false},
		{"one hop", []aurora.RouteHop{{Switch: "s1", InPort: 1, OutPort: 2}}, true},
		{"missing switch", []aurora.RouteHop{{InPort: 1, OutPort: 2}}, false},
		{"missing port", []aurora.RouteHop{{Switch: "s1", InPort: 1}}, false},
	}

	for _, test := range tests {
		l := &aurora.VirtualLink{Path: test.path}
		s.Equal(test.valid, l.ValidPath(), test.description)
	}
}

func (s *VirtualLinkTestSuite) TestPathRoundTrip() {
	slice := s.NewSlice()
	l := s.NewLink(slice, s.NewVirtualMachine(slice, 1, 1), s.NewVirtualMachine(slice, 1, 1))
	l.State = aurora.LinkEstablish
	l.Path = []aurora.RouteHop{
		{Switch: "00:00:00:00:00:00:00:01", InPort: 1, OutPort: 3},
		{Switch: "00:00:00:00:00:00:00:02", InPort: 2, OutPort: 1},
	}
	s.NoError(l.Save())

	loaded, err := s.Context.VirtualLink(l.ID)
	s.NoError(err)
	s.Equal(l.Path, loaded.Path)
	s.True(loaded.ValidPath())
}

func (s *VirtualLinkTestSuite) TestFail() {
	l := s.Context.NewVirtualLink(nil, nil)
	l.Fail(errors.New("empty route"))
	s.Equal(aurora.LinkFailed, l.State)
	s.Equal("empty route", l.Error)
}

func (s *VirtualLinkTestSuite) TestDevices() {
	slice := s.NewSlice()
	vm := s.NewVirtualMachine(slice, 1, 1)
	vr := s.NewVirtualRouter(slice)
	l := s.NewLink(slice, vm, vr)

	a, b, err := l.Devices()
	s.NoError(err)
	s.Equal(vm.ID, a.DeviceID())
	s.Equal(vr.ID, b.DeviceID())
	s.True(b.IsRouter())
}

func (s *VirtualLinkTestSuite) TestQueries() {
	slice := s.NewSlice()
	vm1 := s.NewVirtualMachine(slice, 1, 1)
	vm2 := s.NewVirtualMachine(slice, 1, 1)
	vm3 := s.NewVirtualMachine(nil, 1, 1)

	l1 := s.NewLink(slice, vm1, vm2)
	l2 := s.NewLink(nil, vm2, vm3)
	l2.State = aurora.LinkInactive
	s.NoError(l2.Save())

	links, err := slice.VirtualLinks()
	s.NoError(err)
	s.Len(links, 1)
	s.Equal(l1.ID, links[0].ID)

	notCreated, err := s.Context.LinksNotCreated()
	s.NoError(err)
	s.Len(notCreated, 1)
	s.Equal(l2.ID, notCreated[0].ID)

	of, err := s.Context.LinksOf(vm2.ID)
	s.NoError(err)
	s.Len(of, 2)

	of, err = s.Context.LinksOf(vm3.ID)
	s.NoError(err)
	s.Len(of, 1)
}
