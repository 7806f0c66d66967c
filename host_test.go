package aurora_test

import (
	"net"
	"testing"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/pborman/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type HostTestSuite struct {
	common.Suite
}

func TestHostTestSuite(t *testing.T) {
	suite.Run(t, new(HostTestSuite))
}

func (s *HostTestSuite) TestNewHost() {
	h := s.Context.NewHost()
	s.NotNil(uuid.Parse(h.ID))
	s.Equal(aurora.DefaultOVSDBPort, h.OVSDBPort)
	s.Equal(aurora.DefaultAgentPort, h.AgentPort)
}

func (s *HostTestSuite) TestHost() {
	host := s.NewHost(4, 4096*1024)

	tests := []struct {
		description string
		ID          string
		expectedErr bool
	}{
		{"missing id", "", true},
		{"invalid ID", "adf", true},
		{"nonexistant ID", uuid.New(), true},
		{"real ID", host.ID, false},
	}

	for _, test := range tests {
		msg := testMsgFunc(test.description)
		h, err := s.Context.Host(test.ID)
		if test.expectedErr {
			s.Error(err, msg("lookup should fail"))
			s.Nil(h, msg("failure shouldn't return a host"))
		} else {
			s.NoError(err, msg("lookup should succeed"))
			s.True(assert.ObjectsAreEqual(host, h), msg("success should return correct data"))
		}
	}
}

func (s *HostTestSuite) TestSave() {
	goodHost := s.Context.NewHost()
	goodHost.Name = "good"
	goodHost.IP = net.ParseIP("10.0.0.1")
	goodHost.Cores = 2
	goodHost.Memory = 1024

	clobberHost := *goodHost

	noName := *goodHost
	noName.ID = uuid.New()
	noName.Name = ""

	noIP := *goodHost
	noIP.ID = uuid.New()
	noIP.IP = nil

	noCores := *goodHost
	noCores.ID = uuid.New()
	noCores.Cores = 0

	tests := []struct {
		description string
		host        *aurora.Host
		expectedErr bool
	}{
		{"valid host", goodHost, false},
		{"existing host", goodHost, false},
		{"existing host clobber changes", &clobberHost, true},
		{"missing name", &noName, true},
		{"missing ip", &noIP, true},
		{"missing cores", &noCores, true},
	}

	for _, test := range tests {
		msg := testMsgFunc(test.description)
		err := test.host.Save()
		if test.expectedErr {
			s.Error(err, msg("should be invalid"))
		} else {
			s.NoError(err, msg("should be valid"))
		}
	}

	s.Equal("hostbrgood", goodHost.Bridge, "bridge should default from the name")
}

func (s *HostTestSuite) TestRefresh() {
	host := s.NewHost(4, 1024)
	hostCopy := &aurora.Host{}
	*hostCopy = *host

	host.SwitchPort = 7
	s.NoError(host.Save())
	s.NoError(hostCopy.Refresh(), "refresh existing should succeed")
	s.Equal(7, hostCopy.SwitchPort, "refresh should pull new data")

	newHost := s.Context.NewHost()
	s.Error(newHost.Refresh(), "unsaved host refresh should fail")
}

func (s *HostTestSuite) TestHeartbeat() {
	host := s.NewHost(4, 1024)
	s.True(host.IsAlive())
	s.Equal(aurora.HostActive, host.Status())

	quiet := s.Context.NewHost()
	quiet.Name = "quiet"
	quiet.IP = net.ParseIP("10.0.0.2")
	quiet.Cores = 1
	quiet.Memory = 1
	s.Require().NoError(quiet.Save())
	s.False(quiet.IsAlive())
	s.Equal(aurora.HostOffline, quiet.Status())

	s.NoError(quiet.Heartbeat(50 * time.Millisecond))
	s.True(quiet.IsAlive())
	time.Sleep(100 * time.Millisecond)
	s.False(quiet.IsAlive(), "heartbeat should expire")
}

func (s *HostTestSuite) TestAddresses() {
	host := s.NewHost(4, 1024)
	host.IP = net.ParseIP("10.1.2.3")
	s.Equal("tcp:10.1.2.3:8888", host.OVSDBAddress())
	s.Equal("10.1.2.3:8080", host.AgentAddress())
}

func (s *HostTestSuite) TestVirtualMachinesAndDestroy() {
	host := s.NewHost(4, 1024)
	other := s.NewHost(4, 1024)
	slice := s.NewSlice()

	vm := s.NewVirtualMachine(slice, 1, 128)
	s.Place(vm, host)
	s.Place(s.NewVirtualMachine(slice, 1, 128), other)

	vms, err := host.VirtualMachines()
	s.NoError(err)
	s.Len(vms, 1)
	s.Equal(vm.ID, vms[0].ID)

	s.Error(host.Destroy(), "host with virtual machines should not be destroyed")

	s.NoError(vm.Destroy())
	s.NoError(host.Destroy())
	_, err = s.Context.Host(host.ID)
	s.True(s.Context.IsKeyNotFound(err))
}

func (s *HostTestSuite) TestForEachHost() {
	a := s.NewHost(1, 1)
	b := s.NewHost(1, 1)

	hosts, err := s.Context.Hosts()
	s.NoError(err)
	s.Len(hosts, 2)
	byID := hosts.ByID()
	s.Contains(byID, a.ID)
	s.Contains(byID, b.ID)
}
