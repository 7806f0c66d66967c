package topology_test

import (
	"context"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn/sdntest"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
	"github.com/stretchr/testify/suite"
)

type TopologyTestSuite struct {
	common.Suite
}

func TestTopologyTestSuite(t *testing.T) {
	suite.Run(t, new(TopologyTestSuite))
}

// line builds s1 - s2 - s3 with an island s4
func line() *topology.Graph {
	g := topology.New()
	g.AddLink("s1", "s2")
	g.AddLink("s2", "s3")
	g.AddSwitch("s4")
	g.Attach("a", "s1")
	g.Attach("b", "s1")
	g.Attach("c", "s3")
	g.Attach("d", "s4")
	return g
}

func (s *TopologyTestSuite) TestHopDistance() {
	g := line()
	tests := []struct {
		description string
		a, b        string
		expected    int
		unreachable bool
	}{
		{"same host", "a", "a", 1, false},
		{"same switch", "a", "b", 1, false},
		{"three switches", "a", "c", 3, false},
		{"island", "a", "d", topology.Unreachable, true},
		{"unattached", "a", "zz", topology.Unreachable, true},
	}

	for _, test := range tests {
		msg := testMsgFunc(test.description)
		dist, err := g.HopDistance(test.a, test.b)
		s.Equal(test.expected, dist, msg("unexpected distance"))
		if test.unreachable {
			s.IsType(&aurora.TopologyUnreachableError{}, err, msg("should be unreachable"))
		} else {
			s.NoError(err, msg("should be reachable"))
		}

		back, _ := g.HopDistance(test.b, test.a)
		s.Equal(dist, back, msg("should be symmetric"))
	}
}

func (s *TopologyTestSuite) TestSwitch() {
	g := line()
	sw, ok := g.Switch("c")
	s.True(ok)
	s.Equal("s3", sw)
	_, ok = g.Switch("zz")
	s.False(ok)
}

func (s *TopologyTestSuite) TestTable() {
	h1 := s.NewHost(4, 4096)
	h2 := s.NewHost(4, 4096)
	h3 := s.NewHost(4, 4096)
	hosts := aurora.Hosts{h1, h2, h3}

	g := topology.New()
	g.AddLink("s1", "s2")
	g.Attach(h1.ID, "s1")
	g.Attach(h2.ID, "s2")

	table := topology.NewTable(g, hosts)
	dist, err := table.HopDistance(h1.ID, h2.ID)
	s.NoError(err)
	s.Equal(2, dist)

	dist, err = table.HopDistance(h3.ID, h3.ID)
	s.NoError(err)
	s.Equal(1, dist)

	dist, err = table.HopDistance(h1.ID, h3.ID)
	s.Error(err)
	s.Equal(topology.Unreachable, dist)
	s.Equal(topology.Unreachable, table[h1.ID][h3.ID])

	nearest := table.Nearest(h1.ID, aurora.Hosts{h3, h2, h1})
	s.Equal([]string{h1.ID, h2.ID, h3.ID}, []string{nearest[0].ID, nearest[1].ID, nearest[2].ID})
}

func (s *TopologyTestSuite) TestFromController() {
	h1 := s.NewHost(4, 4096)
	h2 := s.NewHost(4, 4096)
	h2.SwitchDPID = ""
	s.Require().NoError(h2.Save())
	h3 := s.NewHost(4, 4096)
	h3.SwitchDPID = ""
	s.Require().NoError(h3.Save())

	ctrl := sdntest.New()
	ctrl.AddSwitch(h1.SwitchDPID)
	ctrl.AddSwitch("edge", sdn.Port{Name: "uplink", PortNumber: 1})
	ctrl.AddSwitch("br2", sdn.Port{Name: h2.Bridge, PortNumber: 65534})
	ctrl.AddLink(h1.SwitchDPID, 1, "edge", 2)
	ctrl.AddLink("edge", 3, "br2", 1)

	g, err := topology.FromController(context.Background(), ctrl, aurora.Hosts{h1, h2, h3})
	s.Require().NoError(err)

	dist, err := g.HopDistance(h1.ID, h2.ID)
	s.NoError(err)
	s.Equal(3, dist)

	_, err = g.HopDistance(h1.ID, h3.ID)
	s.Error(err, "bridge unknown to the controller")
}

func (s *TopologyTestSuite) TestRouteDistance() {
	h1 := s.NewHost(4, 4096)
	h2 := s.NewHost(4, 4096)

	ctrl := sdntest.New()
	ctrl.AddSwitch("br1", sdn.Port{Name: h1.Bridge, PortNumber: 65534})
	ctrl.AddSwitch("edge")
	ctrl.AddSwitch("br2", sdn.Port{Name: h2.Bridge, PortNumber: 65534})
	ctrl.AddLink("br1", 1, "edge", 1)
	ctrl.AddLink("edge", 2, "br2", 1)

	ctx := context.Background()
	dist, err := topology.RouteDistance(ctx, ctrl, h1, h2)
	s.NoError(err)
	s.Equal(3, dist)

	dist, err = topology.RouteDistance(ctx, ctrl, h1, h1)
	s.NoError(err)
	s.Equal(1, dist)

	ctrl.NoRoute(true)
	dist, err = topology.RouteDistance(ctx, ctrl, h1, h2)
	s.IsType(&aurora.TopologyUnreachableError{}, err)
	s.Equal(topology.Unreachable, dist)
}

func (s *TopologyTestSuite) TestFlat() {
	dist, err := topology.Flat{}.HopDistance("a", "b")
	s.NoError(err)
	s.Equal(1, dist)
}
