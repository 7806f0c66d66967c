package orchestrator_test

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/fabric/fabrictest"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/lock"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/orchestrator"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn/sdntest"
	"github.com/armon/go-metrics"
	"github.com/stretchr/testify/suite"
)

const gb = 1024 * 1024

type OrchestratorTestSuite struct {
	common.Suite
	Stub       *aurora.StubAgent
	Fabric     *fabrictest.Fabric
	Controller *sdntest.Controller
	Sink       *metrics.InmemSink
	O          *orchestrator.Orchestrator
	H1, H2     *aurora.Host
	Slice      *aurora.Slice
	port       int
}

func TestOrchestratorTestSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.Suite.SetupTest()
	s.Stub = aurora.NewStubAgent(0)
	s.Fabric = fabrictest.New()
	s.Controller = sdntest.New()
	s.port = 0

	s.H1 = s.NewHost(8, 8*gb)
	s.H2 = s.NewHost(8, 8*gb)
	s.Controller.AddSwitch(s.H1.SwitchDPID)
	s.Controller.AddSwitch(s.H2.SwitchDPID)
	s.Controller.AddSwitch("edge")
	s.Controller.AddLink(s.H1.SwitchDPID, 100, "edge", 1)
	s.Controller.AddLink("edge", 2, s.H2.SwitchDPID, 100)

	inv, err := s.Context.NewInventory(1, 1)
	s.Require().NoError(err)

	s.Sink = metrics.NewInmemSink(time.Minute, time.Minute)
	conf := metrics.DefaultConfig("aurora")
	conf.EnableHostname = false
	m, err := metrics.New(conf, s.Sink)
	s.Require().NoError(err)

	s.O, err = orchestrator.New(orchestrator.Config{
		Store:      s.Context,
		Inventory:  inv,
		Agents:     aurora.NewAgentPool(s.Stub.Factory()),
		Controller: s.Controller,
		Fabric:     s.Fabric,
		Metrics:    m,
		Rand:       rand.New(rand.NewSource(1)),
		LockTTL:    time.Minute,
	})
	s.Require().NoError(err)

	s.Slice = s.NewSlice()
}

func (s *OrchestratorTestSuite) TearDownTest() {
	s.NoError(s.O.Close())
	s.Suite.TearDownTest()
}

// tap makes the machine interfaces of a link known to the controller on the
// edge switch
func (s *OrchestratorTestSuite) tap(l *aurora.VirtualLink) {
	start, end, err := l.Endpoints()
	s.Require().NoError(err)
	for _, vi := range []*aurora.VirtualInterface{start, end} {
		if vi.Target == "" {
			continue
		}
		s.port++
		s.Controller.AddSwitch("edge", sdn.Port{Name: vi.Target, PortNumber: 10 + s.port})
	}
}

// build creates two linked machines and a router with one controller
func (s *OrchestratorTestSuite) build() (*aurora.VirtualMachine, *aurora.VirtualMachine, *aurora.VirtualRouter, *aurora.VirtualLink) {
	a := s.NewVirtualMachine(s.Slice, 2, 2*gb)
	b := s.NewVirtualMachine(s.Slice, 2, 2*gb)
	l := s.NewLink(s.Slice, a, b)
	s.tap(l)

	rc := s.NewRemoteController(aurora.ControllerMaster)
	vr := s.NewVirtualRouter(s.Slice)
	vr.Controllers = []string{rc.ID}
	s.Require().NoError(vr.Save())
	return a, b, vr, l
}

func (s *OrchestratorTestSuite) reloadVM(vm *aurora.VirtualMachine) *aurora.VirtualMachine {
	vm, err := s.Context.VirtualMachine(vm.ID)
	s.Require().NoError(err)
	return vm
}

func (s *OrchestratorTestSuite) TestNewRequiresPorts() {
	_, err := orchestrator.New(orchestrator.Config{Store: s.Context})
	s.Error(err)
}

func (s *OrchestratorTestSuite) TestPrograms() {
	deploy, optimize := orchestrator.Programs()
	s.Contains(deploy, orchestrator.DeployBalanced)
	s.Contains(optimize, orchestrator.OptimizeBalance)
	s.Contains(optimize, orchestrator.OptimizeHops)
	s.Contains(optimize, orchestrator.OptimizeEnergy)
}

func (s *OrchestratorTestSuite) TestDeploy() {
	a, b, vr, l := s.build()

	report, err := s.O.Deploy(context.Background(), s.Slice)
	s.Require().NoError(err)
	s.NoError(report.LinkErrors)
	s.Equal(orchestrator.DeployBalanced, report.Program)
	s.True(report.Total >= report.Establish)

	s.Require().NoError(s.Slice.Refresh())
	s.Equal(aurora.SliceDeployed, s.Slice.State)
	s.Equal(orchestrator.DeployBalanced, s.Slice.DeployedWith)

	for _, vm := range []*aurora.VirtualMachine{a, b} {
		vm = s.reloadVM(vm)
		s.NotEmpty(vm.HostID)
		s.Equal(aurora.VMRunning, vm.State)
		guestHost, ok := s.Stub.GuestHost(vm.ID)
		s.True(ok)
		s.Equal(vm.HostID, guestHost)
	}

	s.Require().NoError(vr.Refresh())
	s.True(vr.Deployed)
	h, err := s.Context.Host(vr.HostID)
	s.Require().NoError(err)
	rcs, err := vr.RemoteControllers()
	s.Require().NoError(err)
	s.Equal(rcs.Targets(), s.Fabric.Controllers(h, vr.DevName))

	s.Require().NoError(l.Refresh())
	s.Equal(aurora.LinkEstablish, l.State)
	s.Len(s.Controller.Flows(), 2)

	s.NotEmpty(s.Sink.Data())
}

func (s *OrchestratorTestSuite) TestDeployNoCapacity() {
	_ = s.NewVirtualMachine(s.Slice, 64, 64*gb)

	_, err := s.O.Deploy(context.Background(), s.Slice)
	s.Require().Error(err)
	derr, ok := err.(*orchestrator.DeploymentError)
	s.Require().True(ok)
	s.Equal("placement", derr.Stage)
	_, ok = derr.Cause().(*aurora.NoCapacityError)
	s.True(ok)

	s.Require().NoError(s.Slice.Refresh())
	s.Equal(aurora.SliceCreated, s.Slice.State)
	s.Empty(s.Stub.Calls())
}

func (s *OrchestratorTestSuite) TestDeployHypervisorFailure() {
	a, _, _, _ := s.build()
	s.Stub.FailAction("define", errors.New("disk full"))

	_, err := s.O.Deploy(context.Background(), s.Slice)
	s.Require().Error(err)
	derr, ok := err.(*orchestrator.DeploymentError)
	s.Require().True(ok)
	s.Equal("deploy", derr.Stage)
	s.Contains(derr.Entity, "vm ")
	_, ok = derr.Cause().(*aurora.HypervisorError)
	s.True(ok)

	s.Require().NoError(s.Slice.Refresh())
	s.Equal(aurora.SliceCreated, s.Slice.State)
	// records and placements stay for inspection
	s.NotEmpty(s.reloadVM(a).HostID)
	s.Empty(s.Controller.Flows())
}

func (s *OrchestratorTestSuite) TestDeployLinkFailureIsReported() {
	_, _, _, l := s.build()
	s.Controller.NoRoute(true)

	report, err := s.O.Deploy(context.Background(), s.Slice)
	s.Require().NoError(err)
	s.Error(report.LinkErrors)

	s.Require().NoError(s.Slice.Refresh())
	s.Equal(aurora.SliceDeployed, s.Slice.State)
	s.Require().NoError(l.Refresh())
	s.Equal(aurora.LinkFailed, l.State)
}

func (s *OrchestratorTestSuite) TestDeployCancelled() {
	_, _, _, _ = s.build()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.O.Deploy(ctx, s.Slice)
	s.Error(err)
	s.Empty(s.Controller.Flows())
}

func (s *OrchestratorTestSuite) TestDelete() {
	a, b, vr, l := s.build()
	_, err := s.O.Deploy(context.Background(), s.Slice)
	s.Require().NoError(err)
	s.Require().NoError(vr.Refresh())
	h, err := s.Context.Host(vr.HostID)
	s.Require().NoError(err)

	s.NoError(s.O.Delete(context.Background(), s.Slice))

	_, err = s.Context.Slice(s.Slice.ID)
	s.Error(err)
	_, err = s.Context.VirtualLink(l.ID)
	s.Error(err)
	for _, vm := range []*aurora.VirtualMachine{a, b} {
		_, err = s.Context.VirtualMachine(vm.ID)
		s.Error(err)
		_, ok := s.Stub.GuestHost(vm.ID)
		s.False(ok)
		s.Contains(s.Stub.Calls(), "stop "+vm.ID)
	}
	_, err = s.Context.VirtualRouter(vr.ID)
	s.Error(err)
	exists, err := s.Fabric.BridgeExists(context.Background(), h, vr.DevName)
	s.NoError(err)
	s.False(exists)
	s.Len(s.Controller.Deleted(), 2)
	s.Empty(s.Controller.Flows())
}

func (s *OrchestratorTestSuite) TestDeleteContinuesOnError() {
	a, _, _, _ := s.build()
	_, err := s.O.Deploy(context.Background(), s.Slice)
	s.Require().NoError(err)
	s.Stub.FailAction("undefine", errors.New("busy"))

	s.Error(s.O.Delete(context.Background(), s.Slice))
	_, err = s.Context.Slice(s.Slice.ID)
	s.Error(err)
	_, err = s.Context.VirtualMachine(a.ID)
	s.Error(err)
}

// running places a machine on h and starts it there without the orchestrator
func (s *OrchestratorTestSuite) running(h *aurora.Host) *aurora.VirtualMachine {
	vm := s.NewVirtualMachine(s.Slice, 2, 2*gb)
	s.Place(vm, h)
	agent := s.Stub.Factory()
	conn, err := agent(h)
	s.Require().NoError(err)
	s.Require().NoError(conn.Define(context.Background(), vm))
	s.Require().NoError(conn.Start(context.Background(), vm))
	return vm
}

func (s *OrchestratorTestSuite) deployed() {
	s.Slice.State = aurora.SliceDeployed
	s.Require().NoError(s.Slice.Save())
}

func (s *OrchestratorTestSuite) TestOptimize() {
	a := s.running(s.H1)
	b := s.running(s.H1)
	s.deployed()

	reports, err := s.O.Optimize(context.Background())
	s.Require().NoError(err)
	s.Require().Len(reports, 1)
	s.Equal("balance", reports[0].Policy)
	s.Len(reports[0].Moves, 1)
	s.NotEqual(s.reloadVM(a).HostID, s.reloadVM(b).HostID)

	s.Require().NoError(s.Slice.Refresh())
	s.Equal(aurora.SliceDeployed, s.Slice.State)
}

func (s *OrchestratorTestSuite) TestOptimizeProgramOrder() {
	_ = s.running(s.H1)
	s.Slice.OptimizationPrograms = []aurora.ProgramRef{
		{Name: orchestrator.OptimizeEnergy, Priority: 2},
		{Name: orchestrator.OptimizeHops, Priority: 1},
	}
	s.deployed()

	reports, err := s.O.Optimize(context.Background())
	s.Require().NoError(err)
	s.Require().Len(reports, 2)
	s.Equal("hops", reports[0].Policy)
	s.Equal("energy", reports[1].Policy)
}

func (s *OrchestratorTestSuite) TestOptimizeUnknownProgram() {
	s.Slice.OptimizationPrograms = []aurora.ProgramRef{{Name: "bogus"}}
	s.deployed()

	_, err := s.O.Optimize(context.Background())
	s.Require().Error(err)
	_, ok := err.(*orchestrator.OptimizationError)
	s.True(ok)
}

func (s *OrchestratorTestSuite) TestOptimizeMigrationFailure() {
	_ = s.running(s.H1)
	_ = s.running(s.H1)
	s.deployed()
	s.Stub.FailAction("migrate", errors.New("no route to host"))

	reports, err := s.O.Optimize(context.Background())
	s.Require().Error(err)
	_, ok := err.(*orchestrator.OptimizationError)
	s.True(ok)
	s.Require().Len(reports, 1)
	s.Len(reports[0].Failures, 2)
	s.Empty(reports[0].Moves)
}

func (s *OrchestratorTestSuite) TestOptimizeSkipsBusySlice() {
	a := s.running(s.H1)
	_ = s.running(s.H1)
	s.deployed()

	l, err := lock.Acquire(context.Background(), s.KV, filepath.Join(orchestrator.SliceLockPath, s.Slice.ID), "deployer", time.Minute, false)
	s.Require().NoError(err)
	defer func() { _ = l.Release() }()

	reports, err := s.O.Optimize(context.Background())
	s.NoError(err)
	s.Empty(reports)
	s.Equal(s.H1.ID, s.reloadVM(a).HostID)
}

func (s *OrchestratorTestSuite) TestOptimizeIsExclusive() {
	l, err := lock.Acquire(context.Background(), s.KV, orchestrator.OptimizerLockKey, "other", time.Minute, false)
	s.Require().NoError(err)
	defer func() { _ = l.Release() }()

	_, err = s.O.Optimize(context.Background())
	s.Error(err)
}

func (s *OrchestratorTestSuite) TestAction() {
	vm := s.running(s.H1)

	s.NoError(s.O.Action(context.Background(), vm, orchestrator.ActionSuspend))
	s.Equal(aurora.VMPaused, s.reloadVM(vm).State)

	s.NoError(s.O.Action(context.Background(), vm, orchestrator.ActionResume))
	s.Equal(aurora.VMRunning, s.reloadVM(vm).State)

	s.Equal(orchestrator.ErrUnknownAction, s.O.Action(context.Background(), vm, "explode"))
}
