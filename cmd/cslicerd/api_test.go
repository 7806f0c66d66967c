package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/cli"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/tests/common"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/orchestrator"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// memQueue records tasks instead of talking to beanstalkd
type memQueue struct {
	*jobqueue.Jobs
	mu    sync.Mutex
	tasks []*jobqueue.Job
	err   error
}

func (q *memQueue) AddTask(j *jobqueue.Job) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	q.tasks = append(q.tasks, j)
	return uint64(len(q.tasks)), nil
}

type APISuite struct {
	common.Suite
	Queue  *memQueue
	Server *httptest.Server
	Slice  *aurora.Slice
}

func TestCSlicerdAPI(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupSuite() {
	s.Suite.SetupSuite()
	log.SetLevel(log.FatalLevel)
}

func (s *APISuite) SetupTest() {
	s.Suite.SetupTest()
	s.Queue = &memQueue{Jobs: jobqueue.NewJobs(s.KV)}
	m, err := metrics.New("cslicerdtest")
	s.Require().NoError(err)
	s.Server = httptest.NewServer(Handler(s.Context, s.Queue, m))
	s.Slice = s.NewSlice()
}

func (s *APISuite) TearDownTest() {
	s.Server.Close()
	s.Suite.TearDownTest()
}

func (s *APISuite) url(format string, args ...interface{}) string {
	return s.Server.URL + fmt.Sprintf(format, args...)
}

func (s *APISuite) lastTask() *jobqueue.Job {
	s.Require().NotEmpty(s.Queue.tasks)
	return s.Queue.tasks[len(s.Queue.tasks)-1]
}

func (s *APISuite) TestSlicesList() {
	var slices aurora.Slices
	s.DoRequest("GET", s.url("/slices"), http.StatusOK, nil, &slices)
	s.Len(slices, 1)
	s.Equal(s.Slice.ID, slices[0].ID)
}

func (s *APISuite) TestSliceCreate() {
	tests := []struct {
		description  string
		body         map[string]interface{}
		expectedCode int
	}{
		{"plain", map[string]interface{}{"name": "web"}, http.StatusCreated},
		{"state is ignored", map[string]interface{}{"name": "web", "state": "deployed"}, http.StatusCreated},
		{"programs", map[string]interface{}{
			"deployment_program":    orchestrator.DeployBalanced,
			"optimization_programs": []map[string]interface{}{{"name": orchestrator.OptimizeHops, "priority": 1}},
		}, http.StatusCreated},
		{"unknown deployment", map[string]interface{}{"deployment_program": "bogus"}, http.StatusBadRequest},
		{"unknown optimization", map[string]interface{}{
			"optimization_programs": []map[string]interface{}{{"name": "bogus"}},
		}, http.StatusBadRequest},
	}

	for _, test := range tests {
		var resp aurora.Slice
		s.DoRequest("POST", s.url("/slices"), test.expectedCode, test.body, &resp)
		if test.expectedCode != http.StatusCreated {
			continue
		}
		s.Equal(aurora.SliceCreated, resp.State, test.description)
		saved, err := s.Context.Slice(resp.ID)
		s.NoError(err, test.description)
		s.Equal(aurora.SliceCreated, saved.State, test.description)
	}
}

func (s *APISuite) TestSliceGet() {
	var resp aurora.Slice
	s.DoRequest("GET", s.url("/slices/%s", s.Slice.ID), http.StatusOK, nil, &resp)
	s.Equal(s.Slice.ID, resp.ID)

	s.DoRequest("GET", s.url("/slices/%s", uuid.New()), http.StatusNotFound, nil, nil)
	s.DoRequest("GET", s.url("/slices/not-an-id"), http.StatusBadRequest, nil, nil)
}

func (s *APISuite) TestSliceUpdate() {
	s.Slice.State = aurora.SliceDeployed
	s.Require().NoError(s.Slice.Save())

	var resp aurora.Slice
	body := map[string]interface{}{"name": "renamed", "state": "created", "id": uuid.New()}
	s.DoRequest("PATCH", s.url("/slices/%s", s.Slice.ID), http.StatusOK, body, &resp)
	s.Equal("renamed", resp.Name)
	s.Equal(s.Slice.ID, resp.ID)
	s.Equal(aurora.SliceDeployed, resp.State)

	saved, err := s.Context.Slice(s.Slice.ID)
	s.NoError(err)
	s.Equal("renamed", saved.Name)
}

func (s *APISuite) TestSliceDeploy() {
	resp := s.DoRequest("POST", s.url("/slices/%s/deploy", s.Slice.ID), http.StatusAccepted, nil, nil)
	jobID := resp.Header.Get(cli.JobHeader)
	s.NotEmpty(jobID)

	task := s.lastTask()
	s.Equal(jobID, task.ID)
	s.Equal(jobqueue.ActionDeploy, task.Action)
	s.Equal(s.Slice.ID, task.Slice)

	var job jobqueue.Job
	s.DoRequest("GET", s.url("/jobs/%s", jobID), http.StatusOK, nil, &job)
	s.Equal(jobID, job.ID)
	s.Equal(jobqueue.JobStatusNew, job.Status)

	s.Slice.State = aurora.SliceDisabled
	s.Require().NoError(s.Slice.Save())
	s.DoRequest("POST", s.url("/slices/%s/deploy", s.Slice.ID), http.StatusConflict, nil, nil)
}

func (s *APISuite) TestSliceDelete() {
	resp := s.DoRequest("DELETE", s.url("/slices/%s", s.Slice.ID), http.StatusAccepted, nil, nil)
	s.NotEmpty(resp.Header.Get(cli.JobHeader))
	s.Equal(jobqueue.ActionDelete, s.lastTask().Action)

	_, err := s.Context.Slice(s.Slice.ID)
	s.NoError(err, "records are removed by the worker")
}

func (s *APISuite) TestQueueFailure() {
	s.Queue.err = errors.New("beanstalk is down")
	s.DoRequest("POST", s.url("/slices/%s/deploy", s.Slice.ID), http.StatusInternalServerError, nil, nil)
}

func (s *APISuite) TestCreateVirtualMachine() {
	h := s.NewHost(4, 4*1024*1024)
	body := map[string]interface{}{
		"name":   "web",
		"vcpu":   2,
		"memory": 1024 * 1024,
		"host":   h.ID,
		"slice":  uuid.New(),
	}

	var vm aurora.VirtualMachine
	s.DoRequest("POST", s.url("/slices/%s/vms", s.Slice.ID), http.StatusCreated, body, &vm)
	s.Equal(s.Slice.ID, vm.SliceID)
	s.Empty(vm.HostID, "placement decides the host")
	s.Equal(aurora.VMNotDeployed, vm.State)

	var vms aurora.VirtualMachines
	s.DoRequest("GET", s.url("/slices/%s/vms", s.Slice.ID), http.StatusOK, nil, &vms)
	s.Len(vms, 1)

	s.DoRequest("POST", s.url("/slices/%s/vms", s.Slice.ID), http.StatusBadRequest, map[string]interface{}{"vcpu": 0}, nil)
}

func (s *APISuite) TestCreateVirtualRouter() {
	rc := s.NewRemoteController(aurora.ControllerMaster)

	var vr aurora.VirtualRouter
	s.DoRequest("POST", s.url("/slices/%s/routers", s.Slice.ID), http.StatusCreated,
		map[string]interface{}{"name": "r1", "controllers": []string{rc.ID}}, &vr)
	s.Equal(s.Slice.ID, vr.SliceID)
	s.NotEmpty(vr.DevName)
	s.False(vr.Deployed)

	s.DoRequest("POST", s.url("/slices/%s/routers", s.Slice.ID), http.StatusBadRequest,
		map[string]interface{}{"name": "r2", "controllers": []string{uuid.New()}}, nil)
}

func (s *APISuite) TestCreateVirtualLink() {
	a := s.NewVirtualMachine(s.Slice, 1, 1024)
	b := s.NewVirtualRouter(s.Slice)
	other := s.NewVirtualMachine(s.NewSlice(), 1, 1024)

	tests := []struct {
		description  string
		start, end   string
		qos          map[string]interface{}
		expectedCode int
	}{
		{"vm to router", a.ID, b.ID, nil, http.StatusCreated},
		{"with qos", a.ID, b.ID, map[string]interface{}{"bandwidth_up": 1000, "committed_up": 50}, http.StatusCreated},
		{"bad qos", a.ID, b.ID, map[string]interface{}{"committed_up": 150}, http.StatusBadRequest},
		{"same device", a.ID, a.ID, nil, http.StatusBadRequest},
		{"other slice", a.ID, other.ID, nil, http.StatusBadRequest},
		{"missing", a.ID, uuid.New(), nil, http.StatusNotFound},
		{"invalid", a.ID, "nope", nil, http.StatusBadRequest},
	}

	created := 0
	for _, test := range tests {
		body := map[string]interface{}{"start": test.start, "end": test.end}
		if test.qos != nil {
			body["qos"] = test.qos
		}
		var l aurora.VirtualLink
		s.DoRequest("POST", s.url("/slices/%s/links", s.Slice.ID), test.expectedCode, body, &l)
		if test.expectedCode != http.StatusCreated {
			continue
		}
		created++
		s.Equal(aurora.LinkCreated, l.State, test.description)
		s.Equal(s.Slice.ID, l.SliceID, test.description)

		saved, err := s.Context.VirtualLink(l.ID)
		s.NoError(err, test.description)
		if test.qos != nil {
			s.NotNil(saved.QoS, test.description)
		}
	}

	var links aurora.VirtualLinks
	s.DoRequest("GET", s.url("/slices/%s/links", s.Slice.ID), http.StatusOK, nil, &links)
	s.Len(links, created)

	vis, err := a.Interfaces()
	s.NoError(err)
	s.Len(vis, created)
	for _, vi := range vis {
		s.NotNil(vi.MAC)
		s.NotEmpty(vi.Target)
	}
}

func (s *APISuite) TestVirtualMachineAction() {
	vm := s.NewVirtualMachine(s.Slice, 1, 1024)

	s.DoRequest("POST", s.url("/vms/%s/reboot", vm.ID), http.StatusBadRequest, nil, nil)
	s.DoRequest("POST", s.url("/vms/%s/start", vm.ID), http.StatusConflict, nil, nil)

	s.Place(vm, s.NewHost(4, 4*1024*1024))
	resp := s.DoRequest("POST", s.url("/vms/%s/start", vm.ID), http.StatusAccepted, nil, nil)
	s.NotEmpty(resp.Header.Get(cli.JobHeader))
	task := s.lastTask()
	s.Equal("start", task.Action)
	s.Equal(vm.ID, task.VM)

	var got aurora.VirtualMachine
	s.DoRequest("GET", s.url("/vms/%s", vm.ID), http.StatusOK, nil, &got)
	s.Equal(vm.ID, got.ID)
	s.DoRequest("GET", s.url("/vms/%s", uuid.New()), http.StatusNotFound, nil, nil)
}

func (s *APISuite) TestHosts() {
	body := map[string]interface{}{
		"name":   "compute1",
		"ip":     "10.0.0.5",
		"cores":  8,
		"memory": 16 * 1024 * 1024,
	}
	var created map[string]interface{}
	s.DoRequest("POST", s.url("/hosts"), http.StatusCreated, body, &created)
	s.Equal(aurora.HostOffline, created["status"], "no heartbeat yet")
	id := created["id"].(string)

	h, err := s.Context.Host(id)
	s.Require().NoError(err)
	s.Equal(net.ParseIP("10.0.0.5").String(), h.IP.String())
	s.NotEmpty(h.Bridge)

	alive := s.NewHost(4, 4*1024*1024)
	var hosts []map[string]interface{}
	s.DoRequest("GET", s.url("/hosts"), http.StatusOK, nil, &hosts)
	s.Len(hosts, 2)
	for _, host := range hosts {
		if host["id"] == alive.ID {
			s.Equal(aurora.HostActive, host["status"])
		}
	}

	var updated map[string]interface{}
	s.DoRequest("PATCH", s.url("/hosts/%s", id), http.StatusOK, map[string]interface{}{"cores": 16, "id": uuid.New()}, &updated)
	s.Equal(id, updated["id"])
	s.EqualValues(16, updated["cores"])

	s.DoRequest("POST", s.url("/hosts"), http.StatusBadRequest, map[string]interface{}{"name": "x"}, nil)

	vm := s.NewVirtualMachine(s.Slice, 1, 1024)
	s.Place(vm, alive)
	var vms aurora.VirtualMachines
	s.DoRequest("GET", s.url("/hosts/%s/vms", alive.ID), http.StatusOK, nil, &vms)
	s.Len(vms, 1)
	s.DoRequest("DELETE", s.url("/hosts/%s", alive.ID), http.StatusConflict, nil, nil)
	s.DoRequest("DELETE", s.url("/hosts/%s", id), http.StatusOK, nil, nil)
}

func (s *APISuite) TestControllers() {
	var rc aurora.RemoteController
	s.DoRequest("POST", s.url("/controllers"), http.StatusCreated,
		map[string]interface{}{"ip": "10.0.0.1", "port": 6653, "type": "slave"}, &rc)
	s.Equal(aurora.ControllerSlave, rc.Type)
	s.Equal("tcp", rc.Connection)

	s.DoRequest("POST", s.url("/controllers"), http.StatusBadRequest,
		map[string]interface{}{"ip": "10.0.0.1", "connection": "ssl"}, nil)

	var rcs aurora.RemoteControllers
	s.DoRequest("GET", s.url("/controllers"), http.StatusOK, nil, &rcs)
	s.Len(rcs, 1)

	vr := s.NewVirtualRouter(s.Slice)
	vr.Controllers = []string{rc.ID}
	s.Require().NoError(vr.Save())
	s.DoRequest("DELETE", s.url("/controllers/%s", rc.ID), http.StatusConflict, nil, nil)

	vr.Controllers = []string{}
	s.Require().NoError(vr.Save())
	s.DoRequest("DELETE", s.url("/controllers/%s", rc.ID), http.StatusOK, nil, nil)
	s.DoRequest("GET", s.url("/controllers/%s", rc.ID), http.StatusNotFound, nil, nil)
}

func (s *APISuite) TestOptimizeAndResync() {
	resp := s.DoRequest("POST", s.url("/optimize"), http.StatusAccepted, nil, nil)
	s.NotEmpty(resp.Header.Get(cli.JobHeader))
	s.Equal(jobqueue.ActionOptimize, s.lastTask().Action)

	s.DoRequest("POST", s.url("/resync"), http.StatusAccepted, nil, nil)
	s.Equal(jobqueue.ActionResync, s.lastTask().Action)

	s.DoRequest("GET", s.url("/jobs/%s", uuid.New()), http.StatusNotFound, nil, nil)
}

func (s *APISuite) TestPrograms() {
	var programs map[string][]string
	s.DoRequest("GET", s.url("/programs"), http.StatusOK, nil, &programs)
	s.Contains(programs["deployment"], orchestrator.DeployBalanced)
	s.Contains(programs["optimization"], orchestrator.OptimizeHops)
}

func (s *APISuite) TestMetrics() {
	s.DoRequest("GET", s.url("/slices"), http.StatusOK, nil, nil)
	resp, err := http.Get(s.url("/metrics"))
	s.Require().NoError(err)
	defer func() { _ = resp.Body.Close() }()
	s.Equal(http.StatusOK, resp.StatusCode)
}
