// Package common contains common utilities and suites to be used in other tests
package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	_ "github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv/mem"
	"github.com/stretchr/testify/suite"
)

const defaultHeartbeat = time.Hour

// Suite sets up a general test suite backed by a fresh in-memory kv per test.
type Suite struct {
	suite.Suite
	KVPrefix string
	KVURL    string
	KV       kv.KV
	Context  *aurora.Context

	hostCount int
}

// SetupSuite sets the kv location.
func (s *Suite) SetupSuite() {
	if s.KVURL == "" {
		s.KVURL = "mem://"
	}
	s.KVPrefix = "aurora"
}

// SetupTest prepares a clean kv and context.
func (s *Suite) SetupTest() {
	var err error
	s.KV, err = kv.New(s.KVURL)
	s.Require().NoError(err)
	s.Context = aurora.NewContext(s.KV)
	s.hostCount = 0
}

// TearDownTest cleans the kv instance.
func (s *Suite) TearDownTest() {
	if err := s.KV.Delete(s.KVPrefix, true); err != nil {
		s.True(s.KV.IsKeyNotFound(err))
	}
}

// PrefixKey generates an kv key using the set prefix
func (s *Suite) PrefixKey(key string) string {
	return filepath.Join(s.KVPrefix, key)
}

// NewHost creates and saves a new, alive Host.
func (s *Suite) NewHost(cores uint32, memory uint64) *aurora.Host {
	s.hostCount++
	h := s.Context.NewHost()
	h.Name = fmt.Sprintf("host%d", s.hostCount)
	h.IP = net.IPv4(192, 168, 100, byte(10+s.hostCount))
	h.Cores = cores
	h.Memory = memory
	h.SwitchDPID = fmt.Sprintf("00:00:00:00:00:00:00:%02x", s.hostCount)
	h.SwitchPort = 1
	s.Require().NoError(h.Save())
	s.Require().NoError(h.Heartbeat(defaultHeartbeat))
	return h
}

// NewSlice creates and saves a new Slice.
func (s *Suite) NewSlice() *aurora.Slice {
	sl := s.Context.NewSlice()
	sl.Name = "slice"
	s.Require().NoError(sl.Save())
	return sl
}

// NewVirtualMachine creates and saves a new unplaced VirtualMachine in the
// slice, with one interface.
func (s *Suite) NewVirtualMachine(slice *aurora.Slice, vcpu uint32, memory uint64) *aurora.VirtualMachine {
	vm := s.Context.NewVirtualMachine()
	vm.Name = "vm-" + vm.ID[:8]
	vm.VCPU = vcpu
	vm.Memory = memory
	if slice != nil {
		vm.SliceID = slice.ID
	}
	s.Require().NoError(vm.Save())
	return vm
}

// NewVirtualRouter creates and saves a new unplaced VirtualRouter in the slice.
func (s *Suite) NewVirtualRouter(slice *aurora.Slice) *aurora.VirtualRouter {
	vr := s.Context.NewVirtualRouter()
	vr.Name = "vr-" + vr.ID[:8]
	if slice != nil {
		vr.SliceID = slice.ID
	}
	s.Require().NoError(vr.Save())
	return vr
}

// NewInterface creates and saves a new interface on the device. Machine
// interfaces get a MAC and a tap target.
func (s *Suite) NewInterface(d aurora.VirtualDevice) *aurora.VirtualInterface {
	vi := s.Context.NewVirtualInterface(d)
	vi.Alias = "eth-" + vi.ID[:4]
	if !d.IsRouter() {
		id := []byte(vi.ID)
		vi.MAC = net.HardwareAddr{0x52, 0x54, 0x00, id[0], id[1], id[2]}
		vi.Target = "tap" + vi.ID[:8]
	}
	s.Require().NoError(vi.Save())
	return vi
}

// NewLink creates and saves a link between new interfaces on a and b.
func (s *Suite) NewLink(slice *aurora.Slice, a, b aurora.VirtualDevice) *aurora.VirtualLink {
	l := s.Context.NewVirtualLink(s.NewInterface(a), s.NewInterface(b))
	if slice != nil {
		l.SliceID = slice.ID
	}
	s.Require().NoError(l.Save())
	return l
}

// NewRemoteController creates and saves a new RemoteController.
func (s *Suite) NewRemoteController(kind string) *aurora.RemoteController {
	rc := s.Context.NewRemoteController()
	rc.IP = net.IPv4(10, 0, 0, 1)
	rc.Type = kind
	s.Require().NoError(rc.Save())
	return rc
}

// Place assigns a device to a host directly, bypassing the inventory.
func (s *Suite) Place(d aurora.VirtualDevice, h *aurora.Host) {
	switch v := d.(type) {
	case *aurora.VirtualMachine:
		v.HostID = h.ID
	case *aurora.VirtualRouter:
		v.HostID = h.ID
	}
	s.Require().NoError(d.Save())
}

// DoRequest is a convenience method for making an http request and doing basic handling of the response.
func (s *Suite) DoRequest(method, url string, expectedRespCode int, postBodyStruct interface{}, respBody interface{}) *http.Response {
	var postBody io.Reader
	if postBodyStruct != nil {
		bodyBytes, _ := json.Marshal(postBodyStruct)
		postBody = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequest(method, url, postBody)
	s.Require().NoError(err)
	if postBody != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	s.Require().NoError(err)
	correctResponse := s.Equal(expectedRespCode, resp.StatusCode)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	s.NoError(err)

	if correctResponse && respBody != nil {
		s.NoError(json.Unmarshal(body, respBody))
	} else if !correctResponse {
		s.T().Log(string(body))
	}
	return resp
}
