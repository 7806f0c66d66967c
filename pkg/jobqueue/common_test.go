package jobqueue_test

import (
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	_ "github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv/mem"
	"github.com/pborman/uuid"
	"github.com/stretchr/testify/suite"
)

type JobQCommonSuite struct {
	suite.Suite
	KV   kv.KV
	Jobs *jobqueue.Jobs
}

func (s *JobQCommonSuite) SetupTest() {
	var err error
	s.KV, err = kv.New("mem://")
	s.Require().NoError(err)
	s.Jobs = jobqueue.NewJobs(s.KV)
}

func (s *JobQCommonSuite) newJob(action string) *jobqueue.Job {
	if action == "" {
		action = jobqueue.ActionDeploy
	}
	j := s.Jobs.NewJob()
	j.Action = action
	j.Slice = uuid.New()
	j.VM = uuid.New()
	s.Require().NoError(j.Save())
	return j
}

// BeanstalkSuite runs a private beanstalkd for each test and is skipped
// when none is installed
type BeanstalkSuite struct {
	JobQCommonSuite
	BStalkAddr string
	BStalkCmd  *exec.Cmd
	Client     *jobqueue.Client
}

func (s *BeanstalkSuite) SetupSuite() {
	if _, err := exec.LookPath("beanstalkd"); err != nil {
		s.T().Skip("beanstalkd not installed")
	}
}

func (s *BeanstalkSuite) SetupTest() {
	s.JobQCommonSuite.SetupTest()

	bPort := "4321"
	s.BStalkCmd = exec.Command("beanstalkd", "-l", "127.0.0.1", "-p", bPort)
	s.Require().NoError(s.BStalkCmd.Start())
	s.BStalkAddr = fmt.Sprintf("127.0.0.1:%s", bPort)

	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", s.BStalkAddr)
		if err == nil {
			_ = conn.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	client, err := jobqueue.NewClient(s.BStalkAddr, s.KV)
	s.Require().NoError(err)
	s.Client = client
}

func (s *BeanstalkSuite) TearDownTest() {
	_ = s.Client.Close()
	s.Require().NoError(s.BStalkCmd.Process.Kill())
	s.Require().Error(s.BStalkCmd.Wait())
}

func testMsgFunc(prefix string) func(...interface{}) string {
	return func(val ...interface{}) string {
		if len(val) == 0 {
			return prefix
		}
		msgPrefix := prefix + " : "
		if len(val) == 1 {
			return msgPrefix + val[0].(string)
		}
		return msgPrefix + fmt.Sprintf(val[0].(string), val[1:]...)
	}
}
