package jobqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	"github.com/stretchr/testify/suite"
)

type ClientTestSuite struct {
	BeanstalkSuite
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) TestNewClient() {
	tests := []struct {
		description string
		bstalkAddr  string
		kv          kv.KV
		expectedErr bool
	}{
		{"missing both", "", nil, true},
		{"missing kv", s.BStalkAddr, nil, true},
		{"missing bstalk", "", s.KV, true},
		{"invalid bstalk", "asdf", s.KV, true},
		{"not running bstalk", "127.0.0.1:12345", s.KV, true},
		{"bstalk and kv", s.BStalkAddr, s.KV, false},
	}

	for _, test := range tests {
		msg := testMsgFunc(test.description)
		c, err := jobqueue.NewClient(test.bstalkAddr, test.kv)
		if test.expectedErr {
			s.Error(err, msg("should error"))
			s.Nil(c, msg("fail should not return client"))
		} else {
			s.NoError(err, msg("should succeed"))
			s.NotNil(c, msg("success should return client"))
			_ = c.Close()
		}
	}
}

func (s *ClientTestSuite) TestAddTask() {
	tests := []struct {
		description string
		job         *jobqueue.Job
		expectedErr bool
	}{
		{"no job", nil, true},
		{"deploy job", s.newJob(jobqueue.ActionDeploy), false},
		{"optimize job", s.newJob(jobqueue.ActionOptimize), false},
	}
	for _, test := range tests {
		msg := testMsgFunc(test.description)
		id, err := s.Client.AddTask(test.job)
		if test.expectedErr {
			s.Error(err, msg("should fail"))
			s.Equal(uint64(0), id, msg("should not return an id"))
		} else {
			s.NoError(err, msg("should succeed"))
			s.NotEqual(uint64(0), id, msg("should return an id"))
		}
	}
}

func (s *ClientTestSuite) TestDeleteTask() {
	taskID, err := s.Client.AddTask(s.newJob(""))
	s.Require().NoError(err)
	s.NoError(s.Client.DeleteTask(taskID), "existing should succeed")
	s.Error(s.Client.DeleteTask(taskID), "missing should fail")
}

func (s *ClientTestSuite) TestNextTask() {
	deploy := s.newJob(jobqueue.ActionDeploy)
	optimize := s.newJob(jobqueue.ActionOptimize)
	_, err := s.Client.AddTask(deploy)
	s.Require().NoError(err)
	_, err = s.Client.AddTask(optimize)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	task, err := s.Client.NextWorkTask(ctx)
	s.Require().NoError(err)
	s.Equal(deploy.ID, task.JobID)
	s.Equal(jobqueue.ActionDeploy, task.Job.Action)
	s.NoError(task.Touch())
	s.NoError(task.Delete())

	task, err = s.Client.NextOptimizeTask(ctx)
	s.Require().NoError(err)
	s.Equal(optimize.ID, task.JobID)
	s.NoError(task.Delete())
}

func (s *ClientTestSuite) TestNextTaskCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Client.NextWorkTask(ctx)
	s.Equal(context.Canceled, err)
}
