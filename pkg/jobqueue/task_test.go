package jobqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/jobqueue"
	"github.com/stretchr/testify/suite"
)

func TestTask(t *testing.T) {
	suite.Run(t, new(TaskSuite))
}

type TaskSuite struct {
	BeanstalkSuite
}

func (s *TaskSuite) next() *jobqueue.Task {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	task, err := s.Client.NextWorkTask(ctx)
	s.Require().NoError(err)
	return task
}

func (s *TaskSuite) TestDelete() {
	_, _ = s.Client.AddTask(s.newJob(""))
	task := s.next()
	s.NoError(task.Delete())
	s.Error(task.Delete(), "already deleted")
}

func (s *TaskSuite) TestRelease() {
	_, _ = s.Client.AddTask(s.newJob(""))
	task1 := s.next()
	s.NoError(task1.Release())
	task2 := s.next()
	s.Equal(task1.ID, task2.ID)
	s.NoError(task2.Delete())
}

func (s *TaskSuite) TestRefreshJob() {
	job := s.newJob(jobqueue.ActionDeploy)
	_, _ = s.Client.AddTask(job)
	task := s.next()
	s.Require().Equal(jobqueue.ActionDeploy, task.Job.Action)

	s.Require().NoError(job.Refresh())
	job.Action = jobqueue.ActionDelete
	s.Require().NoError(job.Save())

	s.NoError(task.RefreshJob())
	s.Equal(jobqueue.ActionDelete, task.Job.Action)
	s.NoError(task.Delete())
}
