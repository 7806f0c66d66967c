package jobqueue

// Task is a "helper" struct to pull together information from beanstalk and the kv
type Task struct {
	ID     uint64 // id from beanstalkd
	JobID  string // body from beanstalkd
	Job    *Job
	client *Client
}

// Delete removes a task from beanstalk
func (t *Task) Delete() error {
	return t.client.DeleteTask(t.ID)
}

// Release releases a task back to beanstalk
func (t *Task) Release() error {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	return t.client.conn.Release(t.ID, priority, releaseDelay)
}

// Touch extends the time the task may stay reserved
func (t *Task) Touch() error {
	t.client.mu.Lock()
	defer t.client.mu.Unlock()
	return t.client.conn.Touch(t.ID)
}

// RefreshJob reloads a task's job information
func (t *Task) RefreshJob() error {
	job, err := t.client.Job(t.JobID)
	if err != nil {
		return err
	}
	t.Job = job
	return nil
}
