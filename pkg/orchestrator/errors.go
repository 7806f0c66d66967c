package orchestrator

import "fmt"

// DeploymentError aborts a slice deployment. Entity names the slice, machine
// or router that failed.
type DeploymentError struct {
	Slice  string
	Stage  string
	Entity string
	Err    error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deploy slice %s: %s %s: %v", e.Slice, e.Stage, e.Entity, e.Err)
}

// Cause returns the underlying failure
func (e *DeploymentError) Cause() error {
	return e.Err
}

// OptimizationError carries the per machine failures of an optimization run
type OptimizationError struct {
	Program string
	Err     error
}

func (e *OptimizationError) Error() string {
	if e.Program == "" {
		return fmt.Sprintf("optimize: %v", e.Err)
	}
	return fmt.Sprintf("optimize %s: %v", e.Program, e.Err)
}

// Cause returns the underlying failure
func (e *OptimizationError) Cause() error {
	return e.Err
}
