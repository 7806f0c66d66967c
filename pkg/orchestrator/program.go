package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/optimizer"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/placement"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
)

// Built-in program names
const (
	DeployBalanced   = "DeployBalanced"
	OptimizeBalance  = "OptimizeBalance"
	OptimizeHops     = "OptimizeHops"
	OptimizeEnergy   = "OptimizeEnergy"
	defaultDeploy    = DeployBalanced
	defaultOptimizer = OptimizeBalance
)

type (
	// DeploymentProgram decides where the devices of a slice go
	DeploymentProgram interface {
		Place(ctx context.Context, e *placement.Engine, s *aurora.Slice, hosts aurora.Hosts, dist topology.Distancer) (placement.Plan, error)
	}

	// DeploymentProgramFunc adapts a function to a DeploymentProgram
	DeploymentProgramFunc func(ctx context.Context, e *placement.Engine, s *aurora.Slice, hosts aurora.Hosts, dist topology.Distancer) (placement.Plan, error)

	// OptimizationProgram is a migration policy run against deployed slices
	OptimizationProgram interface {
		Policy() optimizer.Policy
	}

	policyProgram struct {
		policy optimizer.Policy
	}
)

// Place calls f
func (f DeploymentProgramFunc) Place(ctx context.Context, e *placement.Engine, s *aurora.Slice, hosts aurora.Hosts, dist topology.Distancer) (placement.Plan, error) {
	return f(ctx, e, s, hosts, dist)
}

func (p policyProgram) Policy() optimizer.Policy {
	return p.policy
}

var programs = struct {
	sync.RWMutex
	deploy   map[string]DeploymentProgram
	optimize map[string]OptimizationProgram
}{
	deploy:   map[string]DeploymentProgram{},
	optimize: map[string]OptimizationProgram{},
}

// RegisterDeployment makes a deployment program available by name
func RegisterDeployment(name string, p DeploymentProgram) {
	programs.Lock()
	defer programs.Unlock()

	if _, dup := programs.deploy[name]; dup {
		panic("orchestrator: RegisterDeployment called twice for " + name)
	}
	programs.deploy[name] = p
}

// RegisterOptimization makes an optimization program available by name
func RegisterOptimization(name string, p OptimizationProgram) {
	programs.Lock()
	defer programs.Unlock()

	if _, dup := programs.optimize[name]; dup {
		panic("orchestrator: RegisterOptimization called twice for " + name)
	}
	programs.optimize[name] = p
}

func deploymentProgram(name string) (DeploymentProgram, bool) {
	programs.RLock()
	defer programs.RUnlock()
	p, ok := programs.deploy[name]
	return p, ok
}

func optimizationProgram(name string) (OptimizationProgram, bool) {
	programs.RLock()
	defer programs.RUnlock()
	p, ok := programs.optimize[name]
	return p, ok
}

// Programs lists the registered deployment and optimization program names
func Programs() (deploy []string, optimize []string) {
	programs.RLock()
	defer programs.RUnlock()
	for name := range programs.deploy {
		deploy = append(deploy, name)
	}
	for name := range programs.optimize {
		optimize = append(optimize, name)
	}
	sort.Strings(deploy)
	sort.Strings(optimize)
	return deploy, optimize
}

func init() {
	RegisterDeployment(DeployBalanced, DeploymentProgramFunc(func(ctx context.Context, e *placement.Engine, s *aurora.Slice, hosts aurora.Hosts, dist topology.Distancer) (placement.Plan, error) {
		return e.PlaceSlice(ctx, s, hosts, dist)
	}))
	RegisterOptimization(OptimizeBalance, policyProgram{optimizer.Balance{}})
	RegisterOptimization(OptimizeHops, policyProgram{optimizer.Hops{}})
	RegisterOptimization(OptimizeEnergy, policyProgram{optimizer.Energy{}})
}
