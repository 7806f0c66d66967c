package orchestrator

import (
	"context"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DeployReport is the per stage timing of a deployment
type DeployReport struct {
	Slice     string        `json:"slice"`
	Program   string        `json:"program"`
	Gather    time.Duration `json:"gather"`
	Reason    time.Duration `json:"reason"`
	Deploy    time.Duration `json:"deploy"`
	Start     time.Duration `json:"start"`
	Establish time.Duration `json:"establish"`
	Total     time.Duration `json:"total"`
	// LinkErrors are the links that failed to establish. They do not abort
	// the deployment.
	LinkErrors error `json:"-"`
}

func (o *Orchestrator) abort(s *aurora.Slice, stage, entity string, err error) error {
	return &DeploymentError{Slice: s.ID, Stage: stage, Entity: entity, Err: err}
}

func (o *Orchestrator) setSliceState(s *aurora.Slice, state string) error {
	s.State = state
	return s.Save()
}

// Deploy places every device of the slice, defines and starts its machines,
// creates its router bridges and establishes its links. Placement and
// machine failures abort the deployment; link failures are reported in the
// DeployReport.
func (o *Orchestrator) Deploy(ctx context.Context, s *aurora.Slice) (*DeployReport, error) {
	total := time.Now()

	l, err := o.lockSlice(ctx, s, true)
	if err != nil {
		return nil, o.abort(s, "lock", "slice "+s.ID, err)
	}
	defer release(l)

	if err := s.Refresh(); err != nil {
		return nil, o.abort(s, "load", "slice "+s.ID, err)
	}
	if s.State == aurora.SliceDisabled {
		return nil, o.abort(s, "load", "slice "+s.ID, errors.New("slice is disabled"))
	}

	name := s.DeploymentProgram
	if name == "" {
		name = o.defaultDeployment
	}
	program, ok := deploymentProgram(name)
	if !ok {
		return nil, o.abort(s, "load", "slice "+s.ID, errors.Errorf("unknown deployment program %q", name))
	}

	if err := o.setSliceState(s, aurora.SliceDeploying); err != nil {
		return nil, o.abort(s, "load", "slice "+s.ID, err)
	}

	report := &DeployReport{Slice: s.ID, Program: name}
	var established aurora.VirtualLinks
	err = o.deploy(ctx, s, program, report, &established)
	if err != nil {
		o.rollback(s, established)
		return report, err
	}

	s.DeployedWith = name
	if err := o.setSliceState(s, aurora.SliceDeployed); err != nil {
		return report, o.abort(s, "finish", "slice "+s.ID, err)
	}
	report.Total = o.measure(total, "deploy", "total")

	log.WithFields(log.Fields{
		"slice":     s.ID,
		"program":   name,
		"gather":    report.Gather,
		"reason":    report.Reason,
		"deploy":    report.Deploy,
		"start":     report.Start,
		"establish": report.Establish,
		"total":     report.Total,
	}).Info("slice deployed")
	return report, nil
}

func (o *Orchestrator) deploy(ctx context.Context, s *aurora.Slice, program DeploymentProgram, report *DeployReport, established *aurora.VirtualLinks) error {
	stage := time.Now()
	hosts, err := o.aliveHosts()
	if err != nil {
		return o.abort(s, "gather", "hosts", err)
	}
	dist := o.distances(ctx, hosts)
	vms, err := s.VirtualMachines()
	if err != nil {
		return o.abort(s, "gather", "machines", err)
	}
	vrs, err := s.VirtualRouters()
	if err != nil {
		return o.abort(s, "gather", "routers", err)
	}
	report.Gather = o.measure(stage, "deploy", "gather")

	stage = time.Now()
	if _, err := program.Place(ctx, o.engine, s, hosts, dist); err != nil {
		return o.abort(s, "placement", "slice "+s.ID, err)
	}
	report.Reason = o.measure(stage, "deploy", "reason")

	stage = time.Now()
	for _, vm := range vms {
		if err := ctx.Err(); err != nil {
			return o.abort(s, "deploy", "slice "+s.ID, err)
		}
		if err := o.defineVM(ctx, vm); err != nil {
			return o.abort(s, "deploy", "vm "+vm.ID, err)
		}
	}
	for _, vr := range vrs {
		if err := ctx.Err(); err != nil {
			return o.abort(s, "deploy", "slice "+s.ID, err)
		}
		if err := o.deployRouter(ctx, vr); err != nil {
			return o.abort(s, "deploy", "router "+vr.ID, err)
		}
	}
	report.Deploy = o.measure(stage, "deploy", "deploy")

	stage = time.Now()
	for _, vm := range vms {
		if err := ctx.Err(); err != nil {
			return o.abort(s, "start", "slice "+s.ID, err)
		}
		if err := o.startVM(ctx, vm); err != nil {
			return o.abort(s, "start", "vm "+vm.ID, err)
		}
	}
	report.Start = o.measure(stage, "deploy", "start")

	stage = time.Now()
	links, err := s.VirtualLinks()
	if err != nil {
		return o.abort(s, "establish", "links", err)
	}
	var linkErrs *multierror.Error
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return o.abort(s, "establish", "slice "+s.ID, err)
		}
		if l.State == aurora.LinkEstablish {
			continue
		}
		if err := o.provisioner.Establish(ctx, l); err != nil {
			linkErrs = multierror.Append(linkErrs, err)
			continue
		}
		*established = append(*established, l)
	}
	report.LinkErrors = linkErrs.ErrorOrNil()
	report.Establish = o.measure(stage, "deploy", "establish")
	if report.LinkErrors != nil {
		o.metrics.IncrCounter([]string{"deploy", "link", "error"}, float32(len(linkErrs.Errors)))
		log.WithFields(log.Fields{
			"error": report.LinkErrors,
			"slice": s.ID,
		}).Warn("some links failed to establish")
	}
	return nil
}

// rollback tears down the links this deployment brought up. Records and
// placements are kept so the failure can be inspected and retried.
func (o *Orchestrator) rollback(s *aurora.Slice, established aurora.VirtualLinks) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	for _, l := range established {
		if err := o.provisioner.Unestablish(ctx, l); err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"slice": s.ID,
				"link":  l.ID,
			}).Error("failed to tear down link")
		}
	}
	o.metrics.IncrCounter([]string{"deploy", "error"}, 1)
	if err := o.setSliceState(s, aurora.SliceCreated); err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"slice": s.ID,
		}).Error("failed to save slice state")
	}
}

// defineVM defines the machine on its host. A machine the hypervisor
// already knows is left alone.
func (o *Orchestrator) defineVM(ctx context.Context, vm *aurora.VirtualMachine) error {
	if err := vm.Refresh(); err != nil {
		return err
	}
	if vm.HostID == "" {
		return errors.New("not placed")
	}
	agent, _, err := o.agent(vm)
	if err != nil {
		return err
	}
	if state, err := agent.State(ctx, vm); err == nil && state != aurora.VMNotDeployed {
		return nil
	}
	if err := agent.Define(ctx, vm); err != nil {
		return err
	}
	vm.State = aurora.VMShutOff
	return vm.Save()
}

func (o *Orchestrator) startVM(ctx context.Context, vm *aurora.VirtualMachine) error {
	if vm.State == aurora.VMRunning {
		return nil
	}
	agent, _, err := o.agent(vm)
	if err != nil {
		return err
	}
	if err := agent.Start(ctx, vm); err != nil {
		return err
	}
	vm.State = aurora.VMRunning
	return vm.Save()
}

// deployRouter creates the router bridge on its host and points it at the
// router's controllers
func (o *Orchestrator) deployRouter(ctx context.Context, vr *aurora.VirtualRouter) error {
	if err := vr.Refresh(); err != nil {
		return err
	}
	if vr.HostID == "" {
		return errors.New("not placed")
	}
	h, err := o.store.Host(vr.HostID)
	if err != nil {
		return err
	}
	rcs, err := vr.RemoteControllers()
	if err != nil {
		return err
	}
	if err := o.fabric.EnsureBridge(ctx, h, vr.DevName, rcs.Targets()); err != nil {
		return err
	}
	vr.Deployed = true
	return vr.Save()
}
