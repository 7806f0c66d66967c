package orchestrator

import (
	"context"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/lock"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/optimizer"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/topology"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Optimize runs the optimization programs of every deployed slice, lowest
// priority value first. Slices without programs use the configured
// defaults. A slice that is being deployed or deleted is skipped. Migration
// failures do not stop the run and come back as an *OptimizationError along
// with the reports.
func (o *Orchestrator) Optimize(ctx context.Context) ([]*optimizer.Report, error) {
	start := time.Now()

	gl, err := o.lock(ctx, OptimizerLockKey, false)
	if err != nil {
		return nil, &OptimizationError{Err: errors.Wrap(err, "optimizer lock")}
	}
	defer release(gl)

	hosts, err := o.aliveHosts()
	if err != nil {
		return nil, &OptimizationError{Err: err}
	}
	dist := o.distances(ctx, hosts)

	var slices aurora.Slices
	err = o.store.ForEachSlice(func(s *aurora.Slice) error {
		if s.State == aurora.SliceDeployed {
			slices = append(slices, s)
		}
		return nil
	})
	if err != nil && !o.store.IsKeyNotFound(err) {
		return nil, &OptimizationError{Err: err}
	}

	var reports []*optimizer.Report
	var result *multierror.Error
	for _, s := range slices {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		rs, err := o.optimizeSlice(ctx, s, hosts, dist)
		reports = append(reports, rs...)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	o.measure(start, "optimize", "total")
	if err := result.ErrorOrNil(); err != nil {
		o.metrics.IncrCounter([]string{"optimize", "error"}, 1)
		return reports, &OptimizationError{Err: err}
	}
	return reports, nil
}

func (o *Orchestrator) optimizeSlice(ctx context.Context, s *aurora.Slice, hosts aurora.Hosts, dist topology.Distancer) ([]*optimizer.Report, error) {
	sl, err := o.lockSlice(ctx, s, false)
	if err != nil {
		if err == lock.ErrLockHeld {
			log.WithField("slice", s.ID).Info("slice busy, not optimizing")
			return nil, nil
		}
		return nil, err
	}
	defer release(sl)

	if err := s.Refresh(); err != nil {
		return nil, err
	}
	if s.State != aurora.SliceDeployed {
		return nil, nil
	}
	if err := o.setSliceState(s, aurora.SliceOptimizing); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.setSliceState(s, aurora.SliceDeployed); err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"slice": s.ID,
			}).Error("failed to save slice state")
		}
	}()

	names := o.defaultOptimization
	if refs := s.Programs(); len(refs) > 0 {
		names = make([]string, len(refs))
		for i, ref := range refs {
			names[i] = ref.Name
		}
	}

	var reports []*optimizer.Report
	var result *multierror.Error
	for _, name := range names {
		program, ok := optimizationProgram(name)
		if !ok {
			result = multierror.Append(result, &OptimizationError{Program: name, Err: errors.New("unknown optimization program")})
			continue
		}
		pass := &optimizer.Pass{
			Store:     o.store,
			Inventory: o.inventory,
			Hosts:     hosts,
			Distances: dist,
			Agents:    o.agents,
			Migrator:  o.Migrator(),
			SliceID:   s.ID,
		}
		start := time.Now()
		report, err := program.Policy().Optimize(ctx, pass)
		o.measure(start, "optimize", name)
		if report != nil {
			reports = append(reports, report)
			o.metrics.IncrCounter([]string{"optimize", name, "migrations"}, float32(len(report.Moves)))
			if ferr := report.Err(); ferr != nil {
				result = multierror.Append(result, &OptimizationError{Program: name, Err: ferr})
			}
		}
		if err != nil {
			result = multierror.Append(result, &OptimizationError{Program: name, Err: err})
		}
	}
	return reports, result.ErrorOrNil()
}
