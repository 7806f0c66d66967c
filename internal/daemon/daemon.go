// Package daemon wires the pieces every daemon starts with: config, logging,
// the kv, the metrics and, for the daemons that act on slices, an
// orchestrator.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/logx"
	"github.com/ComputerNetworks-UFRGS/Aurora/internal/metrics"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/config"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/fabric"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv"
	_ "github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv/consul"
	_ "github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv/etcd"
	_ "github.com/ComputerNetworks-UFRGS/Aurora/pkg/kv/mem"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/orchestrator"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/sdn"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Setup parses the daemon's flags and sets up logging
func Setup(name string, args []string) (*config.Config, error) {
	cfg, err := config.Parse(name, args)
	if err != nil {
		return nil, err
	}
	if err := logx.DefaultSetup(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Connect opens the kv named in cfg and checks that it answers. The cluster
// settings stored in it are applied to cfg.
func Connect(cfg *config.Config) (*aurora.Context, error) {
	store, err := kv.New(cfg.KV)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(); err != nil {
		return nil, err
	}
	ctx := aurora.NewContext(store)
	cfg.ApplyCluster(ctx)
	return ctx, nil
}

// Agents returns the hypervisor agent pool selected by cfg
func Agents(cfg *config.Config) *aurora.AgentPool {
	if cfg.Agent.Stub {
		return aurora.NewAgentPool(aurora.NewStubAgent(cfg.Agent.FailPercent).Factory())
	}
	return aurora.NewAgentPool(aurora.NewHTTPAgent)
}

// Orchestrator builds an orchestrator against the controller and the host
// fabrics named in cfg
func Orchestrator(cfg *config.Config, ctx *aurora.Context, m *metrics.Metrics) (*orchestrator.Orchestrator, error) {
	inv, err := ctx.NewInventory(cfg.Inventory.Divisor, cfg.Inventory.CPUMultiplier)
	if err != nil {
		return nil, err
	}
	oc := orchestrator.Config{
		Store:               ctx,
		Inventory:           inv.WithLocks(cfg.Timeouts.Lock),
		Agents:              Agents(cfg),
		Controller:          sdn.NewFloodlight(cfg.Controller, cfg.Timeouts.Controller),
		Fabric:              fabric.NewOVS(nil),
		LockTTL:             cfg.Timeouts.Lock,
		DefaultDeployment:   cfg.Programs.Deployment,
		DefaultOptimization: cfg.Programs.Optimization,
	}
	if m != nil {
		oc.Metrics = m.Metrics
	}
	return orchestrator.New(oc)
}

// SignalContext returns a context canceled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Serve runs server until ctx is done, then shuts it down
func Serve(ctx context.Context, server *http.Server) error {
	errs := make(chan error, 1)
	go func() {
		log.WithField("address", server.Addr).Info("listening")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// MetricsServer serves only the metrics of a daemon without an API
func MetricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
