// Package config holds the settings shared by the daemons. Values come from
// defaults, then an optional YAML file, then command line flags.
package config

import (
	"os"
	"time"

	"github.com/ComputerNetworks-UFRGS/Aurora"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/hostport"
	"github.com/ComputerNetworks-UFRGS/Aurora/pkg/orchestrator"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	beanstalkPort = "11300"
	httpPort      = "18000"
)

// Defaults
const (
	DefaultKV          = "http://localhost:2379"
	DefaultBeanstalk   = "127.0.0.1:" + beanstalkPort
	DefaultHTTP        = ":" + httpPort
	DefaultController  = "http://127.0.0.1:8080"
	DefaultLogLevel    = "warn"
	DefaultProbeTTL    = 60 * time.Second
	DefaultProbePeriod = 20 * time.Second
	DefaultOptimize    = 10 * time.Minute
)

type (
	// Inventory tunes the capacity accounting
	Inventory struct {
		// Divisor of 0 uses the number of hosts
		Divisor       float64 `yaml:"divisor"`
		CPUMultiplier float64 `yaml:"cpu_multiplier"`
	}

	// Programs names the programs used when a slice names none
	Programs struct {
		Deployment   string   `yaml:"deployment"`
		Optimization []string `yaml:"optimization"`
	}

	// Agent selects the hypervisor agent implementation
	Agent struct {
		// Stub simulates hypervisors instead of calling host agents
		Stub        bool `yaml:"stub"`
		FailPercent int  `yaml:"fail_percent"`
	}

	// Timeouts bounds the blocking operations of the daemons
	Timeouts struct {
		Controller time.Duration `yaml:"controller"`
		Lock       time.Duration `yaml:"lock"`
		Job        time.Duration `yaml:"job"`
	}

	// Config is the full set of daemon settings
	Config struct {
		// File is the YAML file the rest was read from, if any
		File string `yaml:"-"`

		LogLevel   string `yaml:"log_level"`
		KV         string `yaml:"kv"`
		Beanstalk  string `yaml:"beanstalk"`
		HTTP       string `yaml:"http"`
		Controller string `yaml:"controller"`

		// OptimizeEvery is the period of scheduled optimization passes
		OptimizeEvery time.Duration `yaml:"optimize_every"`
		// ProbeEvery is the period of host probes
		ProbeEvery time.Duration `yaml:"probe_every"`
		// HeartbeatTTL is how long a probed host stays alive
		HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`

		Inventory Inventory `yaml:"inventory"`
		Programs  Programs  `yaml:"programs"`
		Agent     Agent     `yaml:"agent"`
		Timeouts  Timeouts  `yaml:"timeouts"`
	}
)

// Default returns a Config with every default set
func Default() *Config {
	return &Config{
		LogLevel:      DefaultLogLevel,
		KV:            DefaultKV,
		Beanstalk:     DefaultBeanstalk,
		HTTP:          DefaultHTTP,
		Controller:    DefaultController,
		OptimizeEvery: DefaultOptimize,
		ProbeEvery:    DefaultProbePeriod,
		HeartbeatTTL:  DefaultProbeTTL,
		Inventory: Inventory{
			CPUMultiplier: aurora.DefaultCPUMultiplier,
		},
		Programs: Programs{
			Deployment:   orchestrator.DeployBalanced,
			Optimization: []string{orchestrator.OptimizeBalance},
		},
		Timeouts: Timeouts{
			Controller: 10 * time.Second,
			Lock:       orchestrator.DefaultLockTTL,
			Job:        30 * time.Minute,
		},
	}
}

// Load reads a YAML file over the defaults
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	c.File = path
	return c, nil
}

// FlagSet returns the flags of the daemon called name, bound to c. Flag
// defaults are the current values of c.
func (c *Config) FlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVarP(&c.File, "config", "c", c.File, "YAML config file")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "log level")
	fs.StringVarP(&c.KV, "kv", "k", c.KV, "address of kv machine")
	fs.StringVarP(&c.Beanstalk, "beanstalk", "b", c.Beanstalk, "address of beanstalkd server")
	fs.StringVarP(&c.HTTP, "http", "p", c.HTTP, "http listen address")
	fs.StringVarP(&c.Controller, "controller", "s", c.Controller, "SDN controller URL")
	fs.DurationVar(&c.OptimizeEvery, "optimize-every", c.OptimizeEvery, "period of scheduled optimization")
	fs.DurationVar(&c.ProbeEvery, "probe-every", c.ProbeEvery, "period of host probes")
	fs.DurationVar(&c.HeartbeatTTL, "heartbeat-ttl", c.HeartbeatTTL, "host heartbeat ttl")
	fs.BoolVar(&c.Agent.Stub, "stub-agent", c.Agent.Stub, "simulate hypervisors")
	fs.IntVar(&c.Agent.FailPercent, "stub-fail", c.Agent.FailPercent, "percent of simulated hypervisor calls that fail")
	return fs
}

// Parse builds the config of the daemon called name from args. Flags given
// explicitly override the file named by --config.
func Parse(name string, args []string) (*Config, error) {
	c := Default()
	if err := c.FlagSet(name).Parse(args); err != nil {
		return nil, err
	}
	if c.File != "" {
		loaded, err := Load(c.File)
		if err != nil {
			return nil, err
		}
		if err := loaded.FlagSet(name).Parse(args); err != nil {
			return nil, err
		}
		c = loaded
	}
	return c, c.Validate()
}

// Validate checks the values no daemon can run without
func (c *Config) Validate() error {
	if c.KV == "" {
		return &aurora.ConfigurationError{Entity: "kv", Reason: "missing"}
	}
	addrs := []struct {
		entity string
		addr   *string
		port   string
	}{
		{"beanstalk", &c.Beanstalk, beanstalkPort},
		{"http", &c.HTTP, httpPort},
	}
	for _, a := range addrs {
		addr, err := hostport.WithDefault(*a.addr, a.port)
		if err != nil {
			return &aurora.ConfigurationError{Entity: a.entity, Reason: err.Error()}
		}
		*a.addr = addr
	}
	if c.Inventory.Divisor < 0 {
		return &aurora.ConfigurationError{Entity: "inventory.divisor", Reason: "must not be negative"}
	}
	if c.Inventory.CPUMultiplier < 0 {
		return &aurora.ConfigurationError{Entity: "inventory.cpu_multiplier", Reason: "must not be negative"}
	}
	if c.Agent.FailPercent < 0 || c.Agent.FailPercent > 100 {
		return &aurora.ConfigurationError{Entity: "agent.fail_percent", Reason: "must be in [0, 100]"}
	}
	periods := map[string]time.Duration{
		"optimize_every": c.OptimizeEvery,
		"probe_every":    c.ProbeEvery,
		"heartbeat_ttl":  c.HeartbeatTTL,
	}
	for name, d := range periods {
		if d <= 0 {
			return &aurora.ConfigurationError{Entity: name, Reason: "must be positive"}
		}
	}
	return nil
}

// ApplyCluster overlays the cluster-wide settings stored in the kv
func (c *Config) ApplyCluster(ctx *aurora.Context) {
	c.Inventory.Divisor = ctx.ConfigFloat(aurora.ConfigInventoryDivisor, c.Inventory.Divisor)
	c.Inventory.CPUMultiplier = ctx.ConfigFloat(aurora.ConfigCPUMultiplier, c.Inventory.CPUMultiplier)
}
