// Package config loads scheduler and tool settings from TOML files and
// VTHREAD_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/Swind/go-vthread/core"
)

// EnvPrefix is the prefix of environment overrides, e.g. VTHREAD_WORKERS.
const EnvPrefix = "VTHREAD_"

// Config is the file representation of everything the vthread tools need.
type Config struct {
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Metrics     MetricsConfig     `toml:"metrics"`
	DB          DBConfig          `toml:"db"`
}

type SchedulerConfig struct {
	Name                   string   `toml:"name"`
	Workers                int      `toml:"workers"`
	FairnessQuota          Duration `toml:"fairness-quota"`
	DrainTimeout           Duration `toml:"drain-timeout"`
	Affinity               bool     `toml:"affinity"`
	AffinityMaxQueueDepth  int      `toml:"affinity-max-queue-depth"`
	StarvationRequeueLimit int      `toml:"starvation-requeue-limit"`
	HistoryCapacity        int      `toml:"history-capacity"`
	StrictInvariants       bool     `toml:"strict-invariants"`
}

type DiagnosticsConfig struct {
	StarvationThreshold Duration `toml:"starvation-threshold"`
	PinnedThreshold     Duration `toml:"pinned-threshold"`
	DeadlockThreshold   Duration `toml:"deadlock-threshold"`
	MonitorInterval     Duration `toml:"monitor-interval"`
	IdlePollInterval    Duration `toml:"idle-poll-interval"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

type ServerConfig struct {
	Bind      string   `toml:"bind"`
	SlowDelay Duration `toml:"slow-delay"`
}

type MetricsConfig struct {
	Namespace    string   `toml:"namespace"`
	PollInterval Duration `toml:"poll-interval"`
}

// DBConfig sizes the simulated database.
type DBConfig struct {
	Users         int      `toml:"users"`
	OrdersPerUser int      `toml:"orders-per-user"`
	MinLatency    Duration `toml:"min-latency"`
	MaxLatency    Duration `toml:"max-latency"`
	PoolSize      int      `toml:"pool-size"`
}

// NewConfig returns a Config filled with defaults.
func NewConfig() *Config {
	d := core.DefaultConfig()
	return &Config{
		Scheduler: SchedulerConfig{
			Workers:                d.WorkerCount,
			FairnessQuota:          Duration(d.FairnessQuota),
			DrainTimeout:           Duration(d.DrainTimeout),
			Affinity:               d.AffinityEnabled,
			AffinityMaxQueueDepth:  d.AffinityMaxQueueDepth,
			StarvationRequeueLimit: d.StarvationRequeueLimit,
			HistoryCapacity:        d.HistoryCapacity,
		},
		Diagnostics: DiagnosticsConfig{
			StarvationThreshold: Duration(d.StarvationThreshold),
			PinnedThreshold:     Duration(d.PinnedThreshold),
			DeadlockThreshold:   Duration(d.DeadlockThreshold),
			MonitorInterval:     Duration(d.MonitorInterval),
			IdlePollInterval:    Duration(d.IdlePollInterval),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Bind:      ":8080",
			SlowDelay: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Namespace:    "vthread",
			PollInterval: Duration(time.Second),
		},
		DB: DBConfig{
			Users:         100,
			OrdersPerUser: 10,
			MinLatency:    Duration(50 * time.Millisecond),
			MaxLatency:    Duration(80 * time.Millisecond),
			PoolSize:      10,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return c, nil
}

// Dump renders c as TOML.
func Dump(c *Config) ([]byte, error) {
	buf, err := toml.Marshal(*c)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling config")
	}
	return buf, nil
}

// Validate checks values the scheduler does not check itself.
func (c *Config) Validate() error {
	if err := c.Core().Validate(); err != nil {
		return err
	}
	if _, err := core.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Wrapf(core.ErrInvalidConfig, "log format %q", c.Log.Format)
	}
	if c.DB.MinLatency > c.DB.MaxLatency {
		return errors.Wrapf(core.ErrInvalidConfig, "db latency %s > %s", c.DB.MinLatency, c.DB.MaxLatency)
	}
	if c.DB.PoolSize < 0 || c.DB.Users < 0 || c.DB.OrdersPerUser < 0 {
		return errors.Wrap(core.ErrInvalidConfig, "negative db size")
	}
	return nil
}

// Core converts the scheduler sections to a core.Config. Handlers are left
// nil, so the scheduler's defaults apply unless the caller sets them.
func (c *Config) Core() core.Config {
	return core.Config{
		Name:                   c.Scheduler.Name,
		WorkerCount:            c.Scheduler.Workers,
		FairnessQuota:          time.Duration(c.Scheduler.FairnessQuota),
		DrainTimeout:           time.Duration(c.Scheduler.DrainTimeout),
		AffinityEnabled:        c.Scheduler.Affinity,
		AffinityMaxQueueDepth:  c.Scheduler.AffinityMaxQueueDepth,
		StarvationRequeueLimit: c.Scheduler.StarvationRequeueLimit,
		StarvationThreshold:    time.Duration(c.Diagnostics.StarvationThreshold),
		PinnedThreshold:        time.Duration(c.Diagnostics.PinnedThreshold),
		DeadlockThreshold:      time.Duration(c.Diagnostics.DeadlockThreshold),
		MonitorInterval:        time.Duration(c.Diagnostics.MonitorInterval),
		IdlePollInterval:       time.Duration(c.Diagnostics.IdlePollInterval),
		HistoryCapacity:        c.Scheduler.HistoryCapacity,
		StrictInvariants:       c.Scheduler.StrictInvariants,
	}
}

// ApplyEnv overrides c with VTHREAD_* variables read through lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, name)
		}
		*dst = n
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, name)
		}
		*dst = b
		return nil
	}
	duration := func(name string, dst *Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, name)
		}
		return nil
	}

	str("NAME", &c.Scheduler.Name)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("BIND", &c.Server.Bind)

	for _, err := range []error{
		integer("WORKERS", &c.Scheduler.Workers),
		integer("HISTORY_CAPACITY", &c.Scheduler.HistoryCapacity),
		integer("DB_POOL_SIZE", &c.DB.PoolSize),
		boolean("AFFINITY", &c.Scheduler.Affinity),
		boolean("STRICT_INVARIANTS", &c.Scheduler.StrictInvariants),
		duration("FAIRNESS_QUOTA", &c.Scheduler.FairnessQuota),
		duration("DRAIN_TIMEOUT", &c.Scheduler.DrainTimeout),
		duration("PINNED_THRESHOLD", &c.Diagnostics.PinnedThreshold),
		duration("DEADLOCK_THRESHOLD", &c.Diagnostics.DeadlockThreshold),
		duration("SLOW_DELAY", &c.Server.SlowDelay),
	} {
		if err != nil {
			return err
		}
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	return nil
}
