package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethpandaops/rttmon/pkg/fsutil"
	"github.com/ethpandaops/rttmon/pkg/testrun"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides,
	// e.g. RTTMON_MONITOR_TIMEOUT=90s.
	EnvPrefix = "RTTMON"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultRuntime runs the probe bridge as a local process.
	DefaultRuntime = "exec"

	// DefaultBridgeCommand is the SEGGER RTT client binary.
	DefaultBridgeCommand = "JLinkRTTClient"

	// DefaultInterface is the default debug interface.
	DefaultInterface = "SWD"

	// DefaultSpeed is the default interface speed in kHz.
	DefaultSpeed = 4000

	// DefaultTimeout bounds a single monitored run.
	DefaultTimeout = 60 * time.Second

	// DefaultSuccessGrace admits trailing lines after success is decided.
	DefaultSuccessGrace = 1 * time.Second

	// DefaultStopGrace is how long the bridge gets to exit before it is killed.
	DefaultStopGrace = 5 * time.Second

	// DefaultDiagnosticsPerSecond throttles malformed-marker warnings.
	DefaultDiagnosticsPerSecond = 5.0

	// DefaultResultsDir is where report files are written.
	DefaultResultsDir = "logs"

	// DefaultPullPolicy is the default image pull policy for the docker runtime.
	DefaultPullPolicy = "if-not-present"

	// DefaultTerminalStatus is the status whose observation ends a run successfully.
	DefaultTerminalStatus = "TEST_COMPLETE"

	// TerminalStatusNone disables the terminal-status rule.
	TerminalStatusNone = "none"
)

// Config is the root configuration for rttmon.
type Config struct {
	Global  GlobalConfig  `yaml:"global" mapstructure:"global"`
	Bridge  BridgeConfig  `yaml:"bridge" mapstructure:"bridge"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Results ResultsConfig `yaml:"results" mapstructure:"results"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// BridgeConfig describes how the probe bridge process is started.
type BridgeConfig struct {
	// Runtime is "exec" (local process) or "docker".
	Runtime   string        `yaml:"runtime" mapstructure:"runtime"`
	Device    string        `yaml:"device" mapstructure:"device"`
	Interface string        `yaml:"interface" mapstructure:"interface"`
	Speed     int           `yaml:"speed" mapstructure:"speed"`
	Command   string        `yaml:"command" mapstructure:"command"`
	ExtraArgs []string      `yaml:"extra_args,omitempty" mapstructure:"extra_args"`
	StopGrace time.Duration `yaml:"stop_grace" mapstructure:"stop_grace"`
	Docker    DockerConfig  `yaml:"docker" mapstructure:"docker"`
}

// DockerConfig configures the containerised probe bridge.
type DockerConfig struct {
	Image      string   `yaml:"image" mapstructure:"image"`
	PullPolicy string   `yaml:"pull_policy" mapstructure:"pull_policy"`
	Privileged bool     `yaml:"privileged" mapstructure:"privileged"`
	Devices    []string `yaml:"devices,omitempty" mapstructure:"devices"`
}

// MonitorConfig controls the monitoring loop.
type MonitorConfig struct {
	Timeout              time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SuccessGrace         time.Duration `yaml:"success_grace" mapstructure:"success_grace"`
	DiagnosticsPerSecond float64       `yaml:"diagnostics_per_second" mapstructure:"diagnostics_per_second"`
	Rules                RulesConfig   `yaml:"rules" mapstructure:"rules"`
}

// RulesConfig selects the success rules, evaluated in the order
// terminal status, all pass, expressions.
type RulesConfig struct {
	TerminalStatus string   `yaml:"terminal_status" mapstructure:"terminal_status"`
	AllPass        bool     `yaml:"all_pass" mapstructure:"all_pass"`
	Expressions    []string `yaml:"expressions,omitempty" mapstructure:"expressions"`
}

// ResultsConfig controls where reports go.
type ResultsConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Markdown bool   `yaml:"markdown" mapstructure:"markdown"`
	// Owner is an optional "UID:GID" applied to written report files.
	Owner string      `yaml:"owner,omitempty" mapstructure:"owner"`
	S3    S3Config    `yaml:"s3" mapstructure:"s3"`
	Index IndexConfig `yaml:"index" mapstructure:"index"`
}

// S3Config contains settings for uploading reports to S3-compatible storage.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// IndexConfig enables the SQL run index.
type IndexConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig selects and configures a database driver.
type DatabaseConfig struct {
	Driver   string                 `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresDatabaseConfig `yaml:"postgres" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresDatabaseConfig contains PostgreSQL settings.
type PostgresDatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// defaults lists every leaf key with its default. Registering each key is
// what makes RTTMON_* environment overrides visible to viper.
var defaults = map[string]any{
	"global.log_level": DefaultLogLevel,

	"bridge.runtime":            DefaultRuntime,
	"bridge.device":             "",
	"bridge.interface":          DefaultInterface,
	"bridge.speed":              DefaultSpeed,
	"bridge.command":            DefaultBridgeCommand,
	"bridge.extra_args":         []string{},
	"bridge.stop_grace":         DefaultStopGrace,
	"bridge.docker.image":       "",
	"bridge.docker.pull_policy": DefaultPullPolicy,
	"bridge.docker.privileged":  false,
	"bridge.docker.devices":     []string{},

	"monitor.timeout":                DefaultTimeout,
	"monitor.success_grace":          DefaultSuccessGrace,
	"monitor.diagnostics_per_second": DefaultDiagnosticsPerSecond,
	"monitor.rules.terminal_status":  DefaultTerminalStatus,
	"monitor.rules.all_pass":         true,
	"monitor.rules.expressions":      []string{},

	"results.dir":                  DefaultResultsDir,
	"results.markdown":             false,
	"results.owner":                "",
	"results.s3.enabled":           false,
	"results.s3.endpoint_url":      "",
	"results.s3.region":            "",
	"results.s3.bucket":            "",
	"results.s3.prefix":            "",
	"results.s3.access_key_id":     "",
	"results.s3.secret_access_key": "",
	"results.s3.force_path_style":  false,
	"results.s3.storage_class":     "",
	"results.s3.acl":               "",

	"results.index.enabled":                    false,
	"results.index.database.driver":            "sqlite",
	"results.index.database.sqlite.path":       "rttmon.db",
	"results.index.database.postgres.host":     "",
	"results.index.database.postgres.port":     5432,
	"results.index.database.postgres.user":     "",
	"results.index.database.postgres.password": "",
	"results.index.database.postgres.database": "",
	"results.index.database.postgres.ssl_mode": "disable",

	"api.listen":                         DefaultAPIListen,
	"api.cors_origins":                   []string{},
	"api.rate_limit.enabled":             false,
	"api.rate_limit.requests_per_minute": DefaultRateLimitPerMinute,
	"api.index_interval":                 DefaultIndexInterval,
}

// Load reads and merges the given configuration files in order, applies
// RTTMON_* environment overrides and fills in defaults. With no paths the
// result is the default configuration plus environment overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// decode maps viper's merged settings onto cfg.
func decode(settings map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	return decoder.Decode(settings)
}

// applyDefaults sets default values for options left empty by the file.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Bridge.Runtime == "" {
		c.Bridge.Runtime = DefaultRuntime
	}

	if c.Bridge.Interface == "" {
		c.Bridge.Interface = DefaultInterface
	}

	if c.Bridge.Speed == 0 {
		c.Bridge.Speed = DefaultSpeed
	}

	if c.Bridge.Command == "" {
		c.Bridge.Command = DefaultBridgeCommand
	}

	if c.Bridge.StopGrace == 0 {
		c.Bridge.StopGrace = DefaultStopGrace
	}

	if c.Bridge.Docker.PullPolicy == "" {
		c.Bridge.Docker.PullPolicy = DefaultPullPolicy
	}

	if c.Monitor.Timeout == 0 {
		c.Monitor.Timeout = DefaultTimeout
	}

	if c.Monitor.DiagnosticsPerSecond == 0 {
		c.Monitor.DiagnosticsPerSecond = DefaultDiagnosticsPerSecond
	}

	if c.Monitor.Rules.TerminalStatus == "" {
		c.Monitor.Rules.TerminalStatus = DefaultTerminalStatus
	}

	if c.Results.Dir == "" {
		c.Results.Dir = DefaultResultsDir
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}

	if c.API.RateLimit.RequestsPerMinute == 0 {
		c.API.RateLimit.RequestsPerMinute = DefaultRateLimitPerMinute
	}

	if c.API.IndexInterval == 0 {
		c.API.IndexInterval = DefaultIndexInterval
	}
}

// Validate checks the settings needed to monitor a run.
func (c *Config) Validate() error {
	if c.Bridge.Device == "" {
		return fmt.Errorf("bridge: device is required")
	}

	switch c.Bridge.Runtime {
	case "exec":
		if c.Bridge.Command == "" {
			return fmt.Errorf("bridge: command is required for the exec runtime")
		}
	case "docker":
		if c.Bridge.Docker.Image == "" {
			return fmt.Errorf("bridge.docker: image is required for the docker runtime")
		}

		if !isValidPullPolicy(c.Bridge.Docker.PullPolicy) {
			return fmt.Errorf("bridge.docker: invalid pull_policy %q", c.Bridge.Docker.PullPolicy)
		}
	default:
		return fmt.Errorf("bridge: unknown runtime %q", c.Bridge.Runtime)
	}

	if c.Bridge.Interface == "" {
		return fmt.Errorf("bridge: interface is required")
	}

	if c.Bridge.Speed <= 0 {
		return fmt.Errorf("bridge: speed must be positive, got %d", c.Bridge.Speed)
	}

	if c.Bridge.StopGrace < 0 {
		return fmt.Errorf("bridge: stop_grace must not be negative")
	}

	if c.Monitor.Timeout <= 0 {
		return fmt.Errorf("monitor: timeout must be positive, got %s", c.Monitor.Timeout)
	}

	if c.Monitor.SuccessGrace < 0 {
		return fmt.Errorf("monitor: success_grace must not be negative")
	}

	if ts := c.Monitor.Rules.TerminalStatus; ts != TerminalStatusNone {
		if _, err := testrun.ParseTestStatus(ts); err != nil {
			return fmt.Errorf("monitor.rules: terminal_status: %w", err)
		}
	}

	if c.Monitor.Rules.TerminalStatus == TerminalStatusNone &&
		!c.Monitor.Rules.AllPass &&
		len(c.Monitor.Rules.Expressions) == 0 {
		return fmt.Errorf("monitor.rules: at least one success rule must be enabled")
	}

	return c.Results.Validate()
}

// Validate checks the result sink settings.
func (r *ResultsConfig) Validate() error {
	if _, err := fsutil.ParseOwner(r.Owner); err != nil {
		return fmt.Errorf("results: owner: %w", err)
	}

	if r.S3.Enabled && r.S3.Bucket == "" {
		return fmt.Errorf("results.s3: bucket is required when enabled")
	}

	if r.Index.Enabled {
		if err := r.Index.Database.Validate(); err != nil {
			return fmt.Errorf("results.index: %w", err)
		}
	}

	return nil
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" || d.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", d.Driver)
	}

	return nil
}

// validPullPolicies is the list of supported image pull policies.
var validPullPolicies = map[string]struct{}{
	"always":         {},
	"if-not-present": {},
	"never":          {},
}

func isValidPullPolicy(policy string) bool {
	_, ok := validPullPolicies[policy]

	return ok
}
