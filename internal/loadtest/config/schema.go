// Package config provides configuration parsing and validation for step load tests.
package config

import (
	"time"
)

// Config is the resolved configuration of one run. It is immutable once the
// run starts.
//
// Example YAML:
//
//	name: "autoscaling check"
//	baseUrl: "http://localhost:9080"
//	durationSeconds: 600
//	initialRate: 100
//	stepIntervalSeconds: 60
//	stepSize: 50
//	maxWorkers: 500
//	timeout: 10s
type Config struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// BaseURL of the target service
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Path probed on every request (default: /ping)
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// DurationSeconds is the wall-clock length of the run; 0 runs nothing
	DurationSeconds int `json:"durationSeconds" yaml:"durationSeconds"`

	// InitialRate is the target requests/second at the start
	InitialRate float64 `json:"initialRate" yaml:"initialRate"`

	// StepIntervalSeconds is the time between target increases
	StepIntervalSeconds int `json:"stepIntervalSeconds" yaml:"stepIntervalSeconds"`

	// StepSize is the requests/second added at each step
	StepSize float64 `json:"stepSize" yaml:"stepSize"`

	// MaxWorkers caps the sender pool; 0 disables sending
	MaxWorkers int `json:"maxWorkers" yaml:"maxWorkers"`

	// Timeout bounds each request (default: 10s)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// SnapshotInterval is the time-series cadence (default: 5s)
	SnapshotInterval Duration `json:"snapshotInterval,omitempty" yaml:"snapshotInterval,omitempty"`

	// Window is the trailing window for observed rate and latency (default: 10s)
	Window Duration `json:"window,omitempty" yaml:"window,omitempty"`

	// MaxConnections bounds concurrently open connections (default: 1000)
	MaxConnections int `json:"maxConnections,omitempty" yaml:"maxConnections,omitempty"`

	// MaxConnectionsPerHost bounds connections to the target host
	// (default: 500, capped at MaxConnections)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// PodHeader names the response header carrying the serving pod
	PodHeader string `json:"podHeader,omitempty" yaml:"podHeader,omitempty"`

	// PodField is a JSONPath into 200 bodies used when PodHeader is absent
	PodField string `json:"podField,omitempty" yaml:"podField,omitempty"`

	// ResponseSchema is an optional JSON Schema that 200 bodies must satisfy
	ResponseSchema string `json:"responseSchema,omitempty" yaml:"responseSchema,omitempty"`
}

// Defaults for optional settings.
const (
	DefaultPath                  = "/ping"
	DefaultTimeout               = 10 * time.Second
	DefaultSnapshotInterval      = 5 * time.Second
	DefaultWindow                = 10 * time.Second
	DefaultMaxConnections        = 1000
	DefaultMaxConnectionsPerHost = 500
	DefaultPodHeader             = "X-Pod-Name"
	DefaultPodField              = "$.podName"
)

// DefaultConfig returns the default run: ten minutes starting at 100 rps and
// adding 50 rps every minute, with at most 500 workers.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://localhost:9080",
		Path:                DefaultPath,
		DurationSeconds:     600,
		InitialRate:         100,
		StepIntervalSeconds: 60,
		StepSize:            50,
		MaxWorkers:          500,
		Timeout:             Duration(DefaultTimeout),
		SnapshotInterval:    Duration(DefaultSnapshotInterval),
		Window:              Duration(DefaultWindow),
		MaxConnections:      DefaultMaxConnections,
		PodHeader:           DefaultPodHeader,
		PodField:            DefaultPodField,
	}
}

// ApplyDefaults fills zero-valued optional settings. The named schedule
// options are left alone so that an explicit 0 keeps its meaning.
func ApplyDefaults(cfg *Config) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Duration(DefaultTimeout)
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = Duration(DefaultSnapshotInterval)
	}
	if cfg.Window == 0 {
		cfg.Window = Duration(DefaultWindow)
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxConnectionsPerHost == 0 {
		cfg.MaxConnectionsPerHost = DefaultMaxConnectionsPerHost
		if cfg.MaxConnections > 0 {
			cfg.MaxConnectionsPerHost = min(DefaultMaxConnectionsPerHost, cfg.MaxConnections)
		}
	}
	if cfg.PodHeader == "" {
		cfg.PodHeader = DefaultPodHeader
	}
	if cfg.PodField == "" {
		cfg.PodField = DefaultPodField
	}
}

// Duration returns the run length.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// StepInterval returns the time between target increases.
func (c *Config) StepInterval() time.Duration {
	return time.Duration(c.StepIntervalSeconds) * time.Second
}

// TargetURL joins BaseURL and Path.
func (c *Config) TargetURL() string {
	base := c.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	path := c.Path
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return base + path
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
