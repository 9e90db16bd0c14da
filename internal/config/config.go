// Package config implements Config: declarative `.fuel/config.yaml`
// settings loaded at boot and hot-reloadable on demand via the IPC
// ReloadConfig command, using a load/cache/swap pattern so readers never
// block on a reload.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// AgentConfig maps a logical agent name to a driver and concrete model.
type AgentConfig struct {
	Driver        string            `yaml:"driver"`
	Command       string            `yaml:"command,omitempty"`
	Model         string            `yaml:"model,omitempty"`
	Args          []string          `yaml:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	MaxConcurrent int               `yaml:"maxConcurrent"`
}

// ComplexityRouting maps task complexity to a logical agent name.
type ComplexityRouting struct {
	Trivial  string `yaml:"trivial"`
	Simple   string `yaml:"simple"`
	Moderate string `yaml:"moderate"`
	Complex  string `yaml:"complex"`
}

// AgentFor resolves the logical agent name for a complexity value.
func (c ComplexityRouting) AgentFor(complexity string) string {
	switch complexity {
	case "trivial":
		return c.Trivial
	case "simple":
		return c.Simple
	case "moderate":
		return c.Moderate
	case "complex":
		return c.Complex
	default:
		return c.Simple
	}
}

// Config is the full contents of .fuel/config.yaml.
type Config struct {
	Primary    string                 `yaml:"primary"`
	Complexity ComplexityRouting      `yaml:"complexity"`
	Review     string                 `yaml:"review"`
	Reality    string                 `yaml:"reality"`
	Agents     map[string]AgentConfig `yaml:"agents"`

	EpicMirrors bool `yaml:"epic_mirrors"`
	TaskReview  bool `yaml:"task_review"`

	MaxRetries           int `yaml:"max_retries"`
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
	IntervalSeconds      int `yaml:"interval_seconds"`
	TaskTimeoutSeconds   int `yaml:"task_timeout_seconds"`
	ClientBufferBytes    int `yaml:"client_buffer_bytes"`

	// MetricsAddr, when set, exposes Prometheus collectors over HTTP at
	// this address (e.g. "127.0.0.1:9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Defaults returns a Config with every documented default applied.
func Defaults() Config {
	return Config{
		TaskReview:           true,
		MaxRetries:           3,
		ShutdownGraceSeconds: 10,
		IntervalSeconds:      5,
		TaskTimeoutSeconds:   3600,
		ClientBufferBytes:    1 << 20,
		Agents:               map[string]AgentConfig{},
	}
}

// Load reads and parses a config file, applying defaults for any
// unspecified field.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks referential integrity: primary/review/reality must name
// an existing agent (review/reality may be empty to disable).
func (c Config) Validate() error {
	if c.Primary == "" {
		return fmt.Errorf("config: primary agent is required")
	}
	if _, ok := c.Agents[c.Primary]; !ok {
		return fmt.Errorf("config: primary agent %q is not defined under agents", c.Primary)
	}
	if c.Review != "" {
		if _, ok := c.Agents[c.Review]; !ok {
			return fmt.Errorf("config: review agent %q is not defined under agents", c.Review)
		}
	}
	if c.Reality != "" {
		if _, ok := c.Agents[c.Reality]; !ok {
			return fmt.Errorf("config: reality agent %q is not defined under agents", c.Reality)
		}
	}
	return nil
}

// Store caches the active Config behind an RWMutex, swapped atomically on
// ReloadConfig rather than re-reading the file on every access.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

// NewStore loads path and returns a Store. The daemon refuses to start if
// the file is invalid.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg}, nil
}

// Get returns the currently active config.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-reads the config file and swaps it in only if valid; on
// failure the previous config is kept.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
