// Package plcconfig loads named controller connection profiles from a
// YAML file, so a fleet of PLCs can be described declaratively instead
// of built up with Option calls in code.
package plcconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iceisfun/goeip/pkg/plc"
)

// ReconnectSpec configures the optional ReconnectingConnection wrapper
// for a profile.
type ReconnectSpec struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Profile describes one controller to connect to.
type Profile struct {
	Name             string         `yaml:"name"`
	IPAddress        string         `yaml:"ip_address"`
	Port             int            `yaml:"port,omitempty"`
	Slot             int            `yaml:"slot,omitempty"`
	LargePackets     bool           `yaml:"large_packets,omitempty"`
	DirectConnection bool           `yaml:"direct_connection,omitempty"`
	InitInfo         bool           `yaml:"init_info,omitempty"`
	InitTags         bool           `yaml:"init_tags,omitempty"`
	InitProgramTags  bool           `yaml:"init_program_tags,omitempty"`
	TimeoutMs        int            `yaml:"timeout_ms,omitempty"`
	RPIMs            int            `yaml:"rpi_ms,omitempty"`
	Reconnect        *ReconnectSpec `yaml:"reconnect,omitempty"`
	MonitorTags      []string       `yaml:"monitor_tags,omitempty"`
}

// Config is the top-level document: a named set of controller profiles.
type Config struct {
	Profiles []Profile `yaml:"profiles"`
}

// Load reads and validates a profile set from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plcconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("plcconfig: parse YAML: %w", err)
	}

	for i := range cfg.Profiles {
		applyDefaults(&cfg.Profiles[i])
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("plcconfig: validate: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(p *Profile) {
	if p.Port == 0 {
		p.Port = plc.DefaultPort
	}
	if p.TimeoutMs == 0 {
		p.TimeoutMs = 5000
	}
	if p.RPIMs == 0 {
		p.RPIMs = int(plc.DefaultRPI / time.Millisecond)
	}
	if p.Reconnect != nil {
		if p.Reconnect.MaxRetries == 0 {
			p.Reconnect.MaxRetries = 3
		}
		if p.Reconnect.RetryDelay == 0 {
			p.Reconnect.RetryDelay = 1 * time.Second
		}
	}
}

// Validate checks that every profile names a controller and has
// sane numeric fields.
func Validate(cfg *Config) error {
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}
	seen := make(map[string]bool, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profiles[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("profiles[%d]: duplicate profile name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.IPAddress == "" {
			return fmt.Errorf("profiles[%d] (%s): ip_address is required", i, p.Name)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("profiles[%d] (%s): port must be between 1 and 65535", i, p.Name)
		}
		if p.Slot < 0 {
			return fmt.Errorf("profiles[%d] (%s): slot must be >= 0", i, p.Name)
		}
		if p.TimeoutMs < 0 {
			return fmt.Errorf("profiles[%d] (%s): timeout_ms must be >= 0", i, p.Name)
		}
		if p.RPIMs < 0 {
			return fmt.Errorf("profiles[%d] (%s): rpi_ms must be >= 0", i, p.Name)
		}
	}
	return nil
}

// Find returns the named profile, or false if no profile has that name.
func (c *Config) Find(name string) (Profile, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Options converts the profile into a plc.Options, ready for plc.Open or
// plc.NewReconnectingConnection.
func (p Profile) Options(logOpts ...plc.Option) plc.Options {
	opts := []plc.Option{
		plc.WithPort(p.Port),
		plc.WithSlot(p.Slot),
		plc.WithLargePackets(p.LargePackets),
		plc.WithDirectConnection(p.DirectConnection),
		plc.WithInitInfo(p.InitInfo),
		plc.WithInitTags(p.InitTags),
		plc.WithInitProgramTags(p.InitProgramTags),
		plc.WithTimeout(time.Duration(p.TimeoutMs) * time.Millisecond),
		plc.WithRPI(time.Duration(p.RPIMs) * time.Millisecond),
	}
	opts = append(opts, logOpts...)
	return plc.NewOptions(p.IPAddress, opts...)
}
