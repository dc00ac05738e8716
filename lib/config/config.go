// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package config loads the cloud scheduler configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ghodss/yaml"
)

// Config holds the scheduler configuration, normally loaded from
// cloud-scheduler.yml.
type Config struct {
	Booked    BookedConfig
	Status    StatusConfig
	Server    ServerConfig
	Stopping  StoppingConfig
	Provision ProvisionConfig
	Remote    RemoteConfig
	Logging   LoggingConfig
}

// BookedConfig identifies the reservation store and the account used
// to query it.
type BookedConfig struct {
	// Base URL of the Booked REST API, e.g.
	// "http://booked.example.org/Web/Services/index.php/".
	URL      string
	Username string
	Password string
	Insecure bool
}

// StatusConfig maps each managed reservation status name to the
// statusId value used by the store.
type StatusConfig struct {
	Created  string
	Starting string
	Running  string
	Stopping string
}

// ServerConfig holds local filesystem paths.
type ServerConfig struct {
	// Directory under which per-reservation descriptor trees
	// (dag-<referenceNumber>) are created.
	DAGDir string
	// This host's SSH public key, appended to each generated
	// public_key file so the scheduler can reach booted clusters.
	PublicKeyPath string
}

// StoppingConfig controls when a running reservation is torn down.
type StoppingConfig struct {
	// Tear the cluster down when this many seconds remain in the
	// reservation window.
	ReservationSecsLeft int
}

// ProvisionConfig controls the provisioning launcher.
type ProvisionConfig struct {
	// How long to wait after the detached launch before returning,
	// so the remote tool has started writing its log.
	SettleDelay Duration
}

// RemoteConfig configures the SSH transport used to reach resource
// hosts.
type RemoteConfig struct {
	PrivateKeyPath string
	Port           string
}

// LoggingConfig configures the process log.
type LoggingConfig struct {
	Level  string
	Format string
}

// Duration is time.Duration but looks like "12s" in JSON/YAML.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		dur, err := time.ParseDuration(string(data[1 : len(data)-1]))
		*d = Duration(dur)
		return err
	}
	return fmt.Errorf("duration must be given as a string like \"600s\" or \"1h30m\"")
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Duration returns the native type.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultYAML is the baseline configuration; the loaded file is
// overlaid on top of it.
var DefaultYAML = []byte(`
Booked:
  URL: ""
  Username: ""
  Password: ""
  Insecure: false
Status:
  Created: ""
  Starting: ""
  Running: ""
  Stopping: ""
Server:
  DAGDir: /var/run/cloud-scheduler
  PublicKeyPath: /root/.ssh/id_rsa.pub
Stopping:
  ReservationSecsLeft: 3600
Provision:
  SettleDelay: 10s
Remote:
  PrivateKeyPath: /root/.ssh/id_rsa
  Port: "22"
Logging:
  Level: info
  Format: text
`)

// Load reads and validates a configuration from rdr, applied on top
// of the compiled-in defaults.
func Load(rdr io.Reader) (*Config, error) {
	buf, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	var cfg Config
	err = yaml.Unmarshal(DefaultYAML, &cfg)
	if err != nil {
		return nil, fmt.Errorf("loading built-in defaults: %s", err)
	}
	err = yaml.Unmarshal(buf, &cfg)
	if err != nil {
		return nil, err
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile is Load on the named file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", path, err)
	}
	return cfg, nil
}

// Validate returns an error if the configuration cannot be used.
func (cfg *Config) Validate() error {
	if cfg.Booked.URL == "" {
		return errors.New("Booked.URL is not set")
	}
	if cfg.Booked.Username == "" || cfg.Booked.Password == "" {
		return errors.New("Booked.Username and Booked.Password must be set")
	}
	for name, id := range map[string]string{
		"Created":  cfg.Status.Created,
		"Starting": cfg.Status.Starting,
		"Running":  cfg.Status.Running,
		"Stopping": cfg.Status.Stopping,
	} {
		if id == "" {
			return fmt.Errorf("Status.%s is not set", name)
		}
	}
	if cfg.Stopping.ReservationSecsLeft < 0 {
		return errors.New("Stopping.ReservationSecsLeft must not be negative")
	}
	return nil
}
