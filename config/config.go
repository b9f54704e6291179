// Copyright 2024 The rtpscore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config decodes the process's TOML configuration document into
// File, mirroring spec §6's "CLI/config surface consumed by the core"
// plus the ambient knobs SPEC_FULL.md's Configuration section adds (log
// level, metrics bind address, certificate paths, the permissive
// certificate-validation switch). Decoding uses
// github.com/BurntSushi/toml, the teacher's own config format.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Mode is a three-state enablement switch (spec §6: "each:
// disabled/enabled/preferred").
type Mode string

const (
	ModeDisabled  Mode = "disabled"
	ModeEnabled   Mode = "enabled"
	ModePreferred Mode = "preferred"
)

// Scope is the min..max multicast/unicast reachability range accepted
// from config, named the way spec §6 names it ("IP_Scope, IPv6_Scope
// (min..max of node/link/site/org/global)").
type Scope struct {
	Min string `toml:"min"`
	Max string `toml:"max"`
}

// TLS bundles certificate material paths for the TLS-over-TCP and DTLS
// overlays (spec §4.4/§4.6's "certificates and the trust chain come
// from the external security collaborator").
type TLS struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	RootCAFile string `toml:"root_ca_file"`
	// Permissive accepts not-yet-valid/expired peer certificates (spec
	// §9's compile-time permissive flag, made a runtime switch here).
	Permissive bool `toml:"permissive"`
}

// Metrics configures the Prometheus scrape endpoint (SPEC_FULL.md
// ambient "metrics bind address" knob).
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Logging configures the process-wide default logger.
type Logging struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// File is the decoded form of the process's TOML configuration document.
type File struct {
	IPMode   Mode `toml:"ip_mode"`
	IPv6Mode Mode `toml:"ipv6_mode"`
	UDPMode  Mode `toml:"udp_mode"`
	TCPMode  Mode `toml:"tcp_mode"`

	IPScope   Scope `toml:"ip_scope"`
	IPv6Scope Scope `toml:"ipv6_scope"`

	IPAddress string `toml:"ip_address"`
	IPNetwork string `toml:"ip_network"`

	TCPPort      uint16   `toml:"tcp_port"`
	TCPSecPort   uint16   `toml:"tcp_sec_port"`
	TCPServer    []string `toml:"tcp_server"`
	TCPSecServer []string `toml:"tcp_sec_server"`
	TCPPublic    []string `toml:"tcp_public"`
	TCPPrivate   bool     `toml:"tcp_private"`

	Forward bool `toml:"forward"`

	Domain uint32 `toml:"domain"`

	TLS     TLS     `toml:"tls"`
	Metrics Metrics `toml:"metrics"`
	Logging Logging `toml:"logging"`
}

// Default returns a File populated with the spec's implied defaults:
// every mode preferred, forwarding on, TLS/DTLS left unconfigured (no
// secure overlay until certificates are supplied), logging at info
// level, metrics disabled.
func Default() File {
	return File{
		IPMode:   ModePreferred,
		IPv6Mode: ModePreferred,
		UDPMode:  ModePreferred,
		TCPMode:  ModePreferred,
		IPScope:  Scope{Min: "node", Max: "global"},
		Forward:  true,
		Logging:  Logging{Level: "info"},
	}
}

// Load decodes path into a File seeded with Default()'s values, so a
// config file need only override the fields it cares about.
func Load(path string) (File, error) {
	f := Default()
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return File{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return f, nil
}

// LoadOptional behaves like Load, but returns Default() unchanged (no
// error) if path does not exist — used when a config file is optional
// and every setting may come from CLI flags instead.
func LoadOptional(path string) (File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
