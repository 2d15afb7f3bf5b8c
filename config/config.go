// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads the servant's YAML configuration file into a
// typed struct by unmarshaling YAML via JSON tags.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// ObjectStore is the per-backend configuration block for the "cos"
// cache engine backend. AccessKey/Secret may both be left empty, in
// which case credentials are resolved ambiently: from EC2Role
// (instance-role metadata) if set, otherwise from the environment or
// `~/.aws` files.
type ObjectStore struct {
	BaseURI   string `json:"base_uri,omitempty"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key,omitempty"`
	Secret    string `json:"secret,omitempty"`
	Token     string `json:"token,omitempty"`
	EC2Role   string `json:"ec2_role,omitempty"`
	// Capacity accepts a plain byte count or a suffixed size such as
	// "64Gi"; see ParseSize.
	Capacity string `json:"capacity"`
}

// Environment associates a locally installed compiler with the
// environment descriptor remote clients will name it by.
type Environment struct {
	Triple  string `json:"triple"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
	Path    string `json:"path"`
}

// Config is the servant's full set of environment/configuration
// keys, as enumerated in the configuration reference.
type Config struct {
	SchedulerURI string `json:"scheduler_uri"`
	Token        string `json:"token"`

	ServantPriority string `json:"servant_priority"`
	// MaxRemoteTasks overrides the derived concurrency limit when
	// present; nil means "derive from ServantPriority". A pointer is
	// used (rather than a plain int with a sentinel) because 0 is
	// itself a meaningful setting: "accept no tasks".
	MaxRemoteTasks *int `json:"max_remote_tasks,omitempty"`
	// MinMemoryForStartingNewTask accepts a suffixed size such as "1Gi".
	MinMemoryForStartingNewTask string `json:"min_memory_for_starting_new_task"`
	PoorMachineThresholdProcessors int `json:"poor_machine_threshold_processors"`

	TemporaryDir          string `json:"temporary_dir"`
	CPULoadAverageSeconds int    `json:"cpu_load_average_seconds"`

	CacheBackend string      `json:"cache_backend,omitempty"`
	ObjectStore  ObjectStore `json:"object_store,omitempty"`

	Environments []Environment `json:"environments,omitempty"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}
