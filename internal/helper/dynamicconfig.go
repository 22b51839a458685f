/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package helper

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// fileConfig is the YAML shape of an optional helper config file,
// mirroring ptp4u's ReadDynamicConfig: a flat document of overridable
// tunables, read once at startup. Every field is optional; zero values
// leave the corresponding Config field at its default.
type fileConfig struct {
	SecondConnTimeoutSeconds    int `yaml:"second_conn_timeout_seconds"`
	BuddyFindTimeoutSeconds     int `yaml:"buddy_find_timeout_seconds"`
	BuddyAllocTimeoutSeconds    int `yaml:"buddy_alloc_timeout_seconds"`
	BuddyPortTimeoutSeconds     int `yaml:"buddy_port_timeout_seconds"`
	BuddySeqTimeoutSeconds      int `yaml:"buddy_seq_timeout_seconds"`
	BuddySynFloodTimeoutSeconds int `yaml:"buddy_syn_flood_timeout_seconds"`
	BuddyBdayPortTimeoutSeconds int `yaml:"buddy_bday_port_timeout_seconds"`
}

// LoadConfigFile reads a YAML file at path and applies any overrides it
// specifies onto c.
func LoadConfigFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("helper: reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("helper: parsing config file %s: %w", path, err)
	}

	applySeconds := func(dst *time.Duration, seconds int) {
		if seconds > 0 {
			*dst = time.Duration(seconds) * time.Second
		}
	}
	applySeconds(&c.SecondConnTimeout, fc.SecondConnTimeoutSeconds)
	applySeconds(&c.BuddyFindTimeout, fc.BuddyFindTimeoutSeconds)
	applySeconds(&c.BuddyAllocTimeout, fc.BuddyAllocTimeoutSeconds)
	applySeconds(&c.BuddyPortTimeout, fc.BuddyPortTimeoutSeconds)
	applySeconds(&c.BuddySeqTimeout, fc.BuddySeqTimeoutSeconds)
	applySeconds(&c.BuddySynFloodTimeout, fc.BuddySynFloodTimeoutSeconds)
	applySeconds(&c.BuddyBdayPortTimeout, fc.BuddyBdayPortTimeoutSeconds)

	return nil
}
