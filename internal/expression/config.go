// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"flag"
	"fmt"
	"strings"

	"github.com/VKCOM/calcheck/internal/config"
)

type Config struct {
	NotSupportedFunctions []string // functions evaluated for unsupported items
	Aggregate             bool     // allow many-item queries by default
	BucketParam           int      // key parameter holding the bucket bound
	MaxCandidates         int      // 0 means unlimited
}

func DefaultConfig() Config {
	return Config{
		NotSupportedFunctions: []string{"nodata"},
		Aggregate:             true,
		BucketParam:           1,
	}
}

func (c *Config) Bind(f *flag.FlagSet, defaultI config.Config) {
	d := defaultI.(*Config)
	config.StringSliceVar(f, &c.NotSupportedFunctions, "notsupported-functions", strings.Join(d.NotSupportedFunctions, ","), "Functions which are evaluated for items in unsupported state.")
	f.BoolVar(&c.Aggregate, "aggregate", d.Aggregate, "Allow aggregate (many item) queries.")
	f.IntVar(&c.BucketParam, "bucket-param", d.BucketParam, "Default item key parameter holding histogram bucket bound.")
	f.IntVar(&c.MaxCandidates, "max-candidates", d.MaxCandidates, "Maximum number of items a single aggregate query may match, 0 for unlimited.")
}

func (c *Config) ValidateConfig() error {
	if c.BucketParam < 1 {
		return fmt.Errorf("--bucket-param (%d) must be >= 1", c.BucketParam)
	}
	if c.MaxCandidates < 0 {
		return fmt.Errorf("--max-candidates (%d) must be >= 0", c.MaxCandidates)
	}
	return nil
}

func (c *Config) Copy() config.Config {
	cp := *c
	cp.NotSupportedFunctions = append([]string(nil), c.NotSupportedFunctions...)
	return &cp
}

func (c *Config) evaluatableForNotSupported(name string) bool {
	for _, f := range c.NotSupportedFunctions {
		if f == name {
			return true
		}
	}
	return false
}
