// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package inventory

import (
	"fmt"
)

type Group struct {
	GroupID uint64   `yaml:"groupid"`
	Name    string   `yaml:"name"`
	HostIDs []uint64 `yaml:"hostids"`
}

type ItemTag struct {
	ItemID uint64 `db:"itemid" yaml:"itemid"`
	Tag    `yaml:",inline"`
}

// Snapshot is a complete configuration loaded into a store at once.
type Snapshot struct {
	Hosts  []Host    `yaml:"hosts"`
	Groups []Group   `yaml:"groups"`
	Items  []Item    `yaml:"items"`
	Tags   []ItemTag `yaml:"tags"`
}

// Validate checks referential integrity of the snapshot.
func (s *Snapshot) Validate() error {
	hosts := make(map[uint64]bool, len(s.Hosts))
	names := make(map[string]bool, len(s.Hosts))
	for _, h := range s.Hosts {
		if h.HostID == 0 {
			return fmt.Errorf("host %q has zero id", h.Host)
		}
		if hosts[h.HostID] {
			return fmt.Errorf("duplicate host id %d", h.HostID)
		}
		if names[h.Host] {
			return fmt.Errorf("duplicate host %q", h.Host)
		}
		hosts[h.HostID] = true
		names[h.Host] = true
	}
	for _, g := range s.Groups {
		for _, id := range g.HostIDs {
			if !hosts[id] {
				return fmt.Errorf("group %q references unknown host id %d", g.Name, id)
			}
		}
	}
	items := make(map[uint64]bool, len(s.Items))
	type hostKey struct {
		hostID uint64
		key    string
	}
	keys := make(map[hostKey]bool, len(s.Items))
	for _, it := range s.Items {
		if it.ItemID == 0 {
			return fmt.Errorf("item %q has zero id", it.Key)
		}
		if items[it.ItemID] {
			return fmt.Errorf("duplicate item id %d", it.ItemID)
		}
		if !hosts[it.HostID] {
			return fmt.Errorf("item %d references unknown host id %d", it.ItemID, it.HostID)
		}
		hk := hostKey{hostID: it.HostID, key: it.Key}
		if keys[hk] {
			return fmt.Errorf("duplicate key %q on host id %d", it.Key, it.HostID)
		}
		items[it.ItemID] = true
		keys[hk] = true
	}
	for _, t := range s.Tags {
		if !items[t.ItemID] {
			return fmt.Errorf("tag %q references unknown item id %d", t.Name, t.ItemID)
		}
	}
	return nil
}
