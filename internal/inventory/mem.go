// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package inventory

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"
)

// MemStore keeps configuration in memory.
type MemStore struct {
	mu     sync.RWMutex
	hosts  map[uint64]Host
	byName map[string]uint64
	groups map[string][]uint64 // sorted host ids
	items  []Item              // sorted by ItemID, host fields filled
	byID   map[uint64]int
	byKey  map[HostKey]int
	tags   map[uint64]Tags
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	s := &MemStore{}
	_ = s.Load(context.Background(), &Snapshot{})
	return s
}

func (s *MemStore) Load(_ context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	hosts := make(map[uint64]Host, len(snap.Hosts))
	byName := make(map[string]uint64, len(snap.Hosts))
	for _, h := range snap.Hosts {
		hosts[h.HostID] = h
		byName[h.Host] = h.HostID
	}
	groups := make(map[string][]uint64, len(snap.Groups))
	for _, g := range snap.Groups {
		ids := append(groups[g.Name], g.HostIDs...)
		slices.Sort(ids)
		groups[g.Name] = slices.Compact(ids)
	}
	items := make([]Item, 0, len(snap.Items))
	for _, it := range snap.Items {
		h := hosts[it.HostID]
		it.Host = h.Host
		it.HostStatus = h.Status
		it.ProxyID = h.ProxyID
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b Item) int {
		switch {
		case a.ItemID < b.ItemID:
			return -1
		case a.ItemID > b.ItemID:
			return 1
		}
		return 0
	})
	byID := make(map[uint64]int, len(items))
	byKey := make(map[HostKey]int, len(items))
	for i, it := range items {
		byID[it.ItemID] = i
		byKey[HostKey{Host: it.Host, Key: it.Key}] = i
	}
	tags := map[uint64]Tags{}
	for _, t := range snap.Tags {
		tags[t.ItemID] = append(tags[t.ItemID], t.Tag)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts, s.byName, s.groups = hosts, byName, groups
	s.items, s.byID, s.byKey, s.tags = items, byID, byKey, tags
	return nil
}

func (s *MemStore) ItemsByHostKeys(_ context.Context, keys []HostKey) ([]Item, []error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Item, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		n, ok := s.byKey[k]
		if !ok {
			errs[i] = ErrNotFound
			continue
		}
		items[i] = s.items[n]
	}
	return items, errs
}

func (s *MemStore) ItemsByIDs(_ context.Context, ids []uint64) ([]Item, []error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Item, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		n, ok := s.byID[id]
		if !ok {
			errs[i] = ErrNotFound
			continue
		}
		items[i] = s.items[n]
	}
	return items, errs
}

func (s *MemStore) HostByID(_ context.Context, hostID uint64) (Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[hostID]
	if !ok {
		return Host{}, ErrNotFound
	}
	return h, nil
}

func (s *MemStore) HostIDsByGroup(_ context.Context, name string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.groups[name]), nil
}

func (s *MemStore) ItemTags(_ context.Context, itemID uint64) (Tags, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tags[itemID]), nil
}

func (s *MemStore) Candidates(_ context.Context, q *CandidateQuery) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Candidate
	for _, it := range s.items {
		switch {
		case q.Host != "" && it.Host != q.Host:
			continue
		case q.Host == "" && q.SelfHostID != 0 && it.HostID != q.SelfHostID:
			continue
		case q.Key != "" && it.Key != q.Key:
			continue
		case q.Key == "" && q.KeyLike != "" && !MatchLike(q.KeyLike, it.Key):
			continue
		}
		if q.Groups != nil && !q.Groups.Match(func(i int) bool {
			if i >= len(q.HostSets) {
				return false
			}
			_, ok := slices.BinarySearch(q.HostSets[i], it.HostID)
			return ok
		}) {
			continue
		}
		res = append(res, Candidate{ItemID: it.ItemID, HostID: it.HostID, Key: it.Key})
	}
	return res, nil
}

// MatchLike reports whether s matches the LIKE pattern where '%' matches any
// sequence, '_' matches a single byte and '\' escapes the next byte.
func MatchLike(pattern string, s string) bool {
	for len(pattern) != 0 {
		c := pattern[0]
		switch c {
		case '%':
			for len(pattern) != 0 && pattern[0] == '%' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if MatchLike(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
		default:
			if c == '\\' && len(pattern) > 1 {
				pattern = pattern[1:]
				c = pattern[0]
			}
			if len(s) == 0 || s[0] != c {
				return false
			}
		}
		pattern = pattern[1:]
		s = s[1:]
	}
	return len(s) == 0
}
